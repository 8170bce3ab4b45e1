/*
NAME
  report.go

DESCRIPTION
  report.go renders a diagnostic PNG of per-frame quality scores versus
  the selection cutoff, using gonum/plot -- a dependency the teacher's
  go.mod already carries but never imports. Wiring it here gives the
  quality stage a visual sanity check a stacking run can be reviewed
  against after the fact.
*/

package quality

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/lucky-imaging/jupiter/frame"
)

// WriteReport plots ranked's scores in original-frame-index order,
// with a horizontal line marking the cutoff that separates the top
// selectCount frames from the rest, and saves it as a PNG at path.
func WriteReport(ranked []frame.Indexed, selectCount int, path string) error {
	if len(ranked) == 0 {
		return fmt.Errorf("%w: no scores to plot", frame.ErrEmptySequence)
	}

	byIndex := make([]frame.Indexed, len(ranked))
	copy(byIndex, ranked)
	sort.Slice(byIndex, func(a, b int) bool { return byIndex[a].Index < byIndex[b].Index })

	pts := make(plotter.XYs, len(byIndex))
	for i, s := range byIndex {
		pts[i].X = float64(s.Index)
		pts[i].Y = s.Score.Value
	}

	p := plot.New()
	p.Title.Text = "Frame quality"
	p.X.Label.Text = "Frame index"
	p.Y.Label.Text = fmt.Sprintf("%s score", ranked[0].Score.Metric)

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("%w: building quality plot: %v", frame.ErrIO, err)
	}
	p.Add(line, points)

	if selectCount > 0 && selectCount <= len(byIndex) {
		cutoffValue := cutoffScore(ranked, selectCount)
		cutoff, err := plotter.NewLine(plotter.XYs{
			{X: 0, Y: cutoffValue},
			{X: float64(byIndex[len(byIndex)-1].Index), Y: cutoffValue},
		})
		if err == nil {
			cutoff.Color = plotter.DefaultLineStyle.Color
			cutoff.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
			p.Add(cutoff)
			p.Legend.Add("selection cutoff", cutoff)
		}
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("%w: saving quality plot to %s: %v", frame.ErrIO, path, err)
	}
	return nil
}

// cutoffScore returns the score value of the lowest-ranked frame among
// the top selectCount entries of ranked (which must already be sorted
// descending).
func cutoffScore(ranked []frame.Indexed, selectCount int) float64 {
	if selectCount > len(ranked) {
		selectCount = len(ranked)
	}
	return ranked[selectCount-1].Score.Value
}
