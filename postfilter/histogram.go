/*
NAME
  histogram.go

DESCRIPTION
  histogram.go implements linear and percentile-based (auto) histogram
  stretching, mapping a [black, white] intensity range onto [0,1].
*/

package postfilter

import (
	"sort"

	"github.com/lucky-imaging/jupiter/frame"
)

const histogramEpsilon = 1e-6

// HistogramStretch linearly maps [Black, White] onto [0,1], clamping
// outside that range.
type HistogramStretch struct {
	Black float32
	White float32
}

func (h HistogramStretch) Apply(f frame.Frame) frame.Frame {
	out := f.Clone()
	stretchInto(out.Data, f.Data, h.Black, h.White)
	return out
}

// AutoStretch derives Black/White from the LowPercentile and
// HighPercentile order statistics of the frame's own pixel data, then
// stretches. Percentiles are in [0,1]; the reference defaults are
// 0.001 and 0.999.
type AutoStretch struct {
	LowPercentile  float32
	HighPercentile float32
}

func (a AutoStretch) Apply(f frame.Frame) frame.Frame {
	sorted := append([]float32(nil), f.Data...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	lo := clampIndex(int(float32(n)*a.LowPercentile), n)
	hi := clampIndex(int(float32(n)*a.HighPercentile), n)

	out := f.Clone()
	stretchInto(out.Data, f.Data, sorted[lo], sorted[hi])
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func stretchInto(dst, src []float32, black, white float32) {
	rng := white - black
	abs := rng
	if abs < 0 {
		abs = -abs
	}
	if abs < histogramEpsilon {
		rng = 1
	}
	for i, v := range src {
		dst[i] = clamp01((v - black) / rng)
	}
}
