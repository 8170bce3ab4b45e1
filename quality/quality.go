/*
NAME
  quality.go

DESCRIPTION
  quality.go scores frame sharpness with two interchangeable metrics
  (Laplacian variance, Sobel gradient magnitude) and ranks a sequence
  either eagerly (score everything in parallel) or streaming in fixed
  batches, mirroring the two rank_frames_* entry points of the
  reference scorer.
*/

// Package quality scores frame sharpness and ranks a sequence for
// frame selection.
package quality

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"gonum.org/v1/gonum/stat"

	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/source"
)

// Metric selects which sharpness score ScoreFrame computes.
type Metric int

const (
	// Laplacian is the variance of the frame's response to the
	// discrete 3x3 Laplacian kernel. Higher is sharper.
	Laplacian Metric = iota
	// Gradient is the mean Sobel gradient magnitude.
	Gradient
)

// StreamingBatchSize is the number of frames RankStreaming decodes,
// scores, and drops per batch.
const StreamingBatchSize = 8

var laplacianKernel = [3][3]float32{
	{0, 1, 0},
	{1, -4, 1},
	{0, 1, 0},
}

var sobelX = [3][3]float32{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}

var sobelY = [3][3]float32{
	{-1, -2, -1},
	{0, 0, 0},
	{1, 2, 1},
}

// ScoreFrame computes the sharpness of f under metric.
func ScoreFrame(f frame.Frame, metric Metric) float64 {
	switch metric {
	case Gradient:
		return gradientScore(f)
	case Laplacian:
		fallthrough
	default:
		return laplacianVariance(f)
	}
}

func laplacianVariance(f frame.Frame) float64 {
	responses := convolve3x3(f, laplacianKernel)
	return stat.Variance(responses, nil)
}

func gradientScore(f frame.Frame) float64 {
	gx := convolve3x3(f, sobelX)
	gy := convolve3x3(f, sobelY)
	var sum float64
	for i := range gx {
		sum += math.Sqrt(gx[i]*gx[i] + gy[i]*gy[i])
	}
	return sum / float64(len(gx))
}

func convolve3x3(f frame.Frame, kernel [3][3]float32) []float64 {
	h, w := f.Height, f.Width
	out := make([]float64, h*w)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			var sum float32
			for kr := -1; kr <= 1; kr++ {
				for kc := -1; kc <= 1; kc++ {
					rr, cc := clampInt(row+kr, 0, h-1), clampInt(col+kc, 0, w-1)
					sum += f.At(rr, cc) * kernel[kr+1][kc+1]
				}
			}
			out[row*w+col] = float64(sum)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toMono converts a color frame to luminance via BT.601 weights, or
// returns f's own mono frame if it is already single-channel.
func toMono(src source.FrameSource, i int) (frame.Frame, error) {
	if !src.ColorMode().IsColor() {
		return src.ReadFrame(i)
	}
	cf, err := src.ReadFrameColor(i, source.Bilinear)
	if err != nil {
		return frame.Frame{}, err
	}
	return cf.Luminance(), nil
}

// RankEager decodes and scores every frame in src in parallel, sorted
// descending by score (ties broken by ascending original index).
// Intended for sequences whose estimated decoded size fits the
// configured in-memory budget.
func RankEager(src source.FrameSource, metric Metric) ([]frame.Indexed, error) {
	n := src.FrameCount()
	if n == 0 {
		return nil, frame.ErrEmptySequence
	}

	scores := make([]frame.Indexed, n)
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			f, err := toMono(src, i)
			if err != nil {
				return err
			}
			scores[i] = frame.Indexed{Index: i, Score: frame.QualityScore{Metric: metricName(metric), Value: ScoreFrame(f, metric)}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortDescending(scores)
	return scores, nil
}

// RankStreaming scores src in fixed-size batches, decoding, scoring,
// and dropping each batch before moving to the next, so only
// StreamingBatchSize decoded frames are ever resident at once.
func RankStreaming(src source.FrameSource, metric Metric) ([]frame.Indexed, error) {
	n := src.FrameCount()
	if n == 0 {
		return nil, frame.ErrEmptySequence
	}

	scores := make([]frame.Indexed, 0, n)
	for batchStart := 0; batchStart < n; batchStart += StreamingBatchSize {
		batchEnd := batchStart + StreamingBatchSize
		if batchEnd > n {
			batchEnd = n
		}

		batch := make([]frame.Indexed, batchEnd-batchStart)
		g, _ := errgroup.WithContext(context.Background())
		for i := batchStart; i < batchEnd; i++ {
			i := i
			g.Go(func() error {
				f, err := toMono(src, i)
				if err != nil {
					return err
				}
				batch[i-batchStart] = frame.Indexed{Index: i, Score: frame.QualityScore{Metric: metricName(metric), Value: ScoreFrame(f, metric)}}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		scores = append(scores, batch...)
	}

	sortDescending(scores)
	return scores, nil
}

func sortDescending(scores []frame.Indexed) {
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].Score.Value > scores[b].Score.Value
	})
}

func metricName(m Metric) string {
	if m == Gradient {
		return "gradient"
	}
	return "laplacian"
}
