/*
NAME
  stack.go

DESCRIPTION
  stack.go combines an aligned frame sequence into a single frame: plain
  mean (eager or streaming), sigma-clipped mean, pixelwise median, or the
  multi-point alignment-point grid used for wide-field/turbulent seeing.
  A synthetic mean reference can also be built from the top-quality
  frames of a sequence before any of these run.
*/

// Package stack combines an aligned sequence of frames into a single
// stacked frame using one of several pixelwise combination methods.
package stack

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lucky-imaging/jupiter/align"
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/quality"
)

// Method selects the pixelwise combination rule used to flatten a frame
// sequence.
type Method int

const (
	// Mean is the plain per-pixel average.
	Mean Method = iota
	// Median is the per-pixel median (quickselect, row-parallel).
	Median
	// SigmaClip is an iteratively outlier-rejected per-pixel mean.
	SigmaClip
	// MultiPoint stacks independently per alignment-point patch,
	// blended back together with a cosine partition of unity.
	MultiPoint
)

func (m Method) String() string {
	switch m {
	case Mean:
		return "Mean"
	case Median:
		return "Median"
	case SigmaClip:
		return "SigmaClip"
	case MultiPoint:
		return "MultiPoint"
	default:
		return "Unknown"
	}
}

func validateFrames(frames []frame.Frame) error {
	if len(frames) == 0 {
		return frame.ErrEmptySequence
	}
	h, w := frames[0].Height, frames[0].Width
	for i, f := range frames {
		if f.Height != h || f.Width != w {
			return &frameShapeError{index: i, height: f.Height, width: f.Width, wantHeight: h, wantWidth: w}
		}
	}
	return nil
}

// MeanStack computes the per-pixel arithmetic mean of frames.
func MeanStack(frames []frame.Frame) (frame.Frame, error) {
	if err := validateFrames(frames); err != nil {
		return frame.Frame{}, err
	}
	h, w := frames[0].Height, frames[0].Width
	out := frame.New(h, w, frames[0].OriginalBitDepth)

	n := float32(len(frames))
	for _, f := range frames {
		for i, v := range f.Data {
			out.Data[i] += v
		}
	}
	for i := range out.Data {
		out.Data[i] /= n
	}
	return out, nil
}

// StreamingMean accumulates a running per-pixel sum in O(H*W) memory
// regardless of frame count, so callers can decode, add, and drop one
// frame at a time.
type StreamingMean struct {
	sum      []float64
	height   int
	width    int
	bitDepth uint8
	count    int
}

// NewStreamingMean allocates an accumulator for frames of the given
// shape.
func NewStreamingMean(height, width int, bitDepth uint8) *StreamingMean {
	return &StreamingMean{sum: make([]float64, height*width), height: height, width: width, bitDepth: bitDepth}
}

// Add folds f into the running sum. f must match the accumulator's
// shape.
func (s *StreamingMean) Add(f frame.Frame) {
	for i, v := range f.Data {
		s.sum[i] += float64(v)
	}
	s.count++
}

// Finalize divides the running sum by the number of frames added and
// returns the mean-stacked frame.
func (s *StreamingMean) Finalize() (frame.Frame, error) {
	if s.count == 0 {
		return frame.Frame{}, frame.ErrEmptySequence
	}
	out := frame.New(s.height, s.width, s.bitDepth)
	n := float64(s.count)
	for i, v := range s.sum {
		out.Data[i] = float32(v / n)
	}
	return out, nil
}

// BuildMeanReference scores every frame in frames with metric, keeps the top
// keepFraction (ceil, minimum 1), shifts each by its precomputed global
// offset and averages them -- a synthetic reference less biased toward
// any single atmospheric moment than frame 0 alone.
func BuildMeanReference(frames []frame.Frame, offsets []frame.AlignmentOffset, metric quality.Metric, keepFraction float32, backend compute.Backend) (frame.Frame, error) {
	if len(frames) == 0 {
		return frame.Frame{}, frame.ErrEmptySequence
	}
	if len(offsets) != len(frames) {
		return frame.Frame{}, &offsetCountError{got: len(offsets), want: len(frames)}
	}

	type scored struct {
		index int
		value float64
	}
	scores := make([]scored, len(frames))
	for i, f := range frames {
		scores[i] = scored{index: i, value: quality.ScoreFrame(f, metric)}
	}
	sort.Slice(scores, func(a, b int) bool { return scores[a].value > scores[b].value })

	keep := ceilPercentage(len(frames), keepFraction)
	scores = scores[:keep]

	h, w := frames[0].Height, frames[0].Width
	accumulator := make([]float64, h*w)
	for _, s := range scores {
		shifted := frames[s.index]
		if s.index != 0 || offsets[s.index] != (frame.AlignmentOffset{}) {
			shifted = align.Shift(frames[s.index], offsets[s.index], backend)
		}
		for i, v := range shifted.Data {
			accumulator[i] += float64(v)
		}
	}

	out := frame.New(h, w, frames[0].OriginalBitDepth)
	n := float64(len(scores))
	for i, v := range accumulator {
		out.Data[i] = float32(v / n)
	}
	return out, nil
}

func ceilPercentage(total int, fraction float32) int {
	keep := int(math.Ceil(float64(total) * float64(fraction)))
	if keep < 1 {
		keep = 1
	}
	if keep > total {
		keep = total
	}
	return keep
}

// StackColor runs fn independently on each of a color frame's three
// channels, fanned out with an errgroup.
func StackColor(r, g, b []frame.Frame, fn func([]frame.Frame) (frame.Frame, error)) (frame.ColorFrame, error) {
	var out frame.ColorFrame
	g_, _ := errgroup.WithContext(context.Background())
	g_.Go(func() (err error) { out.R, err = fn(r); return })
	g_.Go(func() (err error) { out.G, err = fn(g); return })
	g_.Go(func() (err error) { out.B, err = fn(b); return })
	if err := g_.Wait(); err != nil {
		return frame.ColorFrame{}, err
	}
	return out, nil
}
