package stack

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// MedianStack computes the per-pixel median via quickselect (O(n) per
// pixel rather than a full sort), row-parallelised with errgroup once
// the image crosses compute.ParallelPixelThreshold.
func MedianStack(frames []frame.Frame) (frame.Frame, error) {
	if err := validateFrames(frames); err != nil {
		return frame.Frame{}, err
	}
	h, w := frames[0].Height, frames[0].Width
	n := len(frames)
	out := frame.New(h, w, frames[0].OriginalBitDepth)

	medianRow := func(row int) {
		base := row * w
		values := make([]float32, n)
		for col := 0; col < w; col++ {
			for i, f := range frames {
				values[i] = f.Data[base+col]
			}
			out.Data[base+col] = medianOf(values)
		}
	}

	if h*w >= compute.ParallelPixelThreshold && n > 1 {
		g, _ := errgroup.WithContext(context.Background())
		workers := runtime.GOMAXPROCS(0)
		if workers > h {
			workers = h
		}
		if workers < 1 {
			workers = 1
		}
		chunk := (h + workers - 1) / workers
		for wk := 0; wk < workers; wk++ {
			start := wk * chunk
			end := start + chunk
			if end > h {
				end = h
			}
			if start >= end {
				continue
			}
			g.Go(func() error {
				for row := start; row < end; row++ {
					medianRow(row)
				}
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for row := 0; row < h; row++ {
			medianRow(row)
		}
	}
	return out, nil
}

// medianOf destructively reorders values and returns the median, using
// quickselect instead of a full sort: a single nth-element pass for odd
// n, two for even n (the upper-half minimum doubles as the lower half's
// maximum search).
func medianOf(values []float32) float32 {
	n := len(values)
	if n == 1 {
		return values[0]
	}
	mid := n / 2
	if n%2 == 1 {
		return quickselect(values, mid)
	}
	upper := quickselect(values, mid)
	lower := quickselect(values[:mid], mid-1)
	return (lower + upper) / 2
}

// quickselect reorders values in place so that values[k] holds the
// value that would appear at index k if values were fully sorted
// (Hoare-style partitioning), and returns it.
func quickselect(values []float32, k int) float32 {
	lo, hi := 0, len(values)-1
	for lo < hi {
		p := partition(values, lo, hi)
		switch {
		case p == k:
			return values[p]
		case k < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
	return values[lo]
}

func partition(values []float32, lo, hi int) int {
	pivot := values[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if values[j] < pivot {
			values[i], values[j] = values[j], values[i]
			i++
		}
	}
	values[i], values[hi] = values[hi], values[i]
	return i
}
