package stack

import (
	"math"

	"github.com/lucky-imaging/jupiter/frame"
)

// SigmaClipParams parameterises SigmaClipStack.
type SigmaClipParams struct {
	Iterations int     // default 2
	Sigma      float32 // default 2.5
}

// DefaultSigmaClipParams matches the original stacker's defaults.
func DefaultSigmaClipParams() SigmaClipParams {
	return SigmaClipParams{Iterations: 2, Sigma: 2.5}
}

// SigmaClipStack computes a per-pixel mean with iterative outlier
// rejection: each round drops samples more than Sigma standard
// deviations from the mean of the currently-surviving samples, then
// recomputes. If every sample is eventually rejected, that pixel falls
// back to the unclipped mean of all samples.
func SigmaClipStack(frames []frame.Frame, params SigmaClipParams) (frame.Frame, error) {
	if err := validateFrames(frames); err != nil {
		return frame.Frame{}, err
	}
	h, w := frames[0].Height, frames[0].Width
	n := len(frames)
	out := frame.New(h, w, frames[0].OriginalBitDepth)

	values := make([]float32, n)
	mask := make([]bool, n)

	for row := 0; row < h; row++ {
		base := row * w
		for col := 0; col < w; col++ {
			for i, f := range frames {
				values[i] = f.Data[base+col]
				mask[i] = true
			}

			for iter := 0; iter < params.Iterations; iter++ {
				mean, stddev := meanStddevMasked(values, mask)
				if stddev < 1e-10 {
					break
				}
				lo := mean - params.Sigma*stddev
				hi := mean + params.Sigma*stddev
				for i, v := range values {
					if mask[i] && (v < lo || v > hi) {
						mask[i] = false
					}
				}
			}

			var sum float32
			var count int
			for i, v := range values {
				if mask[i] {
					sum += v
					count++
				}
			}
			if count > 0 {
				out.Data[base+col] = sum / float32(count)
			} else {
				var full float32
				for _, v := range values {
					full += v
				}
				out.Data[base+col] = full / float32(n)
			}
		}
	}
	return out, nil
}

func meanStddevMasked(values []float32, mask []bool) (mean, stddev float32) {
	var sum float32
	var count int
	for i, v := range values {
		if mask[i] {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	mean = sum / float32(count)

	var varSum float32
	for i, v := range values {
		if mask[i] {
			d := v - mean
			varSum += d * d
		}
	}
	stddev = float32(math.Sqrt(float64(varSum / float32(count))))
	return mean, stddev
}
