/*
NAME
  blur.go

DESCRIPTION
  blur.go implements separable Gaussian blur via compute.Backend, the
  same row-then-column convolution primitive the detector's blur and
  the aligner's pyramid levels already use.
*/

package postfilter

import (
	"math"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// GaussianBlur applies a separable Gaussian blur of the given sigma.
type GaussianBlur struct {
	Sigma   float32
	Backend compute.Backend
}

func (g GaussianBlur) Apply(f frame.Frame) frame.Frame {
	return gaussianBlurFrame(f, g.Sigma, g.Backend)
}

func gaussianBlurFrame(f frame.Frame, sigma float32, backend compute.Backend) frame.Frame {
	kernel := gaussianKernel(sigma)
	buf := backend.Upload(f.Data, f.Height, f.Width)
	blurred := backend.ConvolveSeparable(buf, kernel)
	out := f.Clone()
	out.Data = backend.Download(blurred)
	return out
}

func gaussianKernel(sigma float32) []float32 {
	radius := int(math.Ceil(float64(sigma) * 3))
	size := 2*radius + 1
	kernel := make([]float32, size)
	s2 := 2 * sigma * sigma
	var sum float32
	for i := range kernel {
		x := float32(i - radius)
		v := float32(math.Exp(float64(-x * x / s2)))
		kernel[i] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}
