package align

import (
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// computePyramid handles displacements too large for a single FFT's
// half-image wrap-around: it registers a blurred/halved pyramid
// coarsest-first, doubling the accumulated offset at each finer level
// before refining it with a residual phase correlation against that
// level's shifted target.
func computePyramid(reference, target frame.Frame, cfg Config, backend compute.Backend) (frame.AlignmentOffset, error) {
	levels := cfg.PyramidLevels
	if levels < 1 {
		levels = 1
	}

	refPyramid := buildPyramid(reference, levels, cfg.PyramidBlurSigma, backend)
	tgtPyramid := buildPyramid(target, levels, cfg.PyramidBlurSigma, backend)

	coarsest := len(refPyramid) - 1
	offset, err := computePhaseCorrelation(refPyramid[coarsest], tgtPyramid[coarsest], backend)
	if err != nil {
		return frame.AlignmentOffset{}, err
	}

	for level := coarsest - 1; level >= 0; level-- {
		offset.DX *= 2
		offset.DY *= 2

		shifted := Shift(tgtPyramid[level], offset, backend)
		residual, err := computePhaseCorrelation(refPyramid[level], shifted, backend)
		if err != nil {
			return frame.AlignmentOffset{}, err
		}
		offset.DX += residual.DX
		offset.DY += residual.DY
	}
	return offset, nil
}

// buildPyramid returns levels+1 frames, index 0 the original resolution
// and each subsequent index a Gaussian-blurred half-resolution
// downsample of the previous one.
func buildPyramid(f frame.Frame, levels int, sigma float64, backend compute.Backend) []frame.Frame {
	pyramid := make([]frame.Frame, levels+1)
	pyramid[0] = f

	kernel := compute.GaussianKernel1D(sigma)
	current := f
	for lvl := 1; lvl <= levels; lvl++ {
		buf := backend.Upload(append([]float32(nil), current.Data...), current.Height, current.Width)
		blurred := backend.ConvolveSeparable(buf, kernel)
		current = downsample2x(blurred.Slice(), current.Height, current.Width, f.OriginalBitDepth)
		pyramid[lvl] = current
	}
	return pyramid
}

func downsample2x(data []float32, h, w int, bitDepth uint8) frame.Frame {
	h2, w2 := (h+1)/2, (w+1)/2
	if h2 < 1 {
		h2 = 1
	}
	if w2 < 1 {
		w2 = 1
	}

	out := frame.New(h2, w2, bitDepth)
	for row := 0; row < h2; row++ {
		srcRow := 2 * row
		if srcRow >= h {
			srcRow = h - 1
		}
		for col := 0; col < w2; col++ {
			srcCol := 2 * col
			if srcCol >= w {
				srcCol = w - 1
			}
			out.Data[row*w2+col] = data[srcRow*w+srcCol]
		}
	}
	return out
}
