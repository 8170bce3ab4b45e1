package align

import (
	"math"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// computeEnhancedPhase replaces the paraboloid fit with a
// Guizar-Sicairos-style upsampled-DFT search: rather than upsample the
// whole correlation surface, it evaluates the inverse DFT directly at a
// dense grid of fractional offsets around the coarse integer peak,
// separated into a per-row partial sum so the cost stays linear in the
// search grid size rather than quadratic.
func computeEnhancedPhase(reference, target frame.Frame, cfg Config, backend compute.Backend) (frame.AlignmentOffset, error) {
	h, w := reference.Height, reference.Width

	refWin := backend.HannWindow(toBuffer(reference, backend))
	tgtWin := backend.HannWindow(toBuffer(target, backend))
	refFFT := backend.FFT2D(refWin)
	tgtFFT := backend.FFT2D(tgtWin)
	cross := backend.CrossPowerSpectrum(refFFT, tgtFFT, epsilon)

	surface := backend.IFFT2DReal(cross, h, w)
	row, col, _ := backend.FindPeak(surface)
	coarseDY := wrapOffset(row, h)
	coarseDX := wrapOffset(col, w)

	upsample := cfg.Upsample
	if upsample < 1 {
		upsample = DefaultUpsample
	}
	window := cfg.SearchWindow
	if window <= 0 {
		window = DefaultSearchWindow
	}

	data := backend.Download(cross)
	dy, dx := refineUpsampledPeak(data, h, w, coarseDY, coarseDX, window, upsample)
	return frame.AlignmentOffset{DX: dx, DY: dy}, nil
}

// refineUpsampledPeak evaluates x(dy,dx) = (1/HW) sum_{u,v} cross[u,v]
// exp(i2pi(u*dy/H + v*dx/W)) -- the inverse DFT generalised to
// non-integer (dy,dx), with u and v taken as signed frequencies (indices
// above H/2 and W/2 wrap to negative) -- over a dense grid centred on
// the coarse peak, and returns the argmax of its real part.
func refineUpsampledPeak(cross []float32, h, w int, coarseDY, coarseDX, window float64, upsample int) (dy, dx float64) {
	step := 1.0 / float64(upsample)
	steps := int(window/step + 0.5)

	bestVal := math.Inf(-1)
	bestDY, bestDX := coarseDY, coarseDX

	for j := -steps; j <= steps; j++ {
		candidateDX := coarseDX + float64(j)*step

		// Partial sum over columns for each row, at this dx.
		rowSumRe := make([]float64, h)
		rowSumIm := make([]float64, h)
		for u := 0; u < h; u++ {
			base := u * 2 * w
			var sumRe, sumIm float64
			for v := 0; v < w; v++ {
				re := float64(cross[base+2*v])
				im := float64(cross[base+2*v+1])
				fv := v
				if v > w/2 {
					fv -= w
				}
				ang := 2 * math.Pi * float64(fv) * candidateDX / float64(w)
				c, s := math.Cos(ang), math.Sin(ang)
				sumRe += re*c - im*s
				sumIm += re*s + im*c
			}
			rowSumRe[u] = sumRe
			rowSumIm[u] = sumIm
		}

		for i := -steps; i <= steps; i++ {
			candidateDY := coarseDY + float64(i)*step

			var total float64
			for u := 0; u < h; u++ {
				fu := u
				if u > h/2 {
					fu -= h
				}
				ang := 2 * math.Pi * float64(fu) * candidateDY / float64(h)
				c, s := math.Cos(ang), math.Sin(ang)
				total += rowSumRe[u]*c - rowSumIm[u]*s
			}
			val := total / float64(h*w)
			if val > bestVal {
				bestVal = val
				bestDY, bestDX = candidateDY, candidateDX
			}
		}
	}
	return bestDY, bestDX
}
