package align

import (
	"math"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

var (
	sobelGX = [3][3]float32{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelGY = [3][3]float32{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// computeGradientCorrelation runs phase correlation on Sobel gradient
// magnitude images rather than raw intensities, which tends to survive
// seeing-driven brightness flicker better than correlating intensities
// directly.
func computeGradientCorrelation(reference, target frame.Frame, backend compute.Backend) (frame.AlignmentOffset, error) {
	refGrad := sobelMagnitude(reference)
	tgtGrad := sobelMagnitude(target)

	surface, row, col, _ := correlationSurface(refGrad, tgtGrad, backend)
	deltaRow, deltaCol := refinePeakParaboloid(surface, row, col)

	dy := wrapOffset(row, reference.Height) + deltaRow
	dx := wrapOffset(col, reference.Width) + deltaCol
	return frame.AlignmentOffset{DX: dx, DY: dy}, nil
}

func sobelMagnitude(f frame.Frame) frame.Frame {
	out := frame.New(f.Height, f.Width, f.OriginalBitDepth)
	for row := 0; row < f.Height; row++ {
		base := row * f.Width
		for col := 0; col < f.Width; col++ {
			gx := sobelAt(f, row, col, sobelGX)
			gy := sobelAt(f, row, col, sobelGY)
			out.Data[base+col] = float32(math.Hypot(float64(gx), float64(gy)))
		}
	}
	return out
}

func sobelAt(f frame.Frame, row, col int, kernel [3][3]float32) float32 {
	var sum float32
	for kr := -1; kr <= 1; kr++ {
		rr := clampAxis(row+kr, f.Height-1)
		for kc := -1; kc <= 1; kc++ {
			cc := clampAxis(col+kc, f.Width-1)
			sum += f.At(rr, cc) * kernel[kr+1][kc+1]
		}
	}
	return sum
}

func clampAxis(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
