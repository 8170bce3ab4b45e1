/*
NAME
  align.go

DESCRIPTION
  align.go dispatches sub-pixel frame-to-frame registration across five
  interchangeable methods -- phase correlation, enhanced (upsampled-DFT)
  phase correlation, intensity centroid, gradient correlation, and a
  coarse-to-fine Gaussian pyramid -- all returning the same
  frame.AlignmentOffset type so the stacker and multi-point patch
  engine never need to know which method produced an offset.
*/

// Package align computes sub-pixel translation offsets between a
// reference frame and a target frame, and applies those offsets via
// bilinear resampling.
package align

import (
	"fmt"
	"math"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// Method selects which registration algorithm ComputeOffset dispatches
// to.
type Method int

const (
	// PhaseCorrelation is the default: FFT cross-power spectrum with
	// paraboloid sub-pixel peak refinement.
	PhaseCorrelation Method = iota
	// EnhancedPhase replaces the paraboloid refinement with a
	// Guizar-Sicairos upsampled-DFT search around the coarse peak.
	EnhancedPhase
	// Centroid registers by intensity-weighted center of mass.
	Centroid
	// GradientCorrelation runs phase correlation on Sobel gradient
	// magnitude images instead of raw intensities.
	GradientCorrelation
	// Pyramid handles displacements larger than the FFT half-image
	// wrap-around by accumulating offsets coarse-to-fine.
	Pyramid
)

func (m Method) String() string {
	switch m {
	case PhaseCorrelation:
		return "PhaseCorrelation"
	case EnhancedPhase:
		return "EnhancedPhase"
	case Centroid:
		return "Centroid"
	case GradientCorrelation:
		return "GradientCorrelation"
	case Pyramid:
		return "Pyramid"
	default:
		return "Unknown"
	}
}

// Point is a multi-point alignment patch center: an integer (cy, cx)
// plus a stable index into the alignment-point grid.
type Point struct {
	CY, CX, Index int
}

// Config parameterises ComputeOffset. Only the fields relevant to the
// selected Method are consulted.
type Config struct {
	Method Method

	// EnhancedPhase parameters.
	Upsample     int     // default 20
	SearchWindow float64 // default 1.5 px

	// Centroid parameters.
	CentroidThreshold float32 // default 0.1

	// Pyramid parameters.
	PyramidLevels    int     // default 3
	PyramidBlurSigma float64 // default 1.0
}

// DefaultConfig returns PhaseCorrelation with the spec's default
// per-method parameters, so callers switching Method need only
// override what they care about.
func DefaultConfig() Config {
	return Config{
		Method:            PhaseCorrelation,
		Upsample:          DefaultUpsample,
		SearchWindow:      DefaultSearchWindow,
		CentroidThreshold: DefaultCentroidThreshold,
		PyramidLevels:     DefaultPyramidLevels,
		PyramidBlurSigma:  DefaultPyramidBlurSigma,
	}
}

// Defaults mirror the original aligner's constants.
const (
	DefaultUpsample          = 20
	DefaultSearchWindow      = 1.5
	DefaultCentroidThreshold = 0.1
	DefaultPyramidLevels     = 3
	DefaultPyramidBlurSigma  = 1.0
	epsilon                  = 1e-10
)

// ComputeOffset registers target against reference under cfg.Method,
// returning the offset such that Shift(target, offset) aligns it with
// reference. Reference and target must share the same shape.
func ComputeOffset(reference, target frame.Frame, cfg Config, backend compute.Backend) (frame.AlignmentOffset, error) {
	if reference.Width != target.Width || reference.Height != target.Height {
		return frame.AlignmentOffset{}, fmt.Errorf("%w: reference %dx%d vs target %dx%d",
			frame.ErrSourceInvalid, reference.Width, reference.Height, target.Width, target.Height)
	}

	switch cfg.Method {
	case EnhancedPhase:
		return computeEnhancedPhase(reference, target, cfg, backend)
	case Centroid:
		return computeCentroid(reference, target, cfg)
	case GradientCorrelation:
		return computeGradientCorrelation(reference, target, backend)
	case Pyramid:
		return computePyramid(reference, target, cfg, backend)
	case PhaseCorrelation:
		fallthrough
	default:
		return computePhaseCorrelation(reference, target, backend)
	}
}

// Shift translates target by offset using bilinear resampling, with
// zero-padding for out-of-bounds samples. It is the single shift
// primitive reused by the stacker and the multi-point patch extractor.
func Shift(f frame.Frame, offset frame.AlignmentOffset, backend compute.Backend) frame.Frame {
	buf := backend.Upload(append([]float32(nil), f.Data...), f.Height, f.Width)
	out := backend.ShiftBilinear(buf, offset.DX, offset.DY)
	return frame.Frame{Data: backend.Download(out), Width: f.Width, Height: f.Height, OriginalBitDepth: f.OriginalBitDepth}
}

func toBuffer(f frame.Frame, backend compute.Backend) compute.Buffer {
	return backend.Upload(append([]float32(nil), f.Data...), f.Height, f.Width)
}

// correlationSurface runs Hann-windowed FFT phase correlation between
// reference and target and returns the real correlation surface plus
// its (coarse) peak location.
//
// The cross-power spectrum is built as reference . conj(target): if
// target is reference shifted forward by d (target(x) = reference(x-d)),
// this operand order places the correlation peak at -d, which is
// exactly the AlignmentOffset this package's convention requires
// (Shift(target, offset) must move target's content backward by d to
// recover reference, and Shift moves content forward by its argument
// -- see compute.Backend.ShiftBilinear). Swapping the operand order
// would place the peak at +d and silently invert every alignment.
func correlationSurface(reference, target frame.Frame, backend compute.Backend) (compute.Buffer, int, int, float64) {
	h, w := reference.Height, reference.Width

	refWin := backend.HannWindow(toBuffer(reference, backend))
	tgtWin := backend.HannWindow(toBuffer(target, backend))

	refFFT := backend.FFT2D(refWin)
	tgtFFT := backend.FFT2D(tgtWin)

	cross := backend.CrossPowerSpectrum(refFFT, tgtFFT, epsilon)
	surface := backend.IFFT2DReal(cross, h, w)

	row, col, val := backend.FindPeak(surface)
	return surface, row, col, val
}

// wrapOffset converts a 0-origin correlation-surface peak into a
// signed translation: coordinates in the upper half wrap to negative
// displacements (phase correlation returns an offset modulo image
// size).
func wrapOffset(peak, size int) float64 {
	if peak > size/2 {
		return float64(peak - size)
	}
	return float64(peak)
}

func computePhaseCorrelation(reference, target frame.Frame, backend compute.Backend) (frame.AlignmentOffset, error) {
	surface, row, col, _ := correlationSurface(reference, target, backend)

	deltaRow, deltaCol := refinePeakParaboloid(surface, row, col)

	dy := wrapOffset(row, reference.Height) + deltaRow
	dx := wrapOffset(col, reference.Width) + deltaCol
	return frame.AlignmentOffset{DX: dx, DY: dy}, nil
}

// refinePeakParaboloid fits a 1D parabola through the three samples
// centred on the peak on each axis independently, returning the
// sub-pixel delta. Refinement is skipped (returns 0 on that axis) when
// the peak sits on the surface border or the fit is degenerate.
func refinePeakParaboloid(surface compute.Buffer, peakRow, peakCol int) (deltaRow, deltaCol float64) {
	h, w := surface.Height, surface.Width
	data := surface.Slice()

	if peakRow > 0 && peakRow < h-1 {
		yPrev := float64(data[(peakRow-1)*w+peakCol])
		yCurr := float64(data[peakRow*w+peakCol])
		yNext := float64(data[(peakRow+1)*w+peakCol])
		denom := yPrev - 2*yCurr + yNext
		if math.Abs(denom) > 1e-12 {
			deltaRow = clampAbs((yPrev-yNext)/(2*denom), 0.5)
		}
	}

	if peakCol > 0 && peakCol < w-1 {
		xPrev := float64(data[peakRow*w+peakCol-1])
		xCurr := float64(data[peakRow*w+peakCol])
		xNext := float64(data[peakRow*w+peakCol+1])
		denom := xPrev - 2*xCurr + xNext
		if math.Abs(denom) > 1e-12 {
			deltaCol = clampAbs((xPrev-xNext)/(2*denom), 0.5)
		}
	}

	return deltaRow, deltaCol
}

func clampAbs(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
