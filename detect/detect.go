/*
NAME
  detect.go

DESCRIPTION
  detect.go finds the single bright compact object (the planet) in a
  frame: Gaussian blur, threshold, morphological opening, connected
  components, largest-component selection, intensity-weighted centroid.
*/

// Package detect locates the planet in a single frame using a
// deterministic blur/threshold/morphology/connected-components
// pipeline.
package detect

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// ThresholdMethod selects how the foreground/background split is
// computed.
type ThresholdMethod int

const (
	// MeanPlusSigma sets the threshold at mean + SigmaMultiplier*stddev.
	MeanPlusSigma ThresholdMethod = iota
	// Otsu maximises between-class variance over a 256-bin histogram.
	Otsu
	// Fixed uses a caller-supplied threshold in [0,1].
	Fixed
)

// OtsuHistogramBins is the bin count Otsu's method quantises into.
const OtsuHistogramBins = 256

// Config parameterises a single Detect call.
type Config struct {
	ThresholdMethod ThresholdMethod
	SigmaMultiplier float64 // default 2.0, used by MeanPlusSigma
	FixedThreshold  float32 // used by Fixed
	BlurSigma       float64 // default 2.5
	MinArea         int     // default 100
}

// DefaultConfig matches the original detector's defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdMethod: Otsu,
		SigmaMultiplier: 2.0,
		BlurSigma:       2.5,
		MinArea:         100,
	}
}

// Result is a single detected object: its intensity-weighted centroid,
// bounding box, and pixel area.
type Result struct {
	CX, CY         float64
	BBoxW, BBoxH   int
	BBoxMinRow     int
	BBoxMinCol     int
	Area           int
}

// Detect runs the blur/threshold/morphology/components pipeline on f
// and returns the largest valid component, or ErrDetectionFailed if
// none qualifies (too small, or touches the frame border).
func Detect(f frame.Frame, cfg Config, backend compute.Backend) (*Result, error) {
	blurred := GaussianBlur(f, cfg.BlurSigma, backend)

	threshold := computeThreshold(blurred, cfg)
	mask := thresholdMask(blurred, threshold)
	mask = morphologicalOpening(mask, blurred.Height, blurred.Width)

	components, labels := connectedComponents(mask, blurred.Height, blurred.Width)
	for _, comp := range components {
		if comp.area < cfg.MinArea {
			continue
		}
		if touchesBorder(comp.bbox, blurred.Height, blurred.Width) {
			continue
		}
		cx, cy := weightedCentroid(blurred, labels, comp)
		return &Result{
			CX:         cx,
			CY:         cy,
			BBoxW:      comp.bbox.maxCol - comp.bbox.minCol + 1,
			BBoxH:      comp.bbox.maxRow - comp.bbox.minRow + 1,
			BBoxMinRow: comp.bbox.minRow,
			BBoxMinCol: comp.bbox.minCol,
			Area:       comp.area,
		}, nil
	}
	return nil, fmt.Errorf("%w: no component >= min area %d clear of the border", frame.ErrDetectionFailed, cfg.MinArea)
}

// GaussianBlur applies a separable Gaussian kernel of the given sigma
// via the compute backend. A sigma <= 0 returns f unchanged. Exported
// for reuse by the auto-crop engine's fallback detection retries.
func GaussianBlur(f frame.Frame, sigma float64, backend compute.Backend) frame.Frame {
	if sigma <= 0 {
		return f.Clone()
	}
	kernel := compute.GaussianKernel1D(sigma)
	buf := compute.FromSlice(append([]float32(nil), f.Data...), f.Height, f.Width)
	out := backend.ConvolveSeparable(buf, kernel)
	return frame.Frame{Data: out.Slice(), Width: f.Width, Height: f.Height, OriginalBitDepth: f.OriginalBitDepth}
}

func computeThreshold(f frame.Frame, cfg Config) float32 {
	switch cfg.ThresholdMethod {
	case MeanPlusSigma:
		data := toFloat64(f.Data)
		mean := stat.Mean(data, nil)
		std := stat.StdDev(data, nil)
		return float32(mean + cfg.SigmaMultiplier*std)
	case Fixed:
		return cfg.FixedThreshold
	case Otsu:
		fallthrough
	default:
		return OtsuThreshold(f.Data)
	}
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// OtsuThreshold finds the histogram bin maximising between-class
// variance over OtsuHistogramBins bins, returning the bin's midpoint
// value in [0,1]. When a run of adjacent bins ties for the maximum
// (empty bins between two classes leave the variance unchanged), the
// middle of that run is used. Exported for reuse by the auto-crop
// engine's fallback threshold retries.
func OtsuThreshold(data []float32) float32 {
	const bins = OtsuHistogramBins
	var histogram [bins]uint64
	for _, v := range data {
		c := v
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		bin := int(c * float32(bins-1))
		if bin >= bins {
			bin = bins - 1
		}
		histogram[bin]++
	}

	total := float64(len(data))
	var sumAll float64
	for i, count := range histogram {
		sumAll += float64(i) * float64(count)
	}

	var weightBg, sumBg, bestVariance float64
	var bestBin, bestBinEnd int
	for i, count := range histogram {
		weightBg += float64(count)
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(i) * float64(count)
		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVariance {
			bestVariance = between
			bestBin = i
			bestBinEnd = i
		} else if between == bestVariance && bestVariance > 0 && bestBinEnd == i-1 {
			bestBinEnd = i
		}
	}
	return (float32(bestBin+bestBinEnd)/2 + 0.5) / float32(bins)
}

func thresholdMask(f frame.Frame, threshold float32) []bool {
	mask := make([]bool, len(f.Data))
	for i, v := range f.Data {
		mask[i] = v >= threshold
	}
	return mask
}

func weightedCentroid(f frame.Frame, labels []int, comp component) (cx, cy float64) {
	var sumW, sumX, sumY float64
	for row := comp.bbox.minRow; row <= comp.bbox.maxRow; row++ {
		base := row * f.Width
		for col := comp.bbox.minCol; col <= comp.bbox.maxCol; col++ {
			if labels[base+col] != comp.label {
				continue
			}
			w := float64(f.Data[base+col])
			sumW += w
			sumX += w * float64(col)
			sumY += w * float64(row)
		}
	}
	if sumW == 0 {
		return float64(comp.bbox.minCol+comp.bbox.maxCol) / 2, float64(comp.bbox.minRow+comp.bbox.maxRow) / 2
	}
	return sumX / sumW, sumY / sumW
}
