/*
NAME
  sharpen.go

DESCRIPTION
  sharpen.go decomposes a frame into a-trous wavelet detail layers plus a
  residual, then reconstructs it with a per-layer gain and optional
  soft-threshold denoise. With unit coefficients and no denoise,
  reconstruction is the identity transform (within floating-point
  tolerance).
*/

// Package sharpen implements à-trous wavelet decomposition and
// reconstruction, the final stage of the stacking pipeline.
package sharpen

import (
	"fmt"
	"math"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// Params configures the wavelet transform: layer count, one gain
// coefficient per layer (>1 sharpens, <1 suppresses, 1.0 unchanged) and
// an optional soft-threshold denoise value per layer (0 disables
// denoise for that layer).
type Params struct {
	NumLayers    int
	Coefficients []float32
	Denoise      []float32
}

// DefaultParams matches the original sharpener's defaults: six layers
// with a gently decreasing gain schedule, no denoise.
func DefaultParams() Params {
	return Params{
		NumLayers:    DefaultNumLayers,
		Coefficients: append([]float32(nil), DefaultCoefficients...),
	}
}

// Defaults mirror the reference wavelet sharpener's constants.
const DefaultNumLayers = 6

// DefaultCoefficients is the default per-layer gain schedule.
var DefaultCoefficients = []float32{1.5, 1.3, 1.2, 1.1, 1.0, 1.0}

// Decomposition holds the detail layers and residual produced by
// Decompose. Reconstruct consumes exactly this pair.
type Decomposition struct {
	Layers   []frame.Frame
	Residual frame.Frame
}

// Decompose runs numLayers rounds of à-trous smoothing: at scale k it
// smooths the running image with the B3-spline kernel dilated by 2^k,
// stores the difference as a detail layer, and carries the smoothed
// image forward. The final smoothed image is the residual. The
// invariant sum(layers) + residual == input holds to floating-point
// precision.
func Decompose(f frame.Frame, numLayers int, backend compute.Backend) Decomposition {
	layers := make([]frame.Frame, numLayers)
	current := backend.Upload(append([]float32(nil), f.Data...), f.Height, f.Width)

	for scale := 0; scale < numLayers; scale++ {
		smoothed := backend.AtrousConvolve(current, scale)
		detail := frame.New(f.Height, f.Width, f.OriginalBitDepth)
		curData := backend.Download(current)
		smoothData := backend.Download(smoothed)
		for i := range detail.Data {
			detail.Data[i] = curData[i] - smoothData[i]
		}
		layers[scale] = detail
		current = smoothed
	}

	residual := frame.Frame{
		Data:             backend.Download(current),
		Width:            f.Width,
		Height:           f.Height,
		OriginalBitDepth: f.OriginalBitDepth,
	}
	return Decomposition{Layers: layers, Residual: residual}
}

// Reconstruct sums the residual with each detail layer scaled by its
// coefficient (and, if the corresponding denoise threshold is
// positive, soft-thresholded first), clamping the final result to
// [0,1]. coefficients/denoise shorter than len(layers) default their
// missing entries to 1.0 and 0.0 respectively.
func Reconstruct(d Decomposition, coefficients, denoise []float32) frame.Frame {
	out := d.Residual.Clone()
	for i, layer := range d.Layers {
		coeff := coeffAt(coefficients, i, 1.0)
		threshold := coeffAt(denoise, i, 0.0)
		for p := range out.Data {
			w := layer.Data[p]
			if threshold > 0 {
				w = softThreshold(w, threshold)
			}
			out.Data[p] += w * coeff
		}
	}
	for i, v := range out.Data {
		out.Data[i] = clamp01(v)
	}
	return out
}

// Sharpen decomposes f into numLayers wavelet layers and immediately
// reconstructs it under params, the usual single-call entry point for
// the orchestrator's final pipeline stage.
func Sharpen(f frame.Frame, params Params, backend compute.Backend) (frame.Frame, error) {
	if params.NumLayers <= 0 {
		return frame.Frame{}, fmt.Errorf("%w: wavelet num_layers must be positive, got %d", frame.ErrSourceInvalid, params.NumLayers)
	}
	d := Decompose(f, params.NumLayers, backend)
	return Reconstruct(d, params.Coefficients, params.Denoise), nil
}

func softThreshold(w, threshold float32) float32 {
	abs := float32(math.Abs(float64(w)))
	if abs <= threshold {
		return 0
	}
	sign := float32(1)
	if w < 0 {
		sign = -1
	}
	return sign * (abs - threshold)
}

func coeffAt(s []float32, i int, def float32) float32 {
	if i < len(s) {
		return s[i]
	}
	return def
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
