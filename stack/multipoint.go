/*
NAME
  multipoint.go

DESCRIPTION
  multipoint.go stacks a sequence independently over a grid of
  alignment-point (AP) patches rather than the whole frame: each patch
  is globally pre-aligned, locally refined with its own phase
  correlation, ranked by per-patch quality, stacked, and blended back
  into the full frame with an overlapping cosine (Hann) window so
  adjoining patches sum to a partition of unity. This recovers detail
  lost to spatially-varying seeing that a single whole-frame offset
  cannot correct.
*/

package stack

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lucky-imaging/jupiter/align"
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/quality"
)

// Defaults mirror the original multi-point engine's constants.
const (
	AutoAPDivisor    = 8
	AutoAPSizeMin    = 32
	AutoAPSizeMax    = 256
	AutoAPSizeAlign  = 8
	DefaultAPSize    = 64
	DefaultSearchRadius = 16
)

// LocalStackMethod selects how each AP's selected, locally-refined
// patches are combined. Only Mean, Median and SigmaClip are meaningful
// here; MultiPoint itself is never nested.
type LocalStackMethod struct {
	Method    Method
	SigmaClip SigmaClipParams
}

// DefaultLocalStackMethod matches the original engine's default.
func DefaultLocalStackMethod() LocalStackMethod {
	return LocalStackMethod{Method: Mean, SigmaClip: DefaultSigmaClipParams()}
}

// MultiPointConfig parameterises MultiPointStack.
type MultiPointConfig struct {
	APSize            int             // region size in pixels, default 64
	SearchRadius       int            // local refinement padding, default 16
	SelectPercentage   float32        // fraction of frames kept per AP, default 0.25
	MinBrightness      float32        // skip APs below this reference mean, default 0.05
	QualityMetric      quality.Metric
	LocalStackMethod   LocalStackMethod
}

// DefaultMultiPointConfig matches the original engine's defaults.
func DefaultMultiPointConfig() MultiPointConfig {
	return MultiPointConfig{
		APSize:           DefaultAPSize,
		SearchRadius:     DefaultSearchRadius,
		SelectPercentage: 0.25,
		MinBrightness:    0.05,
		QualityMetric:    quality.Laplacian,
		LocalStackMethod: DefaultLocalStackMethod(),
	}
}

// AutoAPSize derives an AP size from a detected planet diameter: divide
// by AutoAPDivisor, clamp to [AutoAPSizeMin, AutoAPSizeMax], round down
// to a multiple of AutoAPSizeAlign.
func AutoAPSize(planetDiameter int) int {
	raw := planetDiameter / AutoAPDivisor
	if raw < AutoAPSizeMin {
		raw = AutoAPSizeMin
	}
	if raw > AutoAPSizeMax {
		raw = AutoAPSizeMax
	}
	return (raw / AutoAPSizeAlign) * AutoAPSizeAlign
}

// AutoAPSizeFromFrame falls back to deriving an AP size from the frame
// dimensions when no planet was detected.
func AutoAPSizeFromFrame(width, height int) int {
	dim := width
	if height < dim {
		dim = height
	}
	return AutoAPSize(dim)
}

// BuildAPGrid places alignment points over reference with 50% overlap
// (stride = apSize/2), skipping any whose reference-patch mean
// brightness falls below cfg.MinBrightness.
func BuildAPGrid(reference frame.Frame, cfg MultiPointConfig) []align.Point {
	h, w := reference.Height, reference.Width
	half := cfg.APSize / 2
	stride := half

	var points []align.Point
	index := 0
	for cy := half; cy+half <= h; cy += stride {
		for cx := half; cx+half <= w; cx += stride {
			region := extractRegionClamped(reference, cy, cx, half)
			if meanOf(region) >= cfg.MinBrightness {
				points = append(points, align.Point{CY: cy, CX: cx, Index: index})
				index++
			}
		}
	}
	return points
}

// extractRegionClamped samples a (2*half)x(2*half) square centred at
// (cy, cx), clamping out-of-bounds indices to the nearest edge pixel.
// Used only to gate AP placement on the reference's own brightness.
func extractRegionClamped(f frame.Frame, cy, cx, half int) []float32 {
	size := 2 * half
	out := make([]float32, size*size)
	for dr := 0; dr < size; dr++ {
		r := clampIdx(cy+dr-half, f.Height-1)
		for dc := 0; dc < size; dc++ {
			c := clampIdx(cx+dc-half, f.Width-1)
			out[dr*size+dc] = f.At(r, c)
		}
	}
	return out
}

func clampIdx(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func meanOf(vals []float32) float32 {
	if len(vals) == 0 {
		return 0
	}
	var sum float32
	for _, v := range vals {
		sum += v
	}
	return sum / float32(len(vals))
}

// extractShiftedRegion globally shifts f by offset and crops the
// (2*half)x(2*half) patch centred at (cy, cx). Because Shift
// zero-pads out-of-range bilinear samples, and because every AP is
// placed fully inside [0,h)x[0,w), this reproduces the original
// engine's per-patch "extract with offset applied via bilinear
// interpolation" step without having to re-derive bilinear sampling in
// patch-local coordinates.
func extractShiftedRegion(f frame.Frame, offset frame.AlignmentOffset, cy, cx, half int, backend compute.Backend) frame.Frame {
	shifted := align.Shift(f, offset, backend)
	return cropExact(shifted, cy-half, cx-half, 2*half)
}

// cropExact crops a size x size patch starting at (top, left). A patch
// that partly falls outside f's bounds -- possible when an AP's search
// padding reaches past the frame edge -- clamps to the nearest edge
// pixel rather than panicking; this only ever happens within the
// search-radius margin around an AP, never to the AP's own core
// placement (BuildAPGrid guarantees that stays fully inside the frame).
func cropExact(f frame.Frame, top, left, size int) frame.Frame {
	out := frame.New(size, size, f.OriginalBitDepth)
	if top >= 0 && left >= 0 && top+size <= f.Height && left+size <= f.Width {
		for dr := 0; dr < size; dr++ {
			srcBase := (top + dr) * f.Width
			dstBase := dr * size
			copy(out.Data[dstBase:dstBase+size], f.Data[srcBase+left:srcBase+left+size])
		}
		return out
	}
	for dr := 0; dr < size; dr++ {
		r := clampIdx(top+dr, f.Height-1)
		for dc := 0; dc < size; dc++ {
			c := clampIdx(left+dc, f.Width-1)
			out.Data[dr*size+dc] = f.At(r, c)
		}
	}
	return out
}

type apResult struct {
	point  align.Point
	patch  frame.Frame
	window frame.Frame
}

// MultiPointStack builds the AP grid over reference, and for every
// point: extracts each frame's globally-pre-aligned patch, refines it
// with a local phase correlation bounded to +/-SearchRadius, scores
// and keeps the top SelectPercentage of the refined patches, stacks
// them with cfg.LocalStackMethod, windows the result with a 2D Hann
// taper and accumulates it into the output frame. Overlapping windows
// (50% stride) sum to a partition of unity, so the accumulator is
// simply divided by its own weight sum at the end.
func MultiPointStack(reference frame.Frame, frames []frame.Frame, offsets []frame.AlignmentOffset, cfg MultiPointConfig, backend compute.Backend) (frame.Frame, error) {
	if len(frames) == 0 {
		return frame.Frame{}, frame.ErrEmptySequence
	}
	if len(offsets) != len(frames) {
		return frame.Frame{}, &offsetCountError{got: len(offsets), want: len(frames)}
	}

	grid := BuildAPGrid(reference, cfg)
	if len(grid) == 0 {
		return reference.Clone(), nil
	}

	results := make([]*apResult, len(grid))
	g, _ := errgroup.WithContext(context.Background())
	for i, point := range grid {
		i, point := i, point
		g.Go(func() error {
			res, err := stackPoint(reference, frames, offsets, point, cfg, backend)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return frame.Frame{}, err
	}

	h, w := reference.Height, reference.Width
	accum := make([]float64, h*w)
	weight := make([]float64, h*w)
	half := cfg.APSize / 2

	for _, res := range results {
		top, left := res.point.CY-half, res.point.CX-half
		size := 2 * half
		for dr := 0; dr < size; dr++ {
			row := top + dr
			base := row*w + left
			patchBase := dr * size
			for dc := 0; dc < size; dc++ {
				wv := float64(res.window.Data[patchBase+dc])
				accum[base+dc] += float64(res.patch.Data[patchBase+dc]) * wv
				weight[base+dc] += wv
			}
		}
	}

	out := frame.New(h, w, reference.OriginalBitDepth)
	for i := range out.Data {
		if weight[i] > 1e-10 {
			out.Data[i] = float32(accum[i] / weight[i])
		} else {
			out.Data[i] = reference.Data[i]
		}
	}
	return out, nil
}

func stackPoint(reference frame.Frame, frames []frame.Frame, offsets []frame.AlignmentOffset, point align.Point, cfg MultiPointConfig, backend compute.Backend) (*apResult, error) {
	half := cfg.APSize / 2
	refPatch := cropExact(reference, point.CY-half, point.CX-half, 2*half)

	type candidate struct {
		patch frame.Frame
		score float64
	}
	candidates := make([]candidate, len(frames))
	for i, f := range frames {
		padded := extractShiftedRegion(f, offsets[i], point.CY, point.CX, half+cfg.SearchRadius, backend)
		center := cropExact(padded, cfg.SearchRadius, cfg.SearchRadius, 2*half)

		localOffset, err := align.ComputeOffset(refPatch, center, align.DefaultConfig(), backend)
		if err == nil {
			localOffset.DX = clampRadius(localOffset.DX, float64(cfg.SearchRadius))
			localOffset.DY = clampRadius(localOffset.DY, float64(cfg.SearchRadius))
			center = align.Shift(center, localOffset, backend)
		}

		candidates[i] = candidate{patch: center, score: quality.ScoreFrame(center, cfg.QualityMetric)}
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].score > candidates[b].score })
	keep := ceilPercentage(len(candidates), cfg.SelectPercentage)
	patches := make([]frame.Frame, keep)
	for i := 0; i < keep; i++ {
		patches[i] = candidates[i].patch
	}

	stacked, err := stackLocal(patches, cfg.LocalStackMethod)
	if err != nil {
		return nil, err
	}

	return &apResult{point: point, patch: stacked, window: weightWindow(stacked.Height, stacked.Width, backend)}, nil
}

// weightWindow returns the separable Hann window itself (not applied to
// any data), used both to weight a patch's contribution into the
// accumulator and as the denominator that makes overlapping windows sum
// to a partition of unity.
func weightWindow(h, w int, backend compute.Backend) frame.Frame {
	ones := make([]float32, h*w)
	for i := range ones {
		ones[i] = 1
	}
	buf := backend.Upload(ones, h, w)
	windowed := backend.HannWindow(buf)
	return frame.Frame{Data: backend.Download(windowed), Width: w, Height: h}
}

func clampRadius(v, radius float64) float64 {
	if v > radius {
		return radius
	}
	if v < -radius {
		return -radius
	}
	return v
}

func stackLocal(patches []frame.Frame, method LocalStackMethod) (frame.Frame, error) {
	switch method.Method {
	case Median:
		return MedianStack(patches)
	case SigmaClip:
		return SigmaClipStack(patches, method.SigmaClip)
	case Mean:
		fallthrough
	default:
		return MeanStack(patches)
	}
}
