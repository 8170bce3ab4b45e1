/*
NAME
  autocrop.go

DESCRIPTION
  autocrop.go finds a crop rectangle that contains the planet across
  an entire sequence despite atmospheric drift: sample a handful of
  frames, detect the planet in each, reject outlier centroids, and
  size a square crop around the surviving median with padding.
*/

// Package autocrop derives a stable crop rectangle for a frame
// sequence from a sparse sample of per-frame planet detections.
package autocrop

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/detect"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/source"
)

// Defaults mirror the original auto-crop engine's constants.
const (
	DefaultSampleCount        = 30
	DefaultPaddingFraction    = 0.15
	SigmaClipThreshold        = 2.5
	SigmaClipIterations       = 3
	MinValidDetections        = 3
	SizeAlignment             = 32
	FallbackFrameCount        = 5
	ParallelFrameThreshold    = 4
)

// Config parameterises a single Detect call.
type Config struct {
	SampleCount     int
	PaddingFraction float64
	Detection       detect.Config
	AlignToFFT      bool
	Bayer           bool
}

// DefaultConfig matches the original engine's defaults.
func DefaultConfig() Config {
	return Config{
		SampleCount:     DefaultSampleCount,
		PaddingFraction: DefaultPaddingFraction,
		Detection:       detect.DefaultConfig(),
		AlignToFFT:      true,
	}
}

// TemporalAnalysis summarises the surviving per-frame detections after
// sigma-clipping.
type TemporalAnalysis struct {
	MedianCX, MedianCY     float64
	DriftRangeX, DriftRangeY float64
	MedianDiameter         float64
	ValidCount             int
}

type sample struct {
	cx, cy   float64
	diameter float64
}

// Detect derives a crop rectangle for src: it samples SampleCount
// evenly-spaced frames (fanned out with errgroup when there are at
// least ParallelFrameThreshold of them), runs the planet detector on
// each, and either runs temporal analysis on the surviving detections
// or falls back to a median-combined composite when fewer than
// MinValidDetections succeed.
func Detect(src source.FrameSource, cfg Config, backend compute.Backend) (frame.CropRect, error) {
	frameCount := src.FrameCount()
	if frameCount == 0 {
		return frame.CropRect{}, frame.ErrEmptySequence
	}

	indices := evenlySpacedIndices(cfg.SampleCount, frameCount)
	samples, err := detectSamples(src, indices, cfg, backend)
	if err != nil {
		return frame.CropRect{}, err
	}

	if len(samples) >= MinValidDetections {
		analysis := analyzeSamples(samples)
		return computeCropRect(analysis, src.Width(), src.Height(), cfg)
	}
	return fallback(src, cfg, backend)
}

func evenlySpacedIndices(sampleCount, frameCount int) []int {
	n := sampleCount
	if n > frameCount {
		n = frameCount
	}
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return []int{frameCount / 2}
	}
	indices := make([]int, n)
	for i := 0; i < n; i++ {
		indices[i] = i * (frameCount - 1) / (n - 1)
	}
	return indices
}

func detectSamples(src source.FrameSource, indices []int, cfg Config, backend compute.Backend) ([]sample, error) {
	results := make([]*sample, len(indices))

	detectAt := func(i int) {
		idx := indices[i]
		f, err := src.ReadFrame(idx)
		if err != nil {
			return
		}
		res, err := detect.Detect(f, cfg.Detection, backend)
		if err != nil {
			return
		}
		results[i] = &sample{cx: res.CX, cy: res.CY, diameter: float64(maxInt(res.BBoxW, res.BBoxH))}
	}

	if len(indices) >= ParallelFrameThreshold {
		g, _ := errgroup.WithContext(context.Background())
		for i := range indices {
			i := i
			g.Go(func() error {
				detectAt(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range indices {
			detectAt(i)
		}
	}

	out := make([]sample, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// analyzeSamples sigma-clips centroid outliers independently on each
// axis, then computes the median centroid/diameter and drift range
// over the surviving samples (or all samples, if fewer than two
// survive).
func analyzeSamples(samples []sample) TemporalAnalysis {
	n := len(samples)
	cx := make([]float64, n)
	cy := make([]float64, n)
	diam := make([]float64, n)
	for i, s := range samples {
		cx[i], cy[i], diam[i] = s.cx, s.cy, s.diameter
	}

	valid := make([]bool, n)
	for i := range valid {
		valid[i] = true
	}
	sigmaClip1D(cx, valid)
	sigmaClip1D(cy, valid)

	var cleanCX, cleanCY, cleanDiam []float64
	for i := 0; i < n; i++ {
		if valid[i] {
			cleanCX = append(cleanCX, cx[i])
			cleanCY = append(cleanCY, cy[i])
			cleanDiam = append(cleanDiam, diam[i])
		}
	}
	if len(cleanCX) < 2 {
		cleanCX, cleanCY, cleanDiam = cx, cy, diam
	}

	return TemporalAnalysis{
		MedianCX:       medianF64(append([]float64(nil), cleanCX...)),
		MedianCY:       medianF64(append([]float64(nil), cleanCY...)),
		DriftRangeX:    maxF64(cleanCX) - minF64(cleanCX),
		DriftRangeY:    maxF64(cleanCY) - minF64(cleanCY),
		MedianDiameter: medianF64(append([]float64(nil), cleanDiam...)),
		ValidCount:     len(cleanCX),
	}
}

// sigmaClip1D iteratively rejects entries in values deviating more
// than SigmaClipThreshold*stddev from the mean of the currently-valid
// subset, up to SigmaClipIterations rounds. Stops early once fewer
// than 3 values remain active or the stddev collapses to ~0.
func sigmaClip1D(values []float64, valid []bool) {
	for iter := 0; iter < SigmaClipIterations; iter++ {
		var active []float64
		for i, v := range values {
			if valid[i] {
				active = append(active, v)
			}
		}
		if len(active) < 3 {
			return
		}

		mean := stat.Mean(active, nil)
		stddev := stat.StdDev(active, nil)
		if stddev < 1e-10 {
			return
		}

		for i, v := range values {
			if valid[i] && math.Abs(v-mean) > SigmaClipThreshold*stddev {
				valid[i] = false
			}
		}
	}
}

func computeCropRect(analysis TemporalAnalysis, frameW, frameH int, cfg Config) (frame.CropRect, error) {
	diameter := analysis.MedianDiameter
	padding := diameter * cfg.PaddingFraction

	cropW := diameter + analysis.DriftRangeX + 2*padding
	cropH := diameter + analysis.DriftRangeY + 2*padding

	size := cropW
	if cropH > size {
		size = cropH
	}

	align := 1
	if cfg.AlignToFFT {
		align = SizeAlignment
	}
	w := roundUp(ceilToInt(size), align)
	h := roundUp(ceilToInt(size), align)
	if w > frameW {
		w = frameW
	}
	if h > frameH {
		h = frameH
	}

	x := clampInt(roundToInt(analysis.MedianCX-float64(w)/2), 0, frameW-w)
	y := clampInt(roundToInt(analysis.MedianCY-float64(h)/2), 0, frameH-h)

	rect := frame.CropRect{X: x, Y: y, Width: w, Height: h}
	return rect.Validated(frameW, frameH, cfg.Bayer)
}

func fallback(src source.FrameSource, cfg Config, backend compute.Backend) (frame.CropRect, error) {
	total := src.FrameCount()
	n := FallbackFrameCount
	if n > total {
		n = total
	}
	center := total / 2
	half := n / 2
	start := center - half
	if start < 0 {
		start = 0
	}

	frames := make([]frame.Frame, 0, n)
	for i := start; i < start+n; i++ {
		idx := i
		if idx >= total {
			idx = total - 1
		}
		f, err := src.ReadFrame(idx)
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return frame.CropRect{}, fmt.Errorf("%w: auto-crop fallback could not read any frames", frame.ErrDetectionFailed)
	}

	combined := medianCombine(frames)

	if res, err := detect.Detect(combined, cfg.Detection, backend); err == nil {
		analysis := analyzeSamples([]sample{{cx: res.CX, cy: res.CY, diameter: float64(maxInt(res.BBoxW, res.BBoxH))}})
		return computeCropRect(analysis, src.Width(), src.Height(), cfg)
	}

	for _, multiplier := range []float32{0.8, 0.6} {
		blurred := detect.GaussianBlur(combined, cfg.Detection.BlurSigma, backend)
		base := detect.OtsuThreshold(blurred.Data)
		lowered := cfg.Detection
		lowered.ThresholdMethod = detect.Fixed
		lowered.FixedThreshold = base * multiplier

		if res, err := detect.Detect(combined, lowered, backend); err == nil {
			analysis := analyzeSamples([]sample{{cx: res.CX, cy: res.CY, diameter: float64(maxInt(res.BBoxW, res.BBoxH))}})
			return computeCropRect(analysis, src.Width(), src.Height(), cfg)
		}
	}

	return frame.CropRect{}, fmt.Errorf("%w: no planet detected after fallback attempts", frame.ErrDetectionFailed)
}

func medianCombine(frames []frame.Frame) frame.Frame {
	h, w := frames[0].Height, frames[0].Width
	out := frame.New(h, w, frames[0].OriginalBitDepth)
	n := len(frames)
	vals := make([]float32, n)
	for idx := 0; idx < h*w; idx++ {
		for i, f := range frames {
			vals[i] = f.Data[idx]
		}
		sort.Slice(vals, func(a, b int) bool { return vals[a] < vals[b] })
		if n%2 == 1 {
			out.Data[idx] = vals[n/2]
		} else {
			out.Data[idx] = (vals[n/2-1] + vals[n/2]) * 0.5
		}
	}
	return out
}

func roundUp(value, align int) int {
	if align <= 1 {
		return value
	}
	return (value + align - 1) / align * align
}

func ceilToInt(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

func roundToInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func medianF64(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) * 0.5
}

func minF64(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals {
		if v < m {
			m = v
		}
	}
	return m
}

func maxF64(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

