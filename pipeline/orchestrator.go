/*
NAME
  orchestrator.go

DESCRIPTION
  orchestrator.go sequences the whole stacking pipeline: optional
  auto-crop, quality ranking (eager or streaming by estimated decoded
  size), frame selection, pairwise alignment against a fixed reference,
  stacking, and wavelet sharpening -- with a color source fanned into
  three independently processed channels after a luminance-based
  scoring/alignment pass. Multi-point stacking bypasses the
  select/align/stack sequence entirely and delegates straight to the
  patch engine, per the design's stage table.
*/

// Package pipeline sequences the frame-alignment-and-stacking
// pipeline's stages and decides memory strategy, color fan-out and
// progress reporting.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lucky-imaging/jupiter/align"
	"github.com/lucky-imaging/jupiter/autocrop"
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/postfilter"
	"github.com/lucky-imaging/jupiter/quality"
	"github.com/lucky-imaging/jupiter/sharpen"
	"github.com/lucky-imaging/jupiter/source"
	"github.com/lucky-imaging/jupiter/stack"
)

// Run executes the full pipeline against src under cfg, reporting
// progress through reporter (NoopReporter{} if nil), and returns the
// final stacked-and-sharpened image. Any stage error aborts the run
// and is returned immediately; no stage is retried.
func Run(src source.FrameSource, cfg Config, backend compute.Backend, reporter ProgressReporter) (Output, error) {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	if src.FrameCount() == 0 {
		return Output{}, frame.ErrEmptySequence
	}

	workSrc, err := applyAutoCrop(src, cfg, backend, reporter)
	if err != nil {
		return Output{}, err
	}

	debayerMethod, useColor := resolveColor(workSrc, cfg)

	if cfg.Stacking.Method == stack.MultiPoint {
		return runMultiPoint(workSrc, cfg, backend, reporter, debayerMethod, useColor)
	}
	if useColor {
		return runColor(workSrc, cfg, backend, reporter, debayerMethod)
	}
	return runMono(workSrc, cfg, backend, reporter)
}

// applyAutoCrop runs the auto-crop engine and wraps src with its
// result when cfg.AutoCrop is set; otherwise it returns src unchanged.
func applyAutoCrop(src source.FrameSource, cfg Config, backend compute.Backend, reporter ProgressReporter) (source.FrameSource, error) {
	if cfg.AutoCrop == nil {
		return src, nil
	}
	reporter.BeginStage(Cropping, src.FrameCount())
	rect, err := autocrop.Detect(src, cfg.AutoCrop.Config, backend)
	if err != nil {
		return nil, err
	}
	cropped, err := source.NewCropped(src, rect)
	if err != nil {
		return nil, err
	}
	reporter.FinishStage()
	return cropped, nil
}

// resolveColor decides whether color fan-out runs and, if so, which
// debayer method to use. ForceMono and already-mono sources both
// disable it; RGB/BGR sources need no debayering but are still
// processed as color; Bayer sources use cfg.DebayerMethod.
func resolveColor(src source.FrameSource, cfg Config) (source.DebayerMethod, bool) {
	if cfg.ForceMono {
		return 0, false
	}
	mode := src.ColorMode()
	if !mode.IsColor() {
		return 0, false
	}
	return cfg.DebayerMethod, true
}

// shouldStream decides eager-vs-streaming quality scoring from
// estimated total decoded size, the number of channels that will be
// decoded, and cfg.Memory.
func shouldStream(src source.FrameSource, useColor bool, memory MemoryStrategy) bool {
	switch memory {
	case Eager:
		return false
	case LowMemory:
		return true
	case AutoMemory:
		fallthrough
	default:
		channels := 1
		if useColor {
			channels = ColorChannelCount
		}
		frameBytes := src.Width() * src.Height() * 4 * channels
		return frameBytes*src.FrameCount() > LowMemoryThresholdBytes
	}
}

// rankFrames runs quality.RankEager or RankStreaming depending on
// estimated decoded size, reporting the quality-assessment stage
// boundary either way.
func rankFrames(src source.FrameSource, cfg Config, useColor bool, reporter ProgressReporter) ([]frame.Indexed, error) {
	reporter.BeginStage(QualityAssessment, src.FrameCount())
	var (
		ranked []frame.Indexed
		err    error
	)
	if shouldStream(src, useColor, cfg.Memory) {
		ranked, err = quality.RankStreaming(src, cfg.FrameSelection.Metric)
	} else {
		ranked, err = quality.RankEager(src, cfg.FrameSelection.Metric)
	}
	if err != nil {
		return nil, err
	}
	reporter.FinishStage()
	return ranked, nil
}

// selectTop returns the prefix of ranked to keep, by cfg's
// select_percentage (ceiling, minimum one frame).
func selectTop(ranked []frame.Indexed, pct float32) []frame.Indexed {
	keep := ceilPercentage(len(ranked), pct)
	out := make([]frame.Indexed, keep)
	copy(out, ranked[:keep])
	return out
}

func ceilPercentage(total int, fraction float32) int {
	keep := int(float64(total)*float64(fraction) + 0.999999)
	if keep < 1 {
		keep = 1
	}
	if keep > total {
		keep = total
	}
	return keep
}

// computeOffsets registers every frame in frames against reference in
// parallel, indexed by frames' position (not original source index).
// frames[refIndex] is assigned the zero offset without running
// alignment against itself.
func computeOffsets(reference frame.Frame, frames []frame.Frame, refIndex int, cfg align.Config, backend compute.Backend) ([]frame.AlignmentOffset, error) {
	offsets := make([]frame.AlignmentOffset, len(frames))
	g, _ := errgroup.WithContext(context.Background())
	for i := range frames {
		i := i
		if i == refIndex {
			continue
		}
		g.Go(func() error {
			off, err := align.ComputeOffset(reference, frames[i], cfg, backend)
			if err != nil {
				return fmt.Errorf("aligning frame %d: %w", i, err)
			}
			offsets[i] = off
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return offsets, nil
}

// chooseReference returns either frames[0] (the top-quality frame,
// since frames is already quality-sorted) or a synthesized mean
// reference, per cfg.FrameSelection.UseMeanReference. When a mean
// reference is built, reference registration still runs in two passes:
// one set of offsets against frames[0] to build the synthetic
// reference, then the returned offsets (against that reference) are
// the ones the caller must actually use for stacking.
func chooseReference(frames []frame.Frame, cfg Config, backend compute.Backend) (reference frame.Frame, offsets []frame.AlignmentOffset, err error) {
	if !cfg.FrameSelection.UseMeanReference {
		reference = frames[0]
		offsets, err = computeOffsets(reference, frames, 0, cfg.Alignment, backend)
		return reference, offsets, err
	}

	offsetsVsFirst, err := computeOffsets(frames[0], frames, 0, cfg.Alignment, backend)
	if err != nil {
		return frame.Frame{}, nil, err
	}
	fraction := cfg.FrameSelection.MeanReferenceFraction
	if fraction <= 0 {
		fraction = cfg.FrameSelection.SelectPercentage
	}
	reference, err = stack.BuildMeanReference(frames, offsetsVsFirst, cfg.FrameSelection.Metric, fraction, backend)
	if err != nil {
		return frame.Frame{}, nil, err
	}
	offsets, err = computeOffsets(reference, frames, -1, cfg.Alignment, backend)
	return reference, offsets, err
}

// stackAligned applies offsets to frames (shifting every frame onto
// reference) and reduces the result under cfg.Stacking.
func stackAligned(frames []frame.Frame, offsets []frame.AlignmentOffset, cfg StackingConfig, backend compute.Backend) (frame.Frame, error) {
	aligned := make([]frame.Frame, len(frames))
	for i, f := range frames {
		if offsets[i] == (frame.AlignmentOffset{}) {
			aligned[i] = f
			continue
		}
		aligned[i] = align.Shift(f, offsets[i], backend)
	}
	switch cfg.Method {
	case stack.Median:
		return stack.MedianStack(aligned)
	case stack.SigmaClip:
		return stack.SigmaClipStack(aligned, cfg.SigmaClip)
	case stack.Mean:
		fallthrough
	default:
		return stack.MeanStack(aligned)
	}
}

func applySharpen(f frame.Frame, cfg *SharpeningConfig, backend compute.Backend, reporter ProgressReporter) (frame.Frame, error) {
	if cfg == nil {
		return f, nil
	}
	reporter.BeginStage(Sharpening, 1)
	out, err := sharpen.Sharpen(f, cfg.Wavelet, backend)
	if err != nil {
		return frame.Frame{}, err
	}
	reporter.FinishStage()
	return out, nil
}

// applySharpenColor sharpens all three channels of cf concurrently,
// the same channel fan-out pattern stack.StackColor uses for
// reduction.
func applySharpenColor(cf frame.ColorFrame, cfg *SharpeningConfig, backend compute.Backend, reporter ProgressReporter) (frame.ColorFrame, error) {
	if cfg == nil {
		return cf, nil
	}
	reporter.BeginStage(Sharpening, 3)
	var out frame.ColorFrame
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() (err error) { out.R, err = sharpen.Sharpen(cf.R, cfg.Wavelet, backend); return })
	g.Go(func() (err error) { out.G, err = sharpen.Sharpen(cf.G, cfg.Wavelet, backend); return })
	g.Go(func() (err error) { out.B, err = sharpen.Sharpen(cf.B, cfg.Wavelet, backend); return })
	if err := g.Wait(); err != nil {
		return frame.ColorFrame{}, err
	}
	reporter.FinishStage()
	return out, nil
}

// applyFilters runs cfg's cosmetic filter chain over a mono frame,
// reporting the Filtering stage boundary. An empty chain is the
// identity and still reports the stage, matching every other stage's
// always-announce contract.
func applyFilters(f frame.Frame, chain postfilter.Chain, reporter ProgressReporter) frame.Frame {
	reporter.BeginStage(Filtering, 1)
	out := chain.Apply(f)
	reporter.FinishStage()
	return out
}

// applyFiltersColor runs cfg's cosmetic filter chain over each channel
// of a color frame concurrently.
func applyFiltersColor(cf frame.ColorFrame, chain postfilter.Chain, reporter ProgressReporter) frame.ColorFrame {
	reporter.BeginStage(Filtering, 3)
	var out frame.ColorFrame
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { out.R = chain.Apply(cf.R); return nil })
	g.Go(func() error { out.G = chain.Apply(cf.G); return nil })
	g.Go(func() error { out.B = chain.Apply(cf.B); return nil })
	g.Wait()
	reporter.FinishStage()
	return out
}

// runMono executes the standard select -> align -> stack -> sharpen
// sequence for a mono source (or a color source with ForceMono set).
func runMono(src source.FrameSource, cfg Config, backend compute.Backend, reporter ProgressReporter) (Output, error) {
	ranked, err := rankFrames(src, cfg, false, reporter)
	if err != nil {
		return Output{}, err
	}
	selected := selectTop(ranked, cfg.FrameSelection.SelectPercentage)

	reporter.BeginStage(FrameSelection, len(selected))
	frames := make([]frame.Frame, len(selected))
	for i, s := range selected {
		f, err := src.ReadFrame(s.Index)
		if err != nil {
			return Output{}, err
		}
		frames[i] = f
		reporter.Advance(i + 1)
	}
	reporter.FinishStage()

	reporter.BeginStage(Alignment, len(frames))
	_, offsets, err := chooseReference(frames, cfg, backend)
	if err != nil {
		return Output{}, err
	}
	reporter.FinishStage()

	reporter.BeginStage(Stacking, len(frames))
	stacked, err := stackAligned(frames, offsets, cfg.Stacking, backend)
	if err != nil {
		return Output{}, err
	}
	reporter.FinishStage()

	final, err := applySharpen(stacked, cfg.Sharpening, backend, reporter)
	if err != nil {
		return Output{}, err
	}
	final = applyFilters(final, cfg.Filters, reporter)
	return Output{Mono: &final}, nil
}

// runColor executes the standard sequence for a color source: quality
// ranking and alignment run once against per-frame luminance, and each
// of the three channels is shifted by those shared offsets and stacked
// independently in parallel.
func runColor(src source.FrameSource, cfg Config, backend compute.Backend, reporter ProgressReporter, debayer source.DebayerMethod) (Output, error) {
	ranked, err := rankFrames(src, cfg, true, reporter)
	if err != nil {
		return Output{}, err
	}
	selected := selectTop(ranked, cfg.FrameSelection.SelectPercentage)

	reporter.BeginStage(FrameSelection, len(selected))
	colorFrames := make([]frame.ColorFrame, len(selected))
	lumFrames := make([]frame.Frame, len(selected))
	for i, s := range selected {
		cf, err := src.ReadFrameColor(s.Index, debayer)
		if err != nil {
			return Output{}, err
		}
		colorFrames[i] = cf
		lumFrames[i] = cf.Luminance()
		reporter.Advance(i + 1)
	}
	reporter.FinishStage()

	reporter.BeginStage(Alignment, len(lumFrames))
	_, offsets, err := chooseReference(lumFrames, cfg, backend)
	if err != nil {
		return Output{}, err
	}
	reporter.FinishStage()

	reporter.BeginStage(Stacking, len(colorFrames))
	r := make([]frame.Frame, len(colorFrames))
	g := make([]frame.Frame, len(colorFrames))
	b := make([]frame.Frame, len(colorFrames))
	for i, cf := range colorFrames {
		r[i], g[i], b[i] = cf.R, cf.G, cf.B
	}
	stacked, err := stack.StackColor(r, g, b, func(channel []frame.Frame) (frame.Frame, error) {
		return stackAligned(channel, offsets, cfg.Stacking, backend)
	})
	if err != nil {
		return Output{}, err
	}
	reporter.FinishStage()

	final, err := applySharpenColor(stacked, cfg.Sharpening, backend, reporter)
	if err != nil {
		return Output{}, err
	}
	final = applyFiltersColor(final, cfg.Filters, reporter)
	return Output{Color: &final}, nil
}

// runMultiPoint bypasses the select -> align -> stack sequence: it
// decodes the whole source (not just the top select_percentage),
// computes one set of global offsets against a single reference frame,
// and delegates per-patch selection and local refinement entirely to
// stack.MultiPointStack.
func runMultiPoint(src source.FrameSource, cfg Config, backend compute.Backend, reporter ProgressReporter, debayer source.DebayerMethod, useColor bool) (Output, error) {
	n := src.FrameCount()
	reporter.BeginStage(Stacking, n)

	if !useColor {
		frames := make([]frame.Frame, n)
		for i := 0; i < n; i++ {
			f, err := src.ReadFrame(i)
			if err != nil {
				return Output{}, err
			}
			frames[i] = f
		}
		reference := frames[0]
		offsets, err := computeOffsets(reference, frames, 0, cfg.Alignment, backend)
		if err != nil {
			return Output{}, err
		}
		stacked, err := stack.MultiPointStack(reference, frames, offsets, cfg.Stacking.MultiPoint, backend)
		if err != nil {
			return Output{}, err
		}
		reporter.FinishStage()
		final, err := applySharpen(stacked, cfg.Sharpening, backend, reporter)
		if err != nil {
			return Output{}, err
		}
		final = applyFilters(final, cfg.Filters, reporter)
		return Output{Mono: &final}, nil
	}

	colorFrames := make([]frame.ColorFrame, n)
	lumFrames := make([]frame.Frame, n)
	for i := 0; i < n; i++ {
		cf, err := src.ReadFrameColor(i, debayer)
		if err != nil {
			return Output{}, err
		}
		colorFrames[i] = cf
		lumFrames[i] = cf.Luminance()
	}
	lumReference := lumFrames[0]
	offsets, err := computeOffsets(lumReference, lumFrames, 0, cfg.Alignment, backend)
	if err != nil {
		return Output{}, err
	}

	r := make([]frame.Frame, n)
	g := make([]frame.Frame, n)
	b := make([]frame.Frame, n)
	for i, cf := range colorFrames {
		r[i], g[i], b[i] = cf.R, cf.G, cf.B
	}
	stacked, err := stack.StackColor(r, g, b, func(channel []frame.Frame) (frame.Frame, error) {
		return stack.MultiPointStack(channel[0], channel, offsets, cfg.Stacking.MultiPoint, backend)
	})
	if err != nil {
		return Output{}, err
	}
	reporter.FinishStage()

	final, err := applySharpenColor(stacked, cfg.Sharpening, backend, reporter)
	if err != nil {
		return Output{}, err
	}
	final = applyFiltersColor(final, cfg.Filters, reporter)
	return Output{Color: &final}, nil
}
