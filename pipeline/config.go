/*
NAME
  config.go

DESCRIPTION
  config.go declares the orchestrator's configuration surface: frame
  selection, alignment, stacking, sharpening, device preference, memory
  strategy and auto-crop parameters, plus the post-stack filter chain.
  Fields map directly onto the external configuration surface named in
  the design (parsing/serialising this surface from a host file format
  is the host shell's job, not the core's).
*/

package pipeline

import (
	"fmt"

	"github.com/ausocean/utils/logging"

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

// MemoryStrategy selects whether the quality-scoring stage decodes the
// whole sequence up front or streams it in batches.
type MemoryStrategy int

const (
	// AutoMemory decides from estimated decoded size vs
	// LowMemoryThresholdBytes.
	AutoMemory MemoryStrategy = iota
	Eager
	LowMemory
)

// LowMemoryThresholdBytes is the decoded-data size above which
// AutoMemory switches to streaming.
const LowMemoryThresholdBytes = 1 << 30

// ColorChannelCount is the number of channels a color frame fans out
// into.
const ColorChannelCount = 3

// FrameSelectionConfig controls the quality-ranking and selection
// stage.
type FrameSelectionConfig struct {
	// SelectPercentage is the fraction of top-scored frames retained,
	// in (0, 1]. A fraction yielding less than one frame always keeps
	// at least one (ceiling, minimum 1).
	SelectPercentage float32
	Metric           quality.Metric
	// UseMeanReference builds a synthetic reference from the top
	// MeanReferenceFraction of selected frames (shifted onto frame 0
	// and averaged) instead of registering every frame directly
	// against the single best-quality frame.
	UseMeanReference      bool
	MeanReferenceFraction float32
}

// DefaultFrameSelectionConfig matches the reference scorer's default.
func DefaultFrameSelectionConfig() FrameSelectionConfig {
	return FrameSelectionConfig{SelectPercentage: 0.25, Metric: quality.Laplacian}
}

// StackingConfig names which stacker method to run and carries that
// method's own parameters. Only the field matching Method is
// consulted.
type StackingConfig struct {
	Method        stack.Method
	SigmaClip     stack.SigmaClipParams
	MultiPoint    stack.MultiPointConfig
}

// DefaultStackingConfig matches the reference pipeline's default
// (plain mean).
func DefaultStackingConfig() StackingConfig {
	return StackingConfig{Method: stack.Mean, SigmaClip: stack.DefaultSigmaClipParams(), MultiPoint: stack.DefaultMultiPointConfig()}
}

// SharpeningConfig is the final wavelet-sharpen stage's parameters. A
// nil *SharpeningConfig in Config disables sharpening entirely.
type SharpeningConfig struct {
	Wavelet sharpen.Params
}

// DefaultSharpeningConfig matches the reference sharpener's default
// six-layer gain schedule with no denoise.
func DefaultSharpeningConfig() SharpeningConfig {
	return SharpeningConfig{Wavelet: sharpen.DefaultParams()}
}

// AutoCropConfig controls the optional pre-pass that derives a crop
// rectangle before quality scoring. A nil *AutoCropConfig in Config
// skips auto-crop entirely (the source is processed at full frame).
type AutoCropConfig struct {
	autocrop.Config
}

// Config is the orchestrator's full configuration surface.
type Config struct {
	FrameSelection FrameSelectionConfig
	Alignment      align.Config
	Stacking       StackingConfig
	Sharpening     *SharpeningConfig
	// Filters is the cosmetic filter chain applied after sharpening. A
	// nil or empty chain is the identity.
	Filters  postfilter.Chain
	AutoCrop *AutoCropConfig
	Device   compute.DevicePreference
	Memory   MemoryStrategy
	// ForceMono converts color sources to luminance and processes them
	// as mono, skipping the three-channel fan-out.
	ForceMono bool
	// DebayerMethod selects how Bayer sources are demosaiced when
	// color processing runs. Ignored for Mono and already-RGB/BGR
	// sources.
	DebayerMethod source.DebayerMethod
	// LogLevel is the verbosity a host CLI should construct its
	// logging.Logger at. Run itself takes no logger -- every package it
	// calls either takes no logger (pure numeric stages) or is handed
	// one by the host, matching the library/CLI split in Sec 2.
	LogLevel int8
}

// Validate checks Config's fields for out-of-range values, defaulting
// each one that's invalid and reporting defaults through log if it's
// non-nil. Mirrors revid/config.Config.Validate's defaulting role, but
// returns an error for values Run can't safely default around (an
// unset Stacking.Method, for instance, naturally defaults to
// Mean's zero value, so only truly invalid combinations fail).
func (c *Config) Validate(log logging.Logger) error {
	if c.FrameSelection.SelectPercentage <= 0 || c.FrameSelection.SelectPercentage > 1 {
		if log != nil {
			log.Info("FrameSelection.SelectPercentage bad or unset, defaulting", "value", c.FrameSelection.SelectPercentage)
		}
		c.FrameSelection.SelectPercentage = DefaultFrameSelectionConfig().SelectPercentage
	}
	if c.Stacking.Method == stack.MultiPoint && c.Stacking.MultiPoint.APSize <= 0 {
		return fmt.Errorf("%w: MultiPoint stacking requires a positive APSize", frame.ErrSourceInvalid)
	}
	return nil
}

// DefaultConfig returns the reference pipeline's defaults: top 25% of
// frames by Laplacian variance, mean stacking, default six-layer
// sharpening, Auto device and memory strategy.
func DefaultConfig() Config {
	return Config{
		FrameSelection: DefaultFrameSelectionConfig(),
		Alignment:      align.DefaultConfig(),
		Stacking:       DefaultStackingConfig(),
		Sharpening:     &SharpeningConfig{Wavelet: sharpen.DefaultParams()},
		Device:         compute.Auto,
		Memory:         AutoMemory,
		DebayerMethod:  source.Bilinear,
	}
}
