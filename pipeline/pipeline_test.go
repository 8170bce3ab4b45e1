package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/internal/testutil"
	"github.com/lucky-imaging/jupiter/postfilter"
	"github.com/lucky-imaging/jupiter/quality"
	"github.com/lucky-imaging/jupiter/source"
	"github.com/lucky-imaging/jupiter/stack"
)

func cpuBackend(t *testing.T) compute.Backend {
	t.Helper()
	b, err := compute.New(compute.Cpu, testutil.DiscardLogger{})
	if err != nil {
		t.Fatalf("compute.New: %v", err)
	}
	return b
}

func constFrame(h, w int, v float32) frame.Frame {
	f := frame.New(h, w, 8)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func noSharpenConfig() Config {
	cfg := DefaultConfig()
	cfg.Sharpening = nil
	return cfg
}

// emptySource is a FrameSource stub with zero frames, used to exercise
// Run's own EmptySequence guard independent of Mem's constructor-time
// rejection of an empty frame slice.
type emptySource struct{}

func (emptySource) FrameCount() int                                              { return 0 }
func (emptySource) Width() int                                                   { return 0 }
func (emptySource) Height() int                                                  { return 0 }
func (emptySource) BitDepth() uint8                                              { return 8 }
func (emptySource) ColorMode() frame.ColorMode                                   { return frame.Mono }
func (emptySource) ReadFrame(int) (frame.Frame, error)                           { return frame.Frame{}, frame.ErrIndexOutOfRange }
func (emptySource) ReadFrameColor(int, source.DebayerMethod) (frame.ColorFrame, error) {
	return frame.ColorFrame{}, frame.ErrUnsupportedColor
}
func (emptySource) Timestamp(int) (time.Time, bool) { return time.Time{}, false }

func TestRunEmptySequenceReturnsError(t *testing.T) {
	backend := cpuBackend(t)
	_, err := Run(emptySource{}, DefaultConfig(), backend, nil)
	if err != frame.ErrEmptySequence {
		t.Fatalf("Run on empty source: err = %v, want ErrEmptySequence", err)
	}
}

func TestRunMonoIdenticalFramesReproducesFrame(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 6)
	for i := range frames {
		frames[i] = constFrame(32, 32, 0.5)
	}
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 1.0

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mono == nil {
		t.Fatal("expected mono output for a mono source")
	}
	for i, v := range out.Mono.Data {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("pixel %d = %v, want 0.5", i, v)
		}
	}
}

func TestRunMonoSelectPercentageKeepsAtLeastOneFrame(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 10)
	for i := range frames {
		frames[i] = constFrame(32, 32, 0.25)
	}
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 0.01 // 0.01 * 10 < 1

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range out.Mono.Data {
		if math.Abs(float64(v)-0.25) > 1e-6 {
			t.Fatalf("pixel %d = %v, want 0.25", i, v)
		}
	}
}

// checkerboard approximates a sharp frame for the Laplacian/gradient
// metrics; flat carries no high-frequency content at all.
func checkerboard(h, w int) frame.Frame {
	f := frame.New(h, w, 8)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if (row+col)%2 == 0 {
				f.Set(row, col, 0.9)
			} else {
				f.Set(row, col, 0.1)
			}
		}
	}
	return f
}

func TestRunMonoSharpestFrameDrivesSelection(t *testing.T) {
	flat := constFrame(16, 16, 0.5)
	sharp := checkerboard(16, 16)
	// rank([flat, sharp, flat]) must put sharp first (S4 of the spec).
	ranked, err := quality.RankEager(mustMem(t, []frame.Frame{flat, sharp, flat}), quality.Laplacian)
	if err != nil {
		t.Fatalf("RankEager: %v", err)
	}
	if ranked[0].Index != 1 {
		t.Fatalf("top-ranked index = %d, want 1 (the sharp frame)", ranked[0].Index)
	}
}

func mustMem(t *testing.T, frames []frame.Frame) source.FrameSource {
	t.Helper()
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	return src
}

// A single extreme outlier among otherwise tightly clustered frames
// must be rejected, leaving the sigma-clipped mean close to the
// cluster rather than dragged toward the outlier (the unachievable
// {0.5,0.5,0.5,0.5,5.0} literal from spec.md's S6 never actually
// clips at Sigma=2.5 -- its bounds of mean +/- 2.5*stddev comfortably
// contain the outlier -- so this uses the same nine-sample cluster plus
// one outlier as stack.TestSigmaClipStackRejectsOutlier; with five or
// six samples a single outlier can never lie beyond 2.5 standard
// deviations of the mean).
func TestRunMonoSigmaClipRejectsOutlier(t *testing.T) {
	backend := cpuBackend(t)
	values := []float32{0.50, 0.51, 0.49, 0.50, 0.52, 0.50, 0.51, 0.49, 0.50, 0.99}
	frames := make([]frame.Frame, len(values))
	for i, v := range values {
		frames[i] = constFrame(8, 8, v)
	}
	src := mustMem(t, frames)

	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 1.0
	cfg.Stacking = StackingConfig{
		Method:    stack.SigmaClip,
		SigmaClip: stack.SigmaClipParams{Sigma: 2.5, Iterations: 2},
	}

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range out.Mono.Data {
		if float64(v) > 0.55 {
			t.Fatalf("pixel %d = %v, want close to the 0.49-0.52 cluster (outlier not rejected)", i, v)
		}
	}
}

func TestRunColorSourceProducesColorOutput(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 5)
	for i := range frames {
		frames[i] = constFrame(16, 16, 0.3)
	}
	src, err := source.NewMem(frames, frame.BayerRGGB)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 1.0

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Color == nil {
		t.Fatal("expected color output for a Bayer source")
	}
	for _, v := range out.Color.R.Data {
		if math.Abs(float64(v)-0.3) > 1e-3 {
			t.Fatalf("R pixel = %v, want ~0.3", v)
		}
	}
}

func TestRunForceMonoDegradesColorSource(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 4)
	for i := range frames {
		frames[i] = constFrame(16, 16, 0.6)
	}
	src, err := source.NewMem(frames, frame.BayerRGGB)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	cfg := noSharpenConfig()
	cfg.ForceMono = true
	cfg.FrameSelection.SelectPercentage = 1.0

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mono == nil || out.Color != nil {
		t.Fatal("ForceMono should yield a mono output even for a Bayer source")
	}
}

func TestRunMultiPointProducesSameShapeFrame(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 4)
	for i := range frames {
		frames[i] = checkerboard(32, 32)
	}
	src := mustMem(t, frames)

	cfg := noSharpenConfig()
	cfg.Stacking = StackingConfig{
		Method: stack.MultiPoint,
		MultiPoint: stack.MultiPointConfig{
			APSize:           8,
			SearchRadius:     4,
			SelectPercentage: 1.0,
			MinBrightness:    0,
			QualityMetric:    quality.Laplacian,
			LocalStackMethod: stack.DefaultLocalStackMethod(),
		},
	}

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Mono.Height != 32 || out.Mono.Width != 32 {
		t.Fatalf("shape = %dx%d, want 32x32", out.Mono.Height, out.Mono.Width)
	}
}

func TestValidateDefaultsOutOfRangeSelectPercentage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameSelection.SelectPercentage = 0
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.FrameSelection.SelectPercentage != DefaultFrameSelectionConfig().SelectPercentage {
		t.Fatalf("SelectPercentage = %v, want default after Validate", cfg.FrameSelection.SelectPercentage)
	}
}

func TestValidateRejectsZeroAPSizeForMultiPoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stacking.Method = stack.MultiPoint
	cfg.Stacking.MultiPoint.APSize = 0
	if err := cfg.Validate(nil); err == nil {
		t.Fatal("Validate with APSize=0 under MultiPoint: want error, got nil")
	}
}

func TestRunAppliesConfiguredFilterChain(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 4)
	for i := range frames {
		frames[i] = constFrame(16, 16, 0.5)
	}
	src := mustMem(t, frames)

	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 1.0
	cfg.Filters = postfilter.Chain{postfilter.BrightnessContrast{Brightness: 0.1, Contrast: 1.0}}

	out, err := Run(src, cfg, backend, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range out.Mono.Data {
		if math.Abs(float64(v)-0.6) > 1e-4 {
			t.Fatalf("pixel %d = %v, want 0.6 after +0.1 brightness filter", i, v)
		}
	}
}

func TestProgressReporterSeesEveryStage(t *testing.T) {
	backend := cpuBackend(t)
	frames := make([]frame.Frame, 3)
	for i := range frames {
		frames[i] = constFrame(16, 16, 0.4)
	}
	src := mustMem(t, frames)

	cfg := DefaultConfig()
	cfg.FrameSelection.SelectPercentage = 1.0

	rec := &recordingReporter{}
	if _, err := Run(src, cfg, backend, rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []Stage{QualityAssessment, FrameSelection, Alignment, Stacking, Sharpening, Filtering} {
		if !rec.began[want] {
			t.Errorf("stage %v never began", want)
		}
		if !rec.finished[want] {
			t.Errorf("stage %v never finished", want)
		}
	}
}

type recordingReporter struct {
	began    map[Stage]bool
	finished map[Stage]bool
	current  Stage
}

func (r *recordingReporter) BeginStage(stage Stage, total int) {
	if r.began == nil {
		r.began = map[Stage]bool{}
		r.finished = map[Stage]bool{}
	}
	r.began[stage] = true
	r.current = stage
}

func (r *recordingReporter) Advance(int) {}

func (r *recordingReporter) FinishStage() {
	r.finished[r.current] = true
}
