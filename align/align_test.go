package align

import (
	"bytes"
	"math"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

func testBackend(t *testing.T) compute.Backend {
	t.Helper()
	log := logging.New(logging.Debug, &bytes.Buffer{}, true)
	backend, err := compute.New(compute.Cpu, log)
	if err != nil {
		t.Fatalf("compute.New: %v", err)
	}
	return backend
}

func squareFrame(h, w, minRow, maxRow, minCol, maxCol int) frame.Frame {
	f := frame.New(h, w, 8)
	for row := minRow; row <= maxRow && row < h; row++ {
		for col := minCol; col <= maxCol && col < w; col++ {
			f.Set(row, col, 1)
		}
	}
	return f
}

func allMethods() []Method {
	return []Method{PhaseCorrelation, EnhancedPhase, Centroid, GradientCorrelation, Pyramid}
}

// Self-alignment: every method registering a frame against itself must
// report an offset within 0.5px of zero.
func TestComputeOffsetSelfAlignmentIsNearZero(t *testing.T) {
	backend := testBackend(t)
	f := squareFrame(64, 64, 20, 29, 20, 29)

	for _, method := range allMethods() {
		cfg := DefaultConfig()
		cfg.Method = method
		offset, err := ComputeOffset(f, f, cfg, backend)
		if err != nil {
			t.Fatalf("%s: ComputeOffset: %v", method, err)
		}
		if math.Abs(offset.DX) > 0.5 || math.Abs(offset.DY) > 0.5 {
			t.Errorf("%s: self-alignment offset = (%.3f, %.3f), want within 0.5px of zero", method, offset.DX, offset.DY)
		}
	}
}

// A target whose bright square sits +3 rows, +5 cols from the
// reference's must report an offset whose magnitude recovers that
// displacement (sign fixed by the Shift contract: Shift(target,
// offset) must land target's square back on the reference's).
func TestComputeOffsetPhaseCorrelationRecoversShift(t *testing.T) {
	backend := testBackend(t)
	reference := squareFrame(64, 64, 20, 29, 20, 29)
	target := squareFrame(64, 64, 23, 32, 25, 34)

	offset, err := ComputeOffset(reference, target, DefaultConfig(), backend)
	if err != nil {
		t.Fatalf("ComputeOffset: %v", err)
	}
	if math.Abs(offset.DY) < 2.0 || math.Abs(offset.DY) > 4.0 {
		t.Errorf("|DY| = %.3f, want in [2,4]", math.Abs(offset.DY))
	}
	if math.Abs(offset.DX) < 4.0 || math.Abs(offset.DX) > 6.0 {
		t.Errorf("|DX| = %.3f, want in [4,6]", math.Abs(offset.DX))
	}
}

// Shift(target, ComputeOffset(reference, target)) must land closer to
// reference than target started, confirming the offset's sign (not
// just its magnitude) is correct for every method.
func TestShiftWithComputedOffsetReducesDifference(t *testing.T) {
	backend := testBackend(t)
	reference := squareFrame(64, 64, 20, 29, 20, 29)
	target := squareFrame(64, 64, 23, 32, 25, 34)

	before := sumAbsDiff(reference, target)

	for _, method := range allMethods() {
		cfg := DefaultConfig()
		cfg.Method = method
		offset, err := ComputeOffset(reference, target, cfg, backend)
		if err != nil {
			t.Fatalf("%s: ComputeOffset: %v", method, err)
		}
		registered := Shift(target, offset, backend)
		after := sumAbsDiff(reference, registered)
		if after >= before {
			t.Errorf("%s: registered diff %.1f did not improve on unregistered diff %.1f", method, after, before)
		}
	}
}

func sumAbsDiff(a, b frame.Frame) float64 {
	var sum float64
	for i := range a.Data {
		d := float64(a.Data[i]) - float64(b.Data[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// EnhancedPhase's upsampled search must resolve a genuine sub-pixel
// shift more precisely than the bare integer peak.
func TestComputeOffsetEnhancedPhaseSubPixel(t *testing.T) {
	backend := testBackend(t)
	reference := squareFrame(80, 80, 30, 49, 30, 49)
	target := Shift(reference, frame.AlignmentOffset{DX: 3.4, DY: -2.6}, backend)

	cfg := DefaultConfig()
	cfg.Method = EnhancedPhase
	offset, err := ComputeOffset(reference, target, cfg, backend)
	if err != nil {
		t.Fatalf("ComputeOffset: %v", err)
	}

	// target = Shift(reference, (3.4,-2.6)) moves reference's content
	// forward by that much, so the offset recovering reference from
	// target is the negation.
	wantDX, wantDY := -3.4, 2.6
	if math.Abs(offset.DX-wantDX) > 0.2 {
		t.Errorf("DX = %.3f, want near %.3f", offset.DX, wantDX)
	}
	if math.Abs(offset.DY-wantDY) > 0.2 {
		t.Errorf("DY = %.3f, want near %.3f", offset.DY, wantDY)
	}
}

func TestMethodString(t *testing.T) {
	cases := map[Method]string{
		PhaseCorrelation:    "PhaseCorrelation",
		EnhancedPhase:       "EnhancedPhase",
		Centroid:            "Centroid",
		GradientCorrelation: "GradientCorrelation",
		Pyramid:             "Pyramid",
		Method(99):          "Unknown",
	}
	for method, want := range cases {
		if got := method.String(); got != want {
			t.Errorf("Method(%d).String() = %q, want %q", int(method), got, want)
		}
	}
}
