package sharpen

import (
	"math"
	"testing"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/internal/testutil"
)

func cpuBackend(t *testing.T) compute.Backend {
	t.Helper()
	b, err := compute.New(compute.Cpu, testutil.DiscardLogger{})
	if err != nil {
		t.Fatalf("compute.New: %v", err)
	}
	return b
}

func sinusoidFrame(h, w int) frame.Frame {
	f := frame.New(h, w, 8)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			v := math.Sin(0.1*float64(row)+0.05*float64(col))*0.5 + 0.5
			f.Set(row, col, float32(v))
		}
	}
	return f
}

func maxAbsDiff(a, b frame.Frame) float64 {
	var max float64
	for i := range a.Data {
		d := math.Abs(float64(a.Data[i] - b.Data[i]))
		if d > max {
			max = d
		}
	}
	return max
}

func TestDecomposeReconstructIdentity(t *testing.T) {
	backend := cpuBackend(t)
	f := sinusoidFrame(32, 32)

	d := Decompose(f, 4, backend)
	unit := []float32{1, 1, 1, 1}
	out := Reconstruct(d, unit, nil)

	if diff := maxAbsDiff(f, out); diff >= 1e-4 {
		t.Fatalf("round-trip max error %g, want < 1e-4", diff)
	}
}

func TestSharpenUniformFrameStaysUniform(t *testing.T) {
	backend := cpuBackend(t)
	f := frame.New(16, 16, 8)
	for i := range f.Data {
		f.Data[i] = 0.42
	}

	out, err := Sharpen(f, DefaultParams(), backend)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	for i, v := range out.Data {
		if math.Abs(float64(v-0.42)) >= 1e-4 {
			t.Fatalf("pixel %d = %v, want ~0.42", i, v)
		}
	}
}

func TestSharpenRejectsNonPositiveLayers(t *testing.T) {
	backend := cpuBackend(t)
	f := sinusoidFrame(8, 8)
	if _, err := Sharpen(f, Params{NumLayers: 0}, backend); err == nil {
		t.Fatal("expected error for zero layers")
	}
}

func TestReconstructAppliesDenoiseThreshold(t *testing.T) {
	backend := cpuBackend(t)
	f := sinusoidFrame(32, 32)
	d := Decompose(f, 3, backend)

	// A large denoise threshold should zero out small detail
	// coefficients, pulling the reconstruction toward the residual.
	denoised := Reconstruct(d, []float32{1, 1, 1}, []float32{10, 10, 10})
	plain := Reconstruct(d, []float32{1, 1, 1}, nil)

	if maxAbsDiff(denoised, d.Residual) > maxAbsDiff(plain, d.Residual) {
		t.Fatal("heavy denoise reconstruction should move closer to the residual than the undenoised one")
	}
}

func TestSharpenThenShapePreserved(t *testing.T) {
	backend := cpuBackend(t)
	f := sinusoidFrame(24, 40)
	out, err := Sharpen(f, DefaultParams(), backend)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	if out.Height != f.Height || out.Width != f.Width {
		t.Fatalf("shape changed: got %dx%d, want %dx%d", out.Height, out.Width, f.Height, f.Width)
	}
}
