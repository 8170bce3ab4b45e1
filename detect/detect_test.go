package detect

import (
	"math"
	"testing"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/internal/testutil"
)

func makeSpot(h, w, cy, cx, radius int, bg, fg float32) frame.Frame {
	f := frame.New(h, w, 8)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			f.Set(row, col, bg)
		}
	}
	for row := cy - radius; row <= cy+radius; row++ {
		for col := cx - radius; col <= cx+radius; col++ {
			if row < 0 || row >= h || col < 0 || col >= w {
				continue
			}
			dr, dc := row-cy, col-cx
			if dr*dr+dc*dc <= radius*radius {
				f.Set(row, col, fg)
			}
		}
	}
	return f
}

func TestDetectFindsCentredSpot(t *testing.T) {
	cpuBackend, err := compute.New(compute.Cpu, testutil.DiscardLogger{})
	if err != nil {
		t.Fatalf("compute.New: %v", err)
	}

	f := makeSpot(128, 128, 64, 70, 12, 0.05, 0.9)
	cfg := DefaultConfig()

	result, err := Detect(f, cfg, cpuBackend)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if math.Abs(result.CX-70) > 1.5 {
		t.Errorf("CX = %v, want close to 70", result.CX)
	}
	if math.Abs(result.CY-64) > 1.5 {
		t.Errorf("CY = %v, want close to 64", result.CY)
	}
	if result.Area < 100 {
		t.Errorf("Area = %d, want >= min area", result.Area)
	}
}

func TestDetectRejectsBorderTouchingComponent(t *testing.T) {
	cpuBackend, _ := compute.New(compute.Cpu, testutil.DiscardLogger{})
	f := makeSpot(64, 64, 0, 32, 10, 0.05, 0.9)
	cfg := DefaultConfig()
	cfg.BlurSigma = 0

	_, err := Detect(f, cfg, cpuBackend)
	if err == nil {
		t.Fatal("expected detection failure for a border-touching component, got nil error")
	}
}

func TestDetectRejectsTooSmallComponent(t *testing.T) {
	cpuBackend, _ := compute.New(compute.Cpu, testutil.DiscardLogger{})
	f := makeSpot(64, 64, 32, 32, 2, 0.05, 0.9)
	cfg := DefaultConfig()
	cfg.BlurSigma = 0
	cfg.MinArea = 1000

	_, err := Detect(f, cfg, cpuBackend)
	if err == nil {
		t.Fatal("expected detection failure for an undersized component, got nil error")
	}
}

func TestOtsuThresholdSeparatesBimodalHistogram(t *testing.T) {
	data := make([]float32, 0, 200)
	for i := 0; i < 100; i++ {
		data = append(data, 0.1)
	}
	for i := 0; i < 100; i++ {
		data = append(data, 0.9)
	}
	threshold := OtsuThreshold(data)
	if threshold < 0.3 || threshold > 0.7 {
		t.Errorf("otsuThreshold = %v, want a value between the two modes", threshold)
	}
}

