package autocrop

import (
	"testing"

	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/internal/testutil"
	"github.com/lucky-imaging/jupiter/source"
)

func makeDriftingSequence(n, h, w, radius int) []frame.Frame {
	frames := make([]frame.Frame, n)
	for i := 0; i < n; i++ {
		f := frame.New(h, w, 8)
		for idx := range f.Data {
			f.Data[idx] = 0.05
		}
		cy := h/2 + i%3 - 1
		cx := w/2 + i%2
		for row := cy - radius; row <= cy+radius; row++ {
			for col := cx - radius; col <= cx+radius; col++ {
				if row < 0 || row >= h || col < 0 || col >= w {
					continue
				}
				dr, dc := row-cy, col-cx
				if dr*dr+dc*dc <= radius*radius {
					f.Set(row, col, 0.9)
				}
			}
		}
		frames[i] = f
	}
	return frames
}

func TestDetectProducesCenteredSquareCrop(t *testing.T) {
	frames := makeDriftingSequence(10, 200, 200, 15)
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	backend, err := compute.New(compute.Cpu, testutil.DiscardLogger{})
	if err != nil {
		t.Fatalf("compute.New: %v", err)
	}

	cfg := DefaultConfig()
	cfg.SampleCount = 8

	rect, err := Detect(src, cfg, backend)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if rect.Width != rect.Height {
		t.Errorf("crop not square: %dx%d", rect.Width, rect.Height)
	}
	if rect.Width%SizeAlignment != 0 {
		t.Errorf("crop width %d not aligned to %d", rect.Width, SizeAlignment)
	}
	if rect.X < 0 || rect.Y < 0 || rect.X+rect.Width > 200 || rect.Y+rect.Height > 200 {
		t.Errorf("crop rect %+v out of source bounds", rect)
	}
}

func TestSigmaClip1DRejectsOutlier(t *testing.T) {
	values := []float64{10, 10.1, 9.9, 10.05, 9.95, 10.02, 9.98, 10.03, 9.97, 10.01, 500}
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	outlier := len(values) - 1
	sigmaClip1D(values, valid)
	if valid[outlier] {
		t.Error("expected the far outlier to be rejected")
	}
	for i := 0; i < outlier; i++ {
		if !valid[i] {
			t.Errorf("expected index %d to survive sigma-clipping", i)
		}
	}
}
