package source

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucky-imaging/jupiter/frame"
)

func constFrame(h, w int, v float32) frame.Frame {
	f := frame.New(h, w, 8)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func TestNewMemRejectsEmptySlice(t *testing.T) {
	if _, err := NewMem(nil, frame.Mono); err != frame.ErrEmptySequence {
		t.Fatalf("NewMem(nil): err = %v, want ErrEmptySequence", err)
	}
}

func TestNewMemRejectsMismatchedShapes(t *testing.T) {
	frames := []frame.Frame{constFrame(4, 4, 0), constFrame(4, 5, 0)}
	if _, err := NewMem(frames, frame.Mono); err == nil {
		t.Fatal("NewMem with mismatched shapes: want error, got nil")
	}
}

func TestMemReadFrameOutOfRange(t *testing.T) {
	m, err := NewMem([]frame.Frame{constFrame(2, 2, 0.5)}, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	if _, err := m.ReadFrame(5); !errors.Is(err, frame.ErrIndexOutOfRange) {
		t.Fatalf("ReadFrame(5): err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestMemTimestampsRoundTrip(t *testing.T) {
	m, err := NewMem([]frame.Frame{constFrame(2, 2, 0), constFrame(2, 2, 0)}, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	now := time.Unix(1000, 0)
	m.WithTimestamps([]time.Time{now, now.Add(time.Second)})

	if ts, ok := m.Timestamp(0); !ok || !ts.Equal(now) {
		t.Fatalf("Timestamp(0) = %v, %v; want %v, true", ts, ok, now)
	}
	if _, ok := m.Timestamp(-1); ok {
		t.Fatal("Timestamp(-1) should report no timestamp")
	}
}

func TestMemReadFrameColorRejectsMono(t *testing.T) {
	m, err := NewMem([]frame.Frame{constFrame(2, 2, 0.5)}, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	if _, err := m.ReadFrameColor(0, Nearest); !errors.Is(err, frame.ErrUnsupportedColor) {
		t.Fatalf("ReadFrameColor on Mono: err = %v, want ErrUnsupportedColor", err)
	}
}

func TestMemReadFrameColorDebayersBayerSource(t *testing.T) {
	f := constFrame(4, 4, 0.5)
	m, err := NewMem([]frame.Frame{f}, frame.BayerRGGB)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	cf, err := m.ReadFrameColor(0, Bilinear)
	if err != nil {
		t.Fatalf("ReadFrameColor: %v", err)
	}
	if cf.R.Height != 4 || cf.R.Width != 4 {
		t.Fatalf("R shape = %dx%d, want 4x4", cf.R.Height, cf.R.Width)
	}
}

func writeGrayPNG(t *testing.T, path string, h, w int, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestOpenDirReadsNumberedFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeGrayPNG(t, filepath.Join(dir, "0000.png"), 4, 4, 50)
	writeGrayPNG(t, filepath.Join(dir, "0001.png"), 4, 4, 200)

	src, err := OpenDir(dir, frame.Mono)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	if src.FrameCount() != 2 {
		t.Fatalf("FrameCount = %d, want 2", src.FrameCount())
	}

	first, err := src.ReadFrame(0)
	if err != nil {
		t.Fatalf("ReadFrame(0): %v", err)
	}
	second, err := src.ReadFrame(1)
	if err != nil {
		t.Fatalf("ReadFrame(1): %v", err)
	}
	if first.Data[0] >= second.Data[0] {
		t.Fatalf("frame 0 luminance %v should be darker than frame 1 %v", first.Data[0], second.Data[0])
	}
}

func TestOpenDirRejectsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenDir(dir, frame.Mono); !errors.Is(err, frame.ErrEmptySequence) {
		t.Fatalf("OpenDir(empty): err = %v, want ErrEmptySequence", err)
	}
}

func TestCroppedClipsEveryRead(t *testing.T) {
	frames := make([]frame.Frame, 3)
	for i := range frames {
		f := frame.New(8, 8, 8)
		for row := 0; row < 8; row++ {
			for col := 0; col < 8; col++ {
				f.Set(row, col, float32(row*8+col)/64)
			}
		}
		frames[i] = f
	}
	src, err := NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	cropped, err := NewCropped(src, frame.CropRect{X: 2, Y: 2, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("NewCropped: %v", err)
	}
	if cropped.Width() != 4 || cropped.Height() != 4 {
		t.Fatalf("cropped shape = %dx%d, want 4x4", cropped.Width(), cropped.Height())
	}

	out, err := cropped.ReadFrame(0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	want := frames[0].At(2, 2)
	if out.At(0, 0) != want {
		t.Fatalf("cropped(0,0) = %v, want original(2,2) = %v", out.At(0, 0), want)
	}
}

func TestCroppedRejectsOutOfBoundsRect(t *testing.T) {
	src, err := NewMem([]frame.Frame{constFrame(4, 4, 0)}, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	if _, err := NewCropped(src, frame.CropRect{X: 0, Y: 0, Width: 100, Height: 100}); err == nil {
		t.Fatal("NewCropped with an oversized rect: want error, got nil")
	}
}
