package pipeline

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

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

func TestWatchRunsPipelineOnQuiescentSubdirectory(t *testing.T) {
	backend := cpuBackend(t)
	root := t.TempDir()
	seqDir := filepath.Join(root, "seq0")
	if err := os.Mkdir(seqDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stop := make(chan struct{})
	cfg := noSharpenConfig()
	cfg.FrameSelection.SelectPercentage = 1.0

	results, err := Watch(root, cfg, backend, nil, WatchConfig{Quiet: 50 * time.Millisecond, SourceColorMode: 0}, stop)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeGrayPNG(t, filepath.Join(seqDir, "0000.png"), 8, 8, 50)
	writeGrayPNG(t, filepath.Join(seqDir, "0001.png"), 8, 8, 60)

	select {
	case res := <-results:
		if res.Dir != seqDir {
			t.Fatalf("result dir = %q, want %q", res.Dir, seqDir)
		}
		if res.Err != nil {
			t.Fatalf("Run inside Watch: %v", res.Err)
		}
		if res.Output.Mono == nil {
			t.Fatal("expected a mono output for a mono sequence")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Watch to report a result")
	}

	close(stop)
}
