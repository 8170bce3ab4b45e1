package quality

import (
	"testing"

	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/source"
)

func uniformFrame(h, w int, v float32) frame.Frame {
	f := frame.New(h, w, 8)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func checkerFrame(h, w int) frame.Frame {
	f := frame.New(h, w, 8)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if (row+col)%2 == 0 {
				f.Set(row, col, 1)
			}
		}
	}
	return f
}

func TestLaplacianVarianceZeroOnUniformFrame(t *testing.T) {
	f := uniformFrame(32, 32, 0.5)
	score := ScoreFrame(f, Laplacian)
	if score != 0 {
		t.Errorf("laplacian variance of a uniform frame = %v, want 0", score)
	}
}

func TestLaplacianVarianceHigherOnSharperFrame(t *testing.T) {
	smooth := uniformFrame(32, 32, 0.5)
	sharp := checkerFrame(32, 32)

	smoothScore := ScoreFrame(smooth, Laplacian)
	sharpScore := ScoreFrame(sharp, Laplacian)
	if sharpScore <= smoothScore {
		t.Errorf("sharp score %v should exceed smooth score %v", sharpScore, smoothScore)
	}
}

func TestRankEagerSortsDescendingWithIndexTiebreak(t *testing.T) {
	frames := []frame.Frame{
		uniformFrame(16, 16, 0.5), // flat, score 0
		checkerFrame(16, 16),      // sharp
		uniformFrame(16, 16, 0.5), // flat, score 0 (tie with index 0)
	}
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	ranked, err := RankEager(src, Laplacian)
	if err != nil {
		t.Fatalf("RankEager: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("len(ranked) = %d, want 3", len(ranked))
	}
	if ranked[0].Index != 1 {
		t.Errorf("top-ranked index = %d, want 1 (the sharp frame)", ranked[0].Index)
	}
	if ranked[1].Index != 0 || ranked[2].Index != 2 {
		t.Errorf("tied frames not broken by ascending index: got order %d,%d", ranked[1].Index, ranked[2].Index)
	}
}

func TestRankStreamingMatchesRankEagerOrder(t *testing.T) {
	frames := make([]frame.Frame, 20)
	for i := range frames {
		if i%5 == 0 {
			frames[i] = checkerFrame(16, 16)
		} else {
			frames[i] = uniformFrame(16, 16, 0.5)
		}
	}
	src, err := source.NewMem(frames, frame.Mono)
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}

	eager, err := RankEager(src, Laplacian)
	if err != nil {
		t.Fatalf("RankEager: %v", err)
	}
	streaming, err := RankStreaming(src, Laplacian)
	if err != nil {
		t.Fatalf("RankStreaming: %v", err)
	}
	if len(eager) != len(streaming) {
		t.Fatalf("length mismatch: eager %d, streaming %d", len(eager), len(streaming))
	}
	for i := range eager {
		if eager[i].Index != streaming[i].Index {
			t.Errorf("order mismatch at %d: eager index %d, streaming index %d", i, eager[i].Index, streaming[i].Index)
		}
	}
}
