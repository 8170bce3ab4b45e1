package stack

import (
	"fmt"

	"github.com/lucky-imaging/jupiter/frame"
)

type frameShapeError struct {
	index                          int
	height, width                 int
	wantHeight, wantWidth         int
}

func (e *frameShapeError) Error() string {
	return fmt.Sprintf("%s: frame %d is %dx%d, want %dx%d", frame.ErrSourceInvalid, e.index, e.height, e.width, e.wantHeight, e.wantWidth)
}

func (e *frameShapeError) Unwrap() error { return frame.ErrSourceInvalid }

type offsetCountError struct {
	got, want int
}

func (e *offsetCountError) Error() string {
	return fmt.Sprintf("%s: %d offsets for %d frames", frame.ErrSourceInvalid, e.got, e.want)
}

func (e *offsetCountError) Unwrap() error { return frame.ErrSourceInvalid }
