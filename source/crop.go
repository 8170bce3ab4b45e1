/*
NAME
  crop.go

DESCRIPTION
  crop.go wraps an existing FrameSource with a fixed crop rectangle,
  applying it to every frame read. This is how the orchestrator
  consumes auto-crop's output: the real container-level crop (rewriting
  a new source file with byte-copied rows, no decode required) is an
  external-collaborator concern the core doesn't implement, but the
  core still needs to process the frame at its cropped extent without
  re-reading the whole source width/height for every stage.
*/

package source

import (
	"fmt"
	"time"

	"github.com/lucky-imaging/jupiter/frame"
)

// Cropped wraps an underlying FrameSource, cropping every frame it
// returns to a fixed rectangle.
type Cropped struct {
	inner FrameSource
	rect  frame.CropRect
}

// NewCropped validates rect against src's dimensions (snapping to even
// extents first if src is Bayer-mosaiced) and wraps src to crop every
// read to it.
func NewCropped(src FrameSource, rect frame.CropRect) (*Cropped, error) {
	validated, err := rect.Validated(src.Width(), src.Height(), src.ColorMode().IsBayer())
	if err != nil {
		return nil, err
	}
	return &Cropped{inner: src, rect: validated}, nil
}

func (c *Cropped) FrameCount() int            { return c.inner.FrameCount() }
func (c *Cropped) Width() int                 { return c.rect.Width }
func (c *Cropped) Height() int                { return c.rect.Height }
func (c *Cropped) BitDepth() uint8            { return c.inner.BitDepth() }
func (c *Cropped) ColorMode() frame.ColorMode { return c.inner.ColorMode() }

func (c *Cropped) Timestamp(i int) (time.Time, bool) { return c.inner.Timestamp(i) }

func cropMono(f frame.Frame, rect frame.CropRect) (frame.Frame, error) {
	if rect.X+rect.Width > f.Width || rect.Y+rect.Height > f.Height {
		return frame.Frame{}, fmt.Errorf("%w: crop %dx%d at (%d,%d) exceeds frame %dx%d",
			frame.ErrInvalidCrop, rect.Width, rect.Height, rect.X, rect.Y, f.Width, f.Height)
	}
	out := frame.New(rect.Height, rect.Width, f.OriginalBitDepth)
	for row := 0; row < rect.Height; row++ {
		srcOff := (row+rect.Y)*f.Width + rect.X
		dstOff := row * rect.Width
		copy(out.Data[dstOff:dstOff+rect.Width], f.Data[srcOff:srcOff+rect.Width])
	}
	out.Meta = f.Meta
	return out, nil
}

// ReadFrame reads the underlying source's frame i and crops it to the
// wrapped rectangle.
func (c *Cropped) ReadFrame(i int) (frame.Frame, error) {
	f, err := c.inner.ReadFrame(i)
	if err != nil {
		return frame.Frame{}, err
	}
	return cropMono(f, c.rect)
}

// ReadFrameColor reads the underlying source's color frame i and crops
// all three channels to the wrapped rectangle.
func (c *Cropped) ReadFrameColor(i int, method DebayerMethod) (frame.ColorFrame, error) {
	cf, err := c.inner.ReadFrameColor(i, method)
	if err != nil {
		return frame.ColorFrame{}, err
	}
	r, err := cropMono(cf.R, c.rect)
	if err != nil {
		return frame.ColorFrame{}, err
	}
	g, err := cropMono(cf.G, c.rect)
	if err != nil {
		return frame.ColorFrame{}, err
	}
	b, err := cropMono(cf.B, c.rect)
	if err != nil {
		return frame.ColorFrame{}, err
	}
	return frame.ColorFrame{R: r, G: g, B: b}, nil
}
