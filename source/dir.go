/*
NAME
  dir.go

DESCRIPTION
  dir.go implements a FrameSource over a directory of sequentially
  numbered grayscale PNGs (e.g. "0000.png", "0001.png", ...), decoded
  on demand with the standard image/png decoder. This is the reference
  container used by examples and integration tests in place of the
  real SER reader named as out-of-scope, playing the same role
  device/file.File plays for the teacher's AVDevice interface.
*/

package source

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucky-imaging/jupiter/frame"
)

// Dir is a FrameSource that decodes numbered PNG files from a
// directory on demand. Frames are decoded fresh on every ReadFrame
// call, so it is safe for concurrent reads of distinct indices.
type Dir struct {
	paths    []string
	mode     frame.ColorMode
	width    int
	height   int
	bitDepth uint8
}

// OpenDir globs *.png in dir, sorted lexically (so zero-padded
// filenames order correctly), and probes the first file for shape and
// bit depth. mode describes how to interpret multi-channel files:
// frame.Mono treats them as already-grayscale (reducing an RGB PNG to
// BT.601 luminance), frame.RGB/BGR keeps them as color sources.
func OpenDir(dir string, mode frame.ColorMode) (*Dir, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("%w: glob %s: %v", frame.ErrIO, dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no PNG files in %s", frame.ErrEmptySequence, dir)
	}
	sort.Strings(matches)

	first, bitDepth, err := decodePNGMono(matches[0])
	if err != nil {
		return nil, err
	}

	return &Dir{
		paths:    matches,
		mode:     mode,
		width:    first.Width,
		height:   first.Height,
		bitDepth: bitDepth,
	}, nil
}

func (d *Dir) FrameCount() int           { return len(d.paths) }
func (d *Dir) Width() int                { return d.width }
func (d *Dir) Height() int               { return d.height }
func (d *Dir) BitDepth() uint8           { return d.bitDepth }
func (d *Dir) ColorMode() frame.ColorMode { return d.mode }

// Timestamp never returns a capture time: PNG files carry no
// timestamp metadata this reader consults.
func (d *Dir) Timestamp(i int) (time.Time, bool) { return time.Time{}, false }

func (d *Dir) checkIndex(i int) error {
	if i < 0 || i >= len(d.paths) {
		return fmt.Errorf("%w: index %d, count %d", frame.ErrIndexOutOfRange, i, len(d.paths))
	}
	return nil
}

func (d *Dir) ReadFrame(i int) (frame.Frame, error) {
	if err := d.checkIndex(i); err != nil {
		return frame.Frame{}, err
	}
	f, _, err := decodePNGMono(d.paths[i])
	if err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}

func (d *Dir) ReadFrameColor(i int, method DebayerMethod) (frame.ColorFrame, error) {
	if err := d.checkIndex(i); err != nil {
		return frame.ColorFrame{}, err
	}
	if d.mode.IsBayer() {
		mosaic, _, err := decodePNGMono(d.paths[i])
		if err != nil {
			return frame.ColorFrame{}, err
		}
		return debayer(mosaic, d.mode, method)
	}
	if d.mode == frame.RGB || d.mode == frame.BGR {
		return decodePNGColor(d.paths[i], d.mode)
	}
	return frame.ColorFrame{}, fmt.Errorf("%w: Dir source is mode %s", frame.ErrUnsupportedColor, d.mode)
}

func decodePNGMono(path string) (frame.Frame, uint8, error) {
	img, bitDepth, err := decodePNGImage(path)
	if err != nil {
		return frame.Frame{}, 0, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := frame.New(h, w, bitDepth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := float32(r)*frame.LuminanceR + float32(g)*frame.LuminanceG + float32(b)*frame.LuminanceB
			out.Set(y, x, lum/65535.0)
		}
	}
	return out, bitDepth, nil
}

func decodePNGColor(path string, mode frame.ColorMode) (frame.ColorFrame, error) {
	img, bitDepth, err := decodePNGImage(path)
	if err != nil {
		return frame.ColorFrame{}, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	r := frame.New(h, w, bitDepth)
	g := frame.New(h, w, bitDepth)
	b := frame.New(h, w, bitDepth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rr, gg, bb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r.Set(y, x, float32(rr)/65535.0)
			g.Set(y, x, float32(gg)/65535.0)
			b.Set(y, x, float32(bb)/65535.0)
		}
	}
	if mode == frame.BGR {
		r, b = b, r
	}
	return frame.ColorFrame{R: r, G: g, B: b}, nil
}

func decodePNGImage(path string) (image.Image, uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %v", frame.ErrIO, path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode %s: %v", frame.ErrIO, path, err)
	}

	bitDepth := uint8(8)
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		bitDepth = 16
	}
	return img, bitDepth, nil
}
