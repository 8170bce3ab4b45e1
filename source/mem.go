/*
NAME
  mem.go

DESCRIPTION
  mem.go implements an in-memory FrameSource: a fixed slice of frames
  held in memory, used by tests and by callers that have already
  decoded a short sequence. Grounded on device/file.File's role in the
  teacher as a simple stand-in AVDevice, but simpler still since there
  is no byte-stream framing to replay.
*/

package source

import (
	"fmt"
	"time"

	"github.com/lucky-imaging/jupiter/frame"
)

// Mem is a FrameSource backed by an in-memory slice of mono frames, all
// sharing the same shape. Safe for concurrent ReadFrame calls.
type Mem struct {
	frames     []frame.Frame
	mode       frame.ColorMode
	bitDepth   uint8
	width      int
	height     int
	timestamps []time.Time
	hasTime    []bool
}

// NewMem wraps frames as a Mem source. mode describes the mosaic/color
// layout the frames were captured in (Mono if they are already
// luminance). All frames must share frames[0]'s shape.
func NewMem(frames []frame.Frame, mode frame.ColorMode) (*Mem, error) {
	if len(frames) == 0 {
		return nil, frame.ErrEmptySequence
	}
	w, h := frames[0].Width, frames[0].Height
	var bitDepth uint8
	if len(frames) > 0 {
		bitDepth = frames[0].OriginalBitDepth
	}
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("%w: frame %d shape %dx%d does not match %dx%d",
				frame.ErrSourceInvalid, i, f.Width, f.Height, w, h)
		}
	}
	return &Mem{frames: frames, mode: mode, bitDepth: bitDepth, width: w, height: h}, nil
}

// WithTimestamps attaches a per-frame capture time. len(ts) must equal
// FrameCount().
func (m *Mem) WithTimestamps(ts []time.Time) *Mem {
	hasTime := make([]bool, len(ts))
	for i := range hasTime {
		hasTime[i] = true
	}
	m.timestamps = ts
	m.hasTime = hasTime
	return m
}

func (m *Mem) FrameCount() int      { return len(m.frames) }
func (m *Mem) Width() int           { return m.width }
func (m *Mem) Height() int          { return m.height }
func (m *Mem) BitDepth() uint8      { return m.bitDepth }
func (m *Mem) ColorMode() frame.ColorMode { return m.mode }

func (m *Mem) checkIndex(i int) error {
	if i < 0 || i >= len(m.frames) {
		return fmt.Errorf("%w: index %d, count %d", frame.ErrIndexOutOfRange, i, len(m.frames))
	}
	return nil
}

// ReadFrame returns a clone of the stored frame at i, whatever the
// source's ColorMode: for a Bayer source that is the raw mosaic, which
// ReadFrameColor debayers.
func (m *Mem) ReadFrame(i int) (frame.Frame, error) {
	if err := m.checkIndex(i); err != nil {
		return frame.Frame{}, err
	}
	return m.frames[i].Clone(), nil
}

// ReadFrameColor debayers the frame at i using method. Returns
// ErrUnsupportedColor if the source's ColorMode is Mono.
func (m *Mem) ReadFrameColor(i int, method DebayerMethod) (frame.ColorFrame, error) {
	if err := m.checkIndex(i); err != nil {
		return frame.ColorFrame{}, err
	}
	if !m.mode.IsBayer() {
		return frame.ColorFrame{}, fmt.Errorf("%w: Mem source is mode %s", frame.ErrUnsupportedColor, m.mode)
	}
	return debayer(m.frames[i], m.mode, method)
}

// Timestamp returns frame i's capture time, if any was attached.
func (m *Mem) Timestamp(i int) (time.Time, bool) {
	if i < 0 || i >= len(m.hasTime) || !m.hasTime[i] {
		return time.Time{}, false
	}
	return m.timestamps[i], true
}
