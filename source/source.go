/*
NAME
  source.go

DESCRIPTION
  source.go declares the FrameSource interface every pipeline entry
  point reads from. The real SER container reader is the external
  collaborator this module does not implement (see Non-goals); Mem and
  Dir are the in-memory test double and the lightweight reference
  container, in the same spirit as the teacher's device/file.File
  standing in for a live camera device.
*/

// Package source declares the frame-source abstraction the pipeline
// reads from, plus two reference implementations: an in-memory source
// for tests and a directory-of-PNGs source for examples.
package source

import (
	"time"

	"github.com/lucky-imaging/jupiter/frame"
)

// DebayerMethod selects how Bayer-mosaiced sources are demosaiced into
// color frames.
type DebayerMethod int

const (
	// Nearest replicates the nearest same-channel mosaic sample.
	Nearest DebayerMethod = iota
	// Bilinear averages the surrounding same-channel mosaic samples.
	Bilinear
)

func (m DebayerMethod) String() string {
	switch m {
	case Nearest:
		return "Nearest"
	case Bilinear:
		return "Bilinear"
	default:
		return "Unknown"
	}
}

// FrameSource is a seekable, on-demand frame decoder. ReadFrame and
// ReadFrameColor are safe to call concurrently from multiple
// goroutines with distinct indices (required by the quality scorer's
// parallel ranking pass and the autocrop engine's parallel sampling).
type FrameSource interface {
	// FrameCount returns the total number of frames available.
	FrameCount() int

	// ReadFrame decodes frame i as a single-channel frame. It does not
	// debayer: a Bayer source's frame comes back as its raw mosaic.
	ReadFrame(i int) (frame.Frame, error)

	// ReadFrameColor decodes frame i as color, debayering with method
	// if the source's ColorMode is a Bayer layout. Returns
	// ErrUnsupportedColor if the source is Mono.
	ReadFrameColor(i int, method DebayerMethod) (frame.ColorFrame, error)

	Width() int
	Height() int
	BitDepth() uint8
	ColorMode() frame.ColorMode

	// Timestamp returns frame i's capture time, if the source carries
	// one.
	Timestamp(i int) (time.Time, bool)
}
