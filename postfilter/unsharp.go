/*
NAME
  unsharp.go

DESCRIPTION
  unsharp.go implements unsharp-mask sharpening: blur a copy, add back
  the scaled difference wherever it exceeds a noise threshold.
*/

package postfilter

import (
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
)

// UnsharpMask sharpens by adding back Amount of the difference between
// a frame and a Gaussian-blurred (sigma Radius) copy of itself,
// wherever that difference exceeds Threshold.
type UnsharpMask struct {
	Radius    float32
	Amount    float32
	Threshold float32
	Backend   compute.Backend
}

func (u UnsharpMask) Apply(f frame.Frame) frame.Frame {
	blurred := gaussianBlurFrame(f, u.Radius, u.Backend)
	out := f.Clone()
	for i, orig := range f.Data {
		diff := orig - blurred.Data[i]
		abs := diff
		if abs < 0 {
			abs = -abs
		}
		if abs > u.Threshold {
			out.Data[i] = clamp01(orig + diff*u.Amount)
		} else {
			out.Data[i] = orig
		}
	}
	return out
}
