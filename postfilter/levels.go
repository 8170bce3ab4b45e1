/*
NAME
  levels.go

DESCRIPTION
  levels.go implements gamma correction and brightness/contrast
  adjustment, both pointwise steps with no neighbourhood dependence.
*/

package postfilter

import (
	"math"

	"github.com/lucky-imaging/jupiter/frame"
)

// Gamma applies output = input^(1/Value). Value > 1 brightens midtones,
// Value < 1 darkens them.
type Gamma struct {
	Value float32
}

func (g Gamma) Apply(f frame.Frame) frame.Frame {
	invGamma := float64(1 / g.Value)
	out := f.Clone()
	for i, v := range f.Data {
		out.Data[i] = clamp01(float32(math.Pow(float64(clamp01(v)), invGamma)))
	}
	return out
}

// BrightnessContrast adds Brightness and scales around the 0.5 midpoint
// by Contrast (1.0 is unchanged).
type BrightnessContrast struct {
	Brightness float32
	Contrast   float32
}

func (bc BrightnessContrast) Apply(f frame.Frame) frame.Frame {
	out := f.Clone()
	for i, v := range f.Data {
		out.Data[i] = clamp01((v-0.5)*bc.Contrast + 0.5 + bc.Brightness)
	}
	return out
}
