/*
NAME
  postfilter.go

DESCRIPTION
  postfilter.go declares the cosmetic filter-chain step interface the
  orchestrator runs after stacking and sharpening -- gamma, histogram
  stretch, brightness/contrast, unsharp mask and Gaussian blur, each a
  pure Frame -> Frame transform over decoded pixels. An empty chain is
  the identity.
*/

// Package postfilter applies a configurable chain of cosmetic,
// non-destructive adjustments to a stacked-and-sharpened frame.
package postfilter

import "github.com/lucky-imaging/jupiter/frame"

// Step is a single filter-chain transform. Every Step is pure: it
// returns a new Frame rather than mutating its argument, so a chain can
// be re-run or reordered without aliasing surprises.
type Step interface {
	Apply(f frame.Frame) frame.Frame
}

// Chain applies a sequence of Steps in order. A nil or empty Chain is
// the identity, satisfying the round-trip invariant that a pipeline run
// with no filters configured reproduces its stacked-and-sharpened
// output unchanged.
type Chain []Step

// Apply runs every step in the chain in order, threading each step's
// output into the next step's input.
func (c Chain) Apply(f frame.Frame) frame.Frame {
	out := f
	for _, step := range c {
		out = step.Apply(out)
	}
	return out
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
