/*
NAME
  types.go

DESCRIPTION
  types.go declares the pipeline's output type, its stage enumeration
  for progress reporting, and the progress-reporter contract the
  orchestrator drives every stage boundary through.
*/

package pipeline

import "github.com/lucky-imaging/jupiter/frame"

// Stage identifies which part of the pipeline a progress event belongs
// to. Every reporter call names the stage it is actually in -- no
// stage name is ever hard-coded to a different one than the work in
// progress.
type Stage int

const (
	Reading Stage = iota
	Cropping
	QualityAssessment
	FrameSelection
	Alignment
	Stacking
	Sharpening
	Filtering
	Writing
)

func (s Stage) String() string {
	switch s {
	case Reading:
		return "Reading frames"
	case Cropping:
		return "Cropping"
	case QualityAssessment:
		return "Assessing quality"
	case FrameSelection:
		return "Selecting best frames"
	case Alignment:
		return "Aligning frames"
	case Stacking:
		return "Stacking"
	case Sharpening:
		return "Sharpening"
	case Filtering:
		return "Applying filters"
	case Writing:
		return "Writing output"
	default:
		return "Unknown"
	}
}

// Output is the pipeline's final result: either a mono Frame or a
// ColorFrame, depending on whether the source was color and mono
// processing wasn't forced.
type Output struct {
	Color    *frame.ColorFrame
	Mono     *frame.Frame
}

// ToMono returns a mono view of the output, converting a color result
// via its luminance.
func (o Output) ToMono() frame.Frame {
	if o.Mono != nil {
		return *o.Mono
	}
	return o.Color.Luminance()
}

// ProgressReporter receives one event per stage boundary. The
// orchestrator makes no assumption about delivery guarantees -- a host
// shell may drop, batch, or forward these to a UI. All methods are
// optional to implement meaningfully; NoopReporter satisfies the
// interface by discarding everything.
type ProgressReporter interface {
	// BeginStage announces stage starting, with its total item count
	// if known in advance.
	BeginStage(stage Stage, totalItems int)
	// Advance reports that itemsDone items of the current stage have
	// completed.
	Advance(itemsDone int)
	// FinishStage announces the current stage has completed.
	FinishStage()
}

// NoopReporter discards every progress event. Used when the caller
// doesn't need progress feedback.
type NoopReporter struct{}

func (NoopReporter) BeginStage(Stage, int) {}
func (NoopReporter) Advance(int)           {}
func (NoopReporter) FinishStage()          {}
