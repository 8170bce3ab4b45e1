package frame

import "errors"

// Sentinel errors shared by every pipeline stage. Stage-specific errors
// wrap one of these with fmt.Errorf("...: %w", ...) so callers can test
// with errors.Is regardless of which stage produced the failure.
var (
	ErrSourceInvalid      = errors.New("frame source invalid")
	ErrIndexOutOfRange    = errors.New("frame index out of range")
	ErrEmptySequence      = errors.New("empty frame sequence")
	ErrDetectionFailed    = errors.New("planet detection failed")
	ErrUnsupportedColor   = errors.New("unsupported color mode")
	ErrBackendUnavailable = errors.New("compute backend unavailable")
	ErrInvalidCrop        = errors.New("invalid crop rectangle")
	ErrIO                 = errors.New("frame source i/o error")
)
