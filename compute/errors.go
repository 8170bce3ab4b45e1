package compute

import "errors"

// ErrUnavailable is returned when an explicitly requested backend
// cannot be constructed (e.g. GPU requested but the "withcv" build tag
// was not compiled in, or OpenCV device initialisation failed).
var ErrUnavailable = errors.New("compute backend unavailable")
