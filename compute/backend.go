/*
NAME
  backend.go

DESCRIPTION
  backend.go declares the polymorphic compute backend: a single interface
  implemented by a CPU (goroutine pool) variant and, under the "withcv"
  build tag, a GPU variant backed by OpenCV via gocv. Call sites are
  coarse -- one per algorithmic stage -- so the interface dispatch cost
  is immaterial.
*/

// Package compute provides a backend-agnostic set of numerical
// primitives (FFT, convolution, peak search, bilinear resample) used by
// the aligner, sharpener and detector. Two backends are available: a
// CPU backend built from goroutines and a GPU backend built from OpenCV
// (gated behind the "withcv" build tag).
package compute

import (
	"fmt"

	"github.com/ausocean/utils/logging"
)

// DevicePreference selects which backend New should construct.
type DevicePreference int

const (
	Auto DevicePreference = iota
	Cpu
	Gpu
	Cuda
)

func (d DevicePreference) String() string {
	switch d {
	case Auto:
		return "Auto"
	case Cpu:
		return "CPU"
	case Gpu:
		return "GPU"
	case Cuda:
		return "CUDA"
	default:
		return "Unknown"
	}
}

// Buffer is an opaque numerical buffer that may live in CPU or GPU
// memory. Height/Width describe the logical shape; complex buffers
// (produced by FFT2D) store interleaved [re, im, re, im, ...] samples so
// their storage width is 2*Width.
type Buffer struct {
	data   []float32
	Height int
	Width  int
}

// FromSlice wraps an existing real-valued row-major slice as a Buffer.
func FromSlice(data []float32, height, width int) Buffer {
	return Buffer{data: data, Height: height, Width: width}
}

// Slice exposes the underlying storage. Callers on the CPU backend may
// read and write through it directly; GPU-backed buffers materialise a
// CPU copy on Download instead.
func (b Buffer) Slice() []float32 { return b.data }

// Backend is the capability set every compute backend must implement.
// It mirrors the operations spec'd in the compute-backend design note:
// FFT, cross-power spectrum, Hann window, peak search, bilinear shift,
// separable and a-trous convolution, and elementwise complex/real ops.
type Backend interface {
	// Name is a human-readable backend identifier, e.g. "CPU" or
	// "GPU/OpenCV".
	Name() string

	// IsGPUPreferred reports whether phase-correlation dispatch should
	// avoid round-tripping through this backend for small inputs.
	IsGPUPreferred() bool

	// FFT2D computes the forward 2D FFT of a real (H,W) buffer,
	// returning a complex-interleaved (H, 2W) buffer with logical
	// width W.
	FFT2D(in Buffer) Buffer

	// IFFT2DReal computes the inverse 2D FFT of a complex-interleaved
	// buffer, returning the real part cropped to (height, width) and
	// normalised by 1/(height*width).
	IFFT2DReal(in Buffer, height, width int) Buffer

	// CrossPowerSpectrum computes A . conj(B) / (|A . conj(B)| + eps)
	// elementwise on two complex-interleaved buffers of identical
	// shape.
	CrossPowerSpectrum(a, b Buffer, eps float32) Buffer

	// HannWindow multiplies a real buffer by the separable Hann window.
	HannWindow(in Buffer) Buffer

	// FindPeak returns the (row, col, value) of the maximum sample in a
	// real buffer; ties break by the lowest linear index.
	FindPeak(in Buffer) (row, col int, value float64)

	// ShiftBilinear translates a real buffer by (dx, dy) using bilinear
	// interpolation with zero-padding for out-of-bounds samples.
	ShiftBilinear(in Buffer, dx, dy float64) Buffer

	// ConvolveSeparable applies a 1D kernel as a row pass then a column
	// pass, clamping to the edge at the boundary.
	ConvolveSeparable(in Buffer, kernel []float32) Buffer

	// AtrousConvolve applies the B3-spline kernel dilated by 2^scale,
	// with mirror-reflection boundary handling.
	AtrousConvolve(in Buffer, scale int) Buffer

	// ComplexMul multiplies two complex-interleaved buffers elementwise.
	ComplexMul(a, b Buffer) Buffer

	// DivideReal computes out[i] = a[i] / (b[i] + eps) elementwise.
	DivideReal(a, b Buffer, eps float32) Buffer

	// MultiplyReal computes out[i] = a[i] * b[i] elementwise.
	MultiplyReal(a, b Buffer) Buffer

	// Upload moves a CPU-resident slice onto this backend's preferred
	// memory. For the CPU backend this is a no-op wrap.
	Upload(data []float32, height, width int) Buffer

	// Download materialises buf's contents as a CPU-resident slice.
	Download(buf Buffer) []float32
}

// New constructs a Backend according to pref. Auto prefers GPU and
// falls back to CPU with a warning if the GPU backend cannot be built
// (not compiled in, or OpenCV init failure). Gpu fails hard unless the
// fallback happened via Auto. Cuda is not implemented and always
// degrades to CPU with a warning.
func New(pref DevicePreference, log logging.Logger) (Backend, error) {
	switch pref {
	case Cpu:
		return newCPUBackend(), nil

	case Gpu:
		b, err := newGPUBackend()
		if err != nil {
			return nil, fmt.Errorf("%w: explicit GPU backend requested: %v", ErrUnavailable, err)
		}
		return b, nil

	case Cuda:
		log.Warning("CUDA backend not implemented, falling back to CPU")
		return newCPUBackend(), nil

	case Auto:
		fallthrough
	default:
		b, err := newGPUBackend()
		if err != nil {
			log.Warning("GPU backend unavailable, falling back to CPU", "error", err.Error())
			return newCPUBackend(), nil
		}
		return b, nil
	}
}
