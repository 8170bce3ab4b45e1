/*
NAME
  cpu.go

DESCRIPTION
  cpu.go implements the CPU compute backend. FFT work is delegated to
  github.com/mjibson/go-dsp/fft (the same FFT package the teacher uses
  for PCM band filtering); everything else is plain Go, row-parallelised
  above ParallelPixelThreshold with golang.org/x/sync/errgroup.
*/

package compute

import (
	"context"
	"math"
	"runtime"

	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"
)

// ParallelPixelThreshold is the minimum pixel count (H*W) above which
// row-level work is fanned out across goroutines.
const ParallelPixelThreshold = 65536

// Epsilon guards divisions against zero denominators.
const Epsilon = 1e-10

type cpuBackend struct{}

func newCPUBackend() Backend { return cpuBackend{} }

func (cpuBackend) Name() string        { return "CPU" }
func (cpuBackend) IsGPUPreferred() bool { return false }

// parallelRows runs fn(row) for every row in [0,height), fanned out
// across goroutines when height*width crosses ParallelPixelThreshold.
// Errors are impossible here (fn never fails) but errgroup keeps the
// fan-out/join pattern identical to the parallel stages elsewhere in
// the pipeline that do need error propagation.
func parallelRows(height, width int, fn func(row int)) {
	if height*width < ParallelPixelThreshold {
		for row := 0; row < height; row++ {
			fn(row)
		}
		return
	}

	g, _ := errgroup.WithContext(context.Background())
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (height + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > height {
			end = height
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			for row := start; row < end; row++ {
				fn(row)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (cpuBackend) FFT2D(in Buffer) Buffer {
	grid := make([][]complex128, in.Height)
	for r := 0; r < in.Height; r++ {
		row := make([]complex128, in.Width)
		base := r * in.Width
		for c := 0; c < in.Width; c++ {
			row[c] = complex(float64(in.data[base+c]), 0)
		}
		grid[r] = row
	}

	out := fft.FFT2(grid)

	result := make([]float32, in.Height*2*in.Width)
	for r := 0; r < in.Height; r++ {
		base := r * 2 * in.Width
		for c := 0; c < in.Width; c++ {
			result[base+2*c] = float32(real(out[r][c]))
			result[base+2*c+1] = float32(imag(out[r][c]))
		}
	}
	return Buffer{data: result, Height: in.Height, Width: in.Width}
}

func (cpuBackend) IFFT2DReal(in Buffer, height, width int) Buffer {
	grid := make([][]complex128, in.Height)
	for r := 0; r < in.Height; r++ {
		row := make([]complex128, in.Width)
		base := r * 2 * in.Width
		for c := 0; c < in.Width; c++ {
			row[c] = complex(float64(in.data[base+2*c]), float64(in.data[base+2*c+1]))
		}
		grid[r] = row
	}

	out := fft.IFFT2(grid)

	h := height
	if h > in.Height {
		h = in.Height
	}
	w := width
	if w > in.Width {
		w = in.Width
	}

	result := make([]float32, height*width)
	for r := 0; r < h; r++ {
		base := r * width
		for c := 0; c < w; c++ {
			result[base+c] = float32(real(out[r][c]))
		}
	}
	return Buffer{data: result, Height: height, Width: width}
}

func (cpuBackend) CrossPowerSpectrum(a, b Buffer, eps float32) Buffer {
	n := a.Height * a.Width
	out := make([]float32, n*2)
	for i := 0; i < n; i++ {
		ar, ai := a.data[2*i], a.data[2*i+1]
		br, bi := b.data[2*i], b.data[2*i+1]
		// conj(B) = (br, -bi)
		cr := ar*br + ai*bi
		ci := ai*br - ar*bi
		mag := float32(math.Sqrt(float64(cr*cr + ci*ci)))
		denom := mag + eps
		out[2*i] = cr / denom
		out[2*i+1] = ci / denom
	}
	return Buffer{data: out, Height: a.Height, Width: a.Width}
}

func (cpuBackend) HannWindow(in Buffer) Buffer {
	h, w := in.Height, in.Width
	wr := make([]float32, h)
	wc := make([]float32, w)
	for i := 0; i < h; i++ {
		wr[i] = hannCoeff(i, h)
	}
	for j := 0; j < w; j++ {
		wc[j] = hannCoeff(j, w)
	}

	out := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		for col := 0; col < w; col++ {
			out[base+col] = in.data[base+col] * wr[row] * wc[col]
		}
	})
	return Buffer{data: out, Height: h, Width: w}
}

func hannCoeff(n, size int) float32 {
	if size <= 1 {
		return 1
	}
	return float32(0.5 * (1 - math.Cos(2*math.Pi*float64(n)/float64(size-1))))
}

func (cpuBackend) FindPeak(in Buffer) (int, int, float64) {
	bestVal := math.Inf(-1)
	bestIdx := 0
	for i, v := range in.data {
		fv := float64(v)
		if fv > bestVal {
			bestVal = fv
			bestIdx = i
		}
	}
	return bestIdx / in.Width, bestIdx % in.Width, bestVal
}

func (cpuBackend) ShiftBilinear(in Buffer, dx, dy float64) Buffer {
	h, w := in.Height, in.Width
	out := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		srcY := float64(row) - dy
		for col := 0; col < w; col++ {
			srcX := float64(col) - dx
			out[base+col] = bilinearSample(in.data, h, w, srcY, srcX)
		}
	})
	return Buffer{data: out, Height: h, Width: w}
}

// bilinearSample samples data (row-major, h x w) at fractional
// coordinates (y, x), returning 0 for out-of-bounds contributions.
func bilinearSample(data []float32, h, w int, y, x float64) float32 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	x1 := x0 + 1
	y1 := y0 + 1
	fx := x - x0
	fy := y - y0

	get := func(yy, xx float64) float32 {
		iy, ix := int(yy), int(xx)
		if iy < 0 || iy >= h || ix < 0 || ix >= w {
			return 0
		}
		return data[iy*w+ix]
	}

	v00 := get(y0, x0)
	v01 := get(y0, x1)
	v10 := get(y1, x0)
	v11 := get(y1, x1)

	top := float64(v00)*(1-fx) + float64(v01)*fx
	bot := float64(v10)*(1-fx) + float64(v11)*fx
	return float32(top*(1-fy) + bot*fy)
}

func (cpuBackend) ConvolveSeparable(in Buffer, kernel []float32) Buffer {
	h, w := in.Height, in.Width
	radius := len(kernel) / 2

	rowPass := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		for col := 0; col < w; col++ {
			var sum float32
			for k, kv := range kernel {
				src := clampInt(col+k-radius, 0, w-1)
				sum += in.data[base+src] * kv
			}
			rowPass[base+col] = sum
		}
	})

	colPass := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		for col := 0; col < w; col++ {
			var sum float32
			for k, kv := range kernel {
				src := clampInt(row+k-radius, 0, h-1)
				sum += rowPass[src*w+col] * kv
			}
			colPass[base+col] = sum
		}
	})
	return Buffer{data: colPass, Height: h, Width: w}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// b3Kernel is the B3-spline 1D kernel: [1,4,6,4,1]/16.
var b3Kernel = [5]float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

func (cpuBackend) AtrousConvolve(in Buffer, scale int) Buffer {
	step := 1 << uint(scale)
	h, w := in.Height, in.Width

	rowPass := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		for col := 0; col < w; col++ {
			var sum float32
			for k, kv := range b3Kernel {
				offset := (k - 2) * step
				src := MirrorIndex(col+offset, w)
				sum += in.data[base+src] * kv
			}
			rowPass[base+col] = sum
		}
	})

	colPass := make([]float32, h*w)
	parallelRows(h, w, func(row int) {
		base := row * w
		for col := 0; col < w; col++ {
			var sum float32
			for k, kv := range b3Kernel {
				offset := (k - 2) * step
				src := MirrorIndex(row+offset, h)
				sum += rowPass[src*w+col] * kv
			}
			colPass[base+col] = sum
		}
	})
	return Buffer{data: colPass, Height: h, Width: w}
}

// MirrorIndex folds idx into [0, size) by mirror reflection with period
// 2*size: mirror(-k, N) = mirror(k, N) and mirror(k, N) = mirror(2N-1-k, N).
func MirrorIndex(idx, size int) int {
	if size <= 1 {
		return 0
	}
	period := 2 * size
	abs := idx
	if abs < 0 {
		abs = -abs
	}
	m := abs % period
	if m < size {
		return m
	}
	return 2*size - 1 - m
}

func (cpuBackend) ComplexMul(a, b Buffer) Buffer {
	n := a.Height * a.Width
	out := make([]float32, n*2)
	for i := 0; i < n; i++ {
		ar, ai := a.data[2*i], a.data[2*i+1]
		br, bi := b.data[2*i], b.data[2*i+1]
		out[2*i] = ar*br - ai*bi
		out[2*i+1] = ar*bi + ai*br
	}
	return Buffer{data: out, Height: a.Height, Width: a.Width}
}

func (cpuBackend) DivideReal(a, b Buffer, eps float32) Buffer {
	out := make([]float32, len(a.data))
	for i := range a.data {
		out[i] = a.data[i] / (b.data[i] + eps)
	}
	return Buffer{data: out, Height: a.Height, Width: a.Width}
}

func (cpuBackend) MultiplyReal(a, b Buffer) Buffer {
	out := make([]float32, len(a.data))
	for i := range a.data {
		out[i] = a.data[i] * b.data[i]
	}
	return Buffer{data: out, Height: a.Height, Width: a.Width}
}

func (cpuBackend) Upload(data []float32, height, width int) Buffer {
	return Buffer{data: data, Height: height, Width: width}
}

func (cpuBackend) Download(buf Buffer) []float32 {
	out := make([]float32, len(buf.data))
	copy(out, buf.data)
	return out
}
