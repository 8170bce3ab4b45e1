//go:build withcv

/*
NAME
  gpu.go

DESCRIPTION
  gpu.go implements the GPU compute backend on top of gocv (OpenCV Go
  bindings), the same library the teacher gates behind "withcv" for its
  motion-detection filter. It works on gocv.Mat values (not UMat), so
  OpenCV runs its Dft, MinMaxLoc, Remap and SepFilter2D calls through
  its host-memory Mat code paths; the cross-power spectrum, Hann window
  and the other elementwise operations reuse the CPU backend.
*/

package compute

import (
	"fmt"

	"gocv.io/x/gocv"
)

type gpuBackend struct{}

func newGPUBackend() (Backend, error) {
	// Allocating an empty Mat is the canary for "gocv itself is
	// usable"; it does not probe for an OpenCL device.
	probe := gocv.NewMat()
	defer probe.Close()
	if probe.Empty() && probe.Cols() != 0 {
		return nil, fmt.Errorf("gocv Mat probe failed")
	}
	return gpuBackend{}, nil
}

func (gpuBackend) Name() string         { return "GPU/OpenCV" }
func (gpuBackend) IsGPUPreferred() bool { return true }

func toMat(in Buffer) gocv.Mat {
	mat := gocv.NewMatWithSize(in.Height, in.Width, gocv.MatTypeCV32F)
	data, _ := mat.DataPtrFloat32()
	copy(data, in.data)
	return mat
}

func fromMat(mat gocv.Mat, height, width int) Buffer {
	data, _ := mat.DataPtrFloat32()
	out := make([]float32, len(data))
	copy(out, data)
	return Buffer{data: out, Height: height, Width: width}
}

func (gpuBackend) FFT2D(in Buffer) Buffer {
	src := toMat(in)
	defer src.Close()

	planes := gocv.NewMat()
	defer planes.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Dft(src, &dst, gocv.DftComplexOutput, 0)

	result := make([]float32, in.Height*2*in.Width)
	data, _ := dst.DataPtrFloat32()
	copy(result, data)
	return Buffer{data: result, Height: in.Height, Width: in.Width}
}

func (gpuBackend) IFFT2DReal(in Buffer, height, width int) Buffer {
	src := gocv.NewMatWithSize(in.Height, in.Width*2, gocv.MatTypeCV32F)
	defer src.Close()
	data, _ := src.DataPtrFloat32()
	copy(data, in.data)

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Dft(src, &dst, gocv.DftInverse|gocv.DftScale|gocv.DftRealOutput, 0)

	out := fromMat(dst, in.Height, in.Width)
	if out.Height == height && out.Width == width {
		return out
	}
	cropped := make([]float32, height*width)
	for r := 0; r < height && r < out.Height; r++ {
		copy(cropped[r*width:(r+1)*width], out.data[r*out.Width:r*out.Width+min(width, out.Width)])
	}
	return Buffer{data: cropped, Height: height, Width: width}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (b gpuBackend) CrossPowerSpectrum(a, bb Buffer, eps float32) Buffer {
	return cpuBackend{}.CrossPowerSpectrum(a, bb, eps)
}

func (gpuBackend) HannWindow(in Buffer) Buffer {
	return cpuBackend{}.HannWindow(in)
}

func (gpuBackend) FindPeak(in Buffer) (int, int, float64) {
	src := toMat(in)
	defer src.Close()
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(src)
	return maxLoc.Y, maxLoc.X, float64(maxVal)
}

func (gpuBackend) ShiftBilinear(in Buffer, dx, dy float64) Buffer {
	src := toMat(in)
	defer src.Close()

	mapX := gocv.NewMatWithSize(in.Height, in.Width, gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(in.Height, in.Width, gocv.MatTypeCV32F)
	defer mapY.Close()
	xd, _ := mapX.DataPtrFloat32()
	yd, _ := mapY.DataPtrFloat32()
	for row := 0; row < in.Height; row++ {
		for col := 0; col < in.Width; col++ {
			idx := row*in.Width + col
			xd[idx] = float32(col) - float32(dx)
			yd[idx] = float32(row) - float32(dy)
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(src, &dst, &mapX, &mapY, gocv.InterpolationLinear, gocv.BorderConstant, gocv.NewScalar(0, 0, 0, 0))
	return fromMat(dst, in.Height, in.Width)
}

func (gpuBackend) ConvolveSeparable(in Buffer, kernel []float32) Buffer {
	src := toMat(in)
	defer src.Close()

	k := gocv.NewMatWithSize(1, len(kernel), gocv.MatTypeCV32F)
	defer k.Close()
	kd, _ := k.DataPtrFloat32()
	copy(kd, kernel)

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.SepFilter2D(src, &dst, gocv.MatTypeCV32F, k, k, gocv.NewPoint(-1, -1), 0, gocv.BorderReplicate)
	return fromMat(dst, in.Height, in.Width)
}

func (g gpuBackend) AtrousConvolve(in Buffer, scale int) Buffer {
	return cpuBackend{}.AtrousConvolve(in, scale)
}

func (gpuBackend) ComplexMul(a, bb Buffer) Buffer {
	return cpuBackend{}.ComplexMul(a, bb)
}

func (gpuBackend) DivideReal(a, bb Buffer, eps float32) Buffer {
	return cpuBackend{}.DivideReal(a, bb, eps)
}

func (gpuBackend) MultiplyReal(a, bb Buffer) Buffer {
	return cpuBackend{}.MultiplyReal(a, bb)
}

func (gpuBackend) Upload(data []float32, height, width int) Buffer {
	return Buffer{data: data, Height: height, Width: width}
}

func (gpuBackend) Download(buf Buffer) []float32 {
	out := make([]float32, len(buf.data))
	copy(out, buf.data)
	return out
}
