package compute

import "math"

// GaussianKernel1D returns a normalised 1D Gaussian kernel for the
// given sigma, sized to +/-3 sigma (radius = ceil(3*sigma), minimum
// radius 1). Shared by every stage that Gaussian-blurs a frame before
// thresholding or scoring (detection, autocrop sampling).
func GaussianKernel1D(sigma float64) []float32 {
	if sigma <= 0 {
		return []float32{1}
	}
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	size := 2*radius + 1
	kernel := make([]float32, size)
	var sum float64
	for i := 0; i < size; i++ {
		x := float64(i - radius)
		v := math.Exp(-(x * x) / (2 * sigma * sigma))
		kernel[i] = float32(v)
		sum += v
	}
	for i := range kernel {
		kernel[i] = float32(float64(kernel[i]) / sum)
	}
	return kernel
}
