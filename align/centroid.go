package align

import "github.com/lucky-imaging/jupiter/frame"

// computeCentroid registers by intensity-weighted center of mass: pixels
// at or above threshold*max contribute to the centroid, everything else
// is ignored. Falls back to the frame's geometric center when the frame
// is blank or every sample sits below the cutoff, so a lost-planet
// frame degrades to a no-op shift rather than a NaN.
func computeCentroid(reference, target frame.Frame, cfg Config) (frame.AlignmentOffset, error) {
	refX, refY := intensityCentroid(reference, cfg.CentroidThreshold)
	tgtX, tgtY := intensityCentroid(target, cfg.CentroidThreshold)
	return frame.AlignmentOffset{DX: refX - tgtX, DY: refY - tgtY}, nil
}

func intensityCentroid(f frame.Frame, threshold float32) (cx, cy float64) {
	geometricCX := float64(f.Width-1) / 2
	geometricCY := float64(f.Height-1) / 2

	maxVal := f.Max()
	if maxVal <= 0 {
		return geometricCX, geometricCY
	}
	cutoff := threshold * maxVal

	var sumW, sumX, sumY float64
	for row := 0; row < f.Height; row++ {
		base := row * f.Width
		for col := 0; col < f.Width; col++ {
			v := f.Data[base+col]
			if v < cutoff {
				continue
			}
			w := float64(v)
			sumW += w
			sumX += w * float64(col)
			sumY += w * float64(row)
		}
	}
	if sumW == 0 {
		return geometricCX, geometricCY
	}
	return sumX / sumW, sumY / sumW
}
