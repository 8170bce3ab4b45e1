/*
NAME
  debayer.go

DESCRIPTION
  debayer.go demosaics a single-channel Bayer mosaic frame into an RGB
  ColorFrame. Only RGGB-family layouts are handled by permuting which
  mosaic position maps to which channel before applying the same
  nearest/bilinear reconstruction, mirroring how a real ISP treats the
  four Bayer layouts as one algorithm parameterised by channel offset.
*/

package source

import "github.com/lucky-imaging/jupiter/frame"

// channelOffsets returns the (row, col) parity at which R, G and B
// samples occur in mosaic m, or an error if m is not a Bayer layout.
func channelOffsets(m frame.ColorMode) (rOff, gOff, bOff [2]int, err error) {
	switch m {
	case frame.BayerRGGB:
		return [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 1}, nil
	case frame.BayerGRBG:
		return [2]int{0, 1}, [2]int{0, 0}, [2]int{1, 0}, nil
	case frame.BayerGBRG:
		return [2]int{1, 0}, [2]int{0, 0}, [2]int{0, 1}, nil
	case frame.BayerBGGR:
		return [2]int{1, 1}, [2]int{0, 1}, [2]int{0, 0}, nil
	default:
		return rOff, gOff, bOff, frame.ErrUnsupportedColor
	}
}

// debayer demosaics a Bayer mosaic frame into a ColorFrame. Nearest
// replicates the closest same-channel sample; Bilinear averages the
// (up to four) same-channel neighbours, falling back to the single
// available neighbour at the border.
func debayer(mosaic frame.Frame, mode frame.ColorMode, method DebayerMethod) (frame.ColorFrame, error) {
	rOff, gOff, bOff, err := channelOffsets(mode)
	if err != nil {
		return frame.ColorFrame{}, err
	}

	h, w := mosaic.Height, mosaic.Width
	r := frame.New(h, w, mosaic.OriginalBitDepth)
	g := frame.New(h, w, mosaic.OriginalBitDepth)
	b := frame.New(h, w, mosaic.OriginalBitDepth)

	fill := func(out frame.Frame, off [2]int) {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				out.Set(row, col, sampleChannel(mosaic, off, row, col, method))
			}
		}
	}
	fill(r, rOff)
	fill(g, gOff)
	fill(b, bOff)

	return frame.ColorFrame{R: r, G: g, B: b}, nil
}

// sampleChannel reconstructs the value of a channel present only at
// mosaic positions matching off (row%2, col%2), at pixel (row, col).
func sampleChannel(mosaic frame.Frame, off [2]int, row, col int, method DebayerMethod) float32 {
	if row%2 == off[0] && col%2 == off[1] {
		return mosaic.At(row, col)
	}

	if method == Nearest {
		nr, nc := nearestMatch(off, row, col, mosaic.Height, mosaic.Width)
		return mosaic.At(nr, nc)
	}

	var sum float32
	var count int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			rr, cc := row+dr, col+dc
			if rr < 0 || rr >= mosaic.Height || cc < 0 || cc >= mosaic.Width {
				continue
			}
			if rr%2 == off[0] && cc%2 == off[1] {
				sum += mosaic.At(rr, cc)
				count++
			}
		}
	}
	if count == 0 {
		nr, nc := nearestMatch(off, row, col, mosaic.Height, mosaic.Width)
		return mosaic.At(nr, nc)
	}
	return sum / float32(count)
}

// nearestMatch finds the closest mosaic position with the requested
// row/col parity, searching a 2x2 neighbourhood centred on (row, col).
func nearestMatch(off [2]int, row, col, h, w int) (int, int) {
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			rr, cc := row+dr, col+dc
			if rr < h && cc < w && rr%2 == off[0] && cc%2 == off[1] {
				return rr, cc
			}
			rr, cc = row-dr, col-dc
			if rr >= 0 && cc >= 0 && rr%2 == off[0] && cc%2 == off[1] {
				return rr, cc
			}
		}
	}
	return row, col
}
