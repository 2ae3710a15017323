package marker

import "github.com/canopy-robotics/canopy-agent/internal/frame"

// cropRGB extracts the sub-rectangle r from img, copying pixel data.
func cropRGB(img *frame.RGB, r Rect) *frame.RGB {
	out := &frame.RGB{Width: r.W, Height: r.H, Stride: r.W * 3, Pix: make([]byte, r.W*r.H*3)}
	for row := 0; row < r.H; row++ {
		srcBase := (r.Y+row)*img.Stride + r.X*3
		dstBase := row * out.Stride
		n := r.W * 3
		if srcBase+n > len(img.Pix) {
			n = len(img.Pix) - srcBase
		}
		if n <= 0 {
			continue
		}
		copy(out.Pix[dstBase:dstBase+n], img.Pix[srcBase:srcBase+n])
	}
	return out
}

// preprocess applies the one-shot fallback chain from §4.3: a histogram
// contrast stretch followed by a cheap 3x3 box blur approximating the
// median-blur smoothing step. The detector calls this at most once per
// Detect, only when the first decode pass found nothing.
func preprocess(img *frame.RGB) *frame.RGB {
	return boxBlur(contrastStretch(img))
}

func contrastStretch(img *frame.RGB) *frame.RGB {
	if len(img.Pix) == 0 {
		return img
	}
	lo, hi := byte(255), byte(0)
	for _, v := range img.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return img
	}
	out := &frame.RGB{Width: img.Width, Height: img.Height, Stride: img.Stride, Pix: make([]byte, len(img.Pix))}
	scale := 255.0 / float64(hi-lo)
	for i, v := range img.Pix {
		out.Pix[i] = byte(float64(int(v)-int(lo)) * scale)
	}
	return out
}

func boxBlur(img *frame.RGB) *frame.RGB {
	out := &frame.RGB{Width: img.Width, Height: img.Height, Stride: img.Stride, Pix: make([]byte, len(img.Pix))}
	for row := 0; row < img.Height; row++ {
		for col := 0; col < img.Width; col++ {
			for ch := 0; ch < 3; ch++ {
				sum, n := 0, 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						r, c := row+dy, col+dx
						if r < 0 || c < 0 || r >= img.Height || c >= img.Width {
							continue
						}
						idx := r*img.Stride + c*3 + ch
						if idx >= len(img.Pix) {
							continue
						}
						sum += int(img.Pix[idx])
						n++
					}
				}
				idx := row*img.Stride + col*3 + ch
				if idx < len(out.Pix) && n > 0 {
					out.Pix[idx] = byte(sum / n)
				}
			}
		}
	}
	return out
}

// annotateBox paints a 2px rectangle outline in the color assigned to
// label ("normal" green, "cooling" amber, "invalid" red) directly onto f's
// native BGR buffer.
func annotateBox(f *frame.Frame, r Rect, label string) {
	b, g, red := colorFor(label)
	drawRect(f, r, b, g, red)
}

func colorFor(label string) (b, g, r byte) {
	switch label {
	case colorCooling:
		return 0, 180, 255
	case colorInvalid:
		return 0, 0, 255
	default:
		return 0, 200, 0
	}
}

func drawRect(f *frame.Frame, r Rect, b, g, red byte) {
	setPixel := func(x, y int) {
		if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
			return
		}
		i := y*f.Stride + x*3
		if i+2 >= len(f.Pix) {
			return
		}
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, red
	}
	for x := r.X; x < r.X+r.W; x++ {
		setPixel(x, r.Y)
		setPixel(x, r.Y+r.H-1)
	}
	for y := r.Y; y < r.Y+r.H; y++ {
		setPixel(r.X, y)
		setPixel(r.X+r.W-1, y)
	}
}
