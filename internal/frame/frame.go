// Package frame defines the pixel buffer that flows through the capture
// pipeline and encodes the channel-order contract in the type system: a
// Frame is always camera-native (B,G,R); RGB is only ever produced by
// ToRGB at the two boundaries that need it (inference, client delivery).
package frame

import (
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Frame is an immutable camera-native (B,G,R) pixel buffer tagged with its
// capture sequence number and a monotonic capture timestamp. Pix holds
// Height*Stride bytes, three per pixel.
type Frame struct {
	Pix        []byte
	Width      int
	Height     int
	Stride     int
	Seq        uint64
	CapturedAt int64 // monotonic nanoseconds
}

// New wraps a pixel buffer as a native frame. It does not copy pix.
func New(pix []byte, width, height, stride int, seq uint64, capturedAt int64) *Frame {
	return &Frame{Pix: pix, Width: width, Height: height, Stride: stride, Seq: seq, CapturedAt: capturedAt}
}

// Clone deep-copies the pixel buffer. Asynchronous consumers (diagnosis
// jobs, annotation passes) must call Clone rather than share the driver's
// buffer, since the next pipeline iteration may reuse it.
func (f *Frame) Clone() *Frame {
	cp := make([]byte, len(f.Pix))
	copy(cp, f.Pix)
	return &Frame{Pix: cp, Width: f.Width, Height: f.Height, Stride: f.Stride, Seq: f.Seq, CapturedAt: f.CapturedAt}
}

// RGB is produced only by ToRGB. Inference backends (objectdetector.Backend,
// marker.Decoder) and the client-delivery path take an RGB argument, not a
// Frame, so a caller cannot accidentally hand inference or the wire a BGR
// buffer without an explicit conversion call; the detectors themselves take
// a Frame and convert internally.
type RGB struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
}

// ToRGB swaps the B and R bytes of each pixel, producing an RGB view.
func (f *Frame) ToRGB() *RGB {
	out := make([]byte, len(f.Pix))
	copy(out, f.Pix)
	for row := 0; row < f.Height; row++ {
		base := row * f.Stride
		for col := 0; col < f.Width; col++ {
			i := base + col*3
			if i+2 >= len(out) {
				break
			}
			out[i], out[i+2] = out[i+2], out[i]
		}
	}
	return &RGB{Pix: out, Width: f.Width, Height: f.Height, Stride: f.Stride}
}

// ToNative swaps back, for the rare case a component receives RGB and must
// hand native data to something downstream that expects it.
func (r *RGB) ToNative() *Frame {
	f := &Frame{Pix: make([]byte, len(r.Pix)), Width: r.Width, Height: r.Height, Stride: r.Stride}
	copy(f.Pix, r.Pix)
	for row := 0; row < f.Height; row++ {
		base := row * f.Stride
		for col := 0; col < f.Width; col++ {
			i := base + col*3
			if i+2 >= len(f.Pix) {
				break
			}
			f.Pix[i], f.Pix[i+2] = f.Pix[i+2], f.Pix[i]
		}
	}
	return f
}

// ScaleToWidth returns a copy of r resized so its width is maxWidth,
// preserving aspect ratio, using a bilinear resampler. r is returned
// unchanged if it is already at or under maxWidth. Used before
// PublishFrame to cap the bandwidth of the websocket video stream
// independently of the drone's native capture resolution.
func (r *RGB) ScaleToWidth(maxWidth int) *RGB {
	if maxWidth <= 0 || r.Width <= maxWidth {
		return r
	}
	dstHeight := r.Height * maxWidth / r.Width
	if dstHeight < 1 {
		dstHeight = 1
	}
	src := r.Image()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, dstHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	out := &RGB{Pix: make([]byte, 0, maxWidth*dstHeight*3), Width: maxWidth, Height: dstHeight, Stride: maxWidth * 3}
	for y := 0; y < dstHeight; y++ {
		base := y * dst.Stride
		for x := 0; x < maxWidth; x++ {
			i := base + x*4
			out.Pix = append(out.Pix, dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2])
		}
	}
	return out
}

// Image renders r as a standard library image.Image for encoding or
// further ecosystem processing.
func (r *RGB) Image() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for row := 0; row < r.Height; row++ {
		srcBase := row * r.Stride
		dstBase := row * img.Stride
		for col := 0; col < r.Width; col++ {
			si := srcBase + col*3
			if si+2 >= len(r.Pix) {
				break
			}
			di := dstBase + col*4
			img.Pix[di] = r.Pix[si]
			img.Pix[di+1] = r.Pix[si+1]
			img.Pix[di+2] = r.Pix[si+2]
			img.Pix[di+3] = 0xff
		}
	}
	return img
}

// EncodeJPEG renders r to JPEG at the given quality (0-100). The frame
// pipeline calls this once per published frame at Q=80.
func EncodeJPEG(r *RGB, quality int) ([]byte, error) {
	var buf imageBuffer
	if err := jpeg.Encode(&buf, r.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.b, nil
}

// imageBuffer is a minimal io.Writer sink; avoids pulling in bytes.Buffer
// just for Encode's Write-only usage pattern.
type imageBuffer struct{ b []byte }

func (w *imageBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
