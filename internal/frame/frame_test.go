package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPixel(w, h int, b, g, r byte) *Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3], pix[i*3+1], pix[i*3+2] = b, g, r
	}
	return New(pix, w, h, w*3, 1, 0)
}

func TestToRGBSwapsChannels(t *testing.T) {
	f := solidPixel(2, 2, 10, 20, 30)
	rgb := f.ToRGB()
	assert.Equal(t, byte(30), rgb.Pix[0], "R channel")
	assert.Equal(t, byte(20), rgb.Pix[1], "G channel")
	assert.Equal(t, byte(10), rgb.Pix[2], "B channel")
	// original frame untouched
	assert.Equal(t, byte(10), f.Pix[0])
}

func TestToRGBToNativeRoundTrip(t *testing.T) {
	f := solidPixel(4, 3, 1, 2, 3)
	back := f.ToRGB().ToNative()
	assert.Equal(t, f.Pix, back.Pix)
}

func TestCloneIsIndependent(t *testing.T) {
	f := solidPixel(2, 2, 1, 1, 1)
	clone := f.Clone()
	clone.Pix[0] = 255
	assert.NotEqual(t, f.Pix[0], clone.Pix[0])
}

func TestEncodeJPEGProducesBytes(t *testing.T) {
	f := solidPixel(8, 8, 0, 128, 255)
	data, err := EncodeJPEG(f.ToRGB(), 80)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	// JPEG magic number
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}
