package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"faceattend/internal/attend"
)

// GrayImage returns a 16x16 image filled with a single gray level.
func GrayImage(level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// GrayPNG returns GrayImage(level) encoded as PNG.
func GrayPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, GrayImage(level)); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

// GrayFrame returns a decoded frame of a uniform gray image.
func GrayFrame(t *testing.T, level uint8) *attend.Frame {
	t.Helper()
	frame, err := attend.DecodeFrame(GrayPNG(t, level))
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	return frame
}

// GrayFrames returns one frame per level, in order.
func GrayFrames(t *testing.T, levels ...uint8) []*attend.Frame {
	t.Helper()
	frames := make([]*attend.Frame, len(levels))
	for i, level := range levels {
		frames[i] = GrayFrame(t, level)
	}
	return frames
}

// centerGray returns the gray level of the center pixel of img.
func centerGray(img image.Image) uint8 {
	b := img.Bounds()
	c := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
	return color.GrayModel.Convert(c).(color.Gray).Y
}
