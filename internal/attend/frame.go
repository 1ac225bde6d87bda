package attend

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Frame is one captured image: the encoded bytes as received and the decoded
// raster. Extractors that talk to a remote model send Data; local checks use
// Image.
type Frame struct {
	Data   []byte
	Image  image.Image
	Format string
}

// MaxFramePixels bounds the raster size DecodeFrame will allocate.
const MaxFramePixels = 24_000_000

// DecodeFrame decodes raw image bytes into a Frame. The header is read first
// and images larger than MaxFramePixels are rejected with ErrInvalidInput
// before any raster is allocated.
func DecodeFrame(data []byte) (*Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxFramePixels {
		return nil, fmt.Errorf("%w: image is %dx%d, limit is %d pixels", ErrInvalidInput, cfg.Width, cfg.Height, MaxFramePixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return &Frame{Data: data, Image: img, Format: format}, nil
}

// FramesFromImages wraps already decoded images. Data is left empty.
func FramesFromImages(images ...image.Image) []*Frame {
	frames := make([]*Frame, len(images))
	for i, img := range images {
		frames[i] = &Frame{Image: img}
	}
	return frames
}
