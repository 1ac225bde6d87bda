package attend

import (
	"image"

	"golang.org/x/image/draw"
)

// DefaultLivenessThreshold is the minimum mean absolute intensity
// difference, on a 0-255 scale, between two frames of a live capture.
const DefaultLivenessThreshold = 5.0

// LivenessDetector rejects static replays by requiring motion between the
// first two frames of a capture session. It does not detect looping video.
type LivenessDetector struct {
	threshold float64
}

// NewLivenessDetector creates a detector. A non-positive threshold selects
// DefaultLivenessThreshold.
func NewLivenessDetector(threshold float64) *LivenessDetector {
	if threshold <= 0 {
		threshold = DefaultLivenessThreshold
	}
	return &LivenessDetector{threshold: threshold}
}

// Check reports whether the first two frames, earliest first, differ by more
// than the threshold. Fewer than two frames never pass.
func (d *LivenessDetector) Check(frames ...image.Image) bool {
	if len(frames) < 2 || frames[0] == nil || frames[1] == nil {
		return false
	}
	return MeanAbsDiff(frames[0], frames[1]) > d.threshold
}

// CheckLiveness reports whether first and second, in capture order, differ
// by more than threshold. A non-positive threshold selects
// DefaultLivenessThreshold.
func CheckLiveness(first, second image.Image, threshold float64) bool {
	return NewLivenessDetector(threshold).Check(first, second)
}

// MeanAbsDiff converts both images to 8-bit grayscale and returns the mean
// per-pixel absolute difference. b is rescaled to a's bounds when the sizes
// differ.
func MeanAbsDiff(a, b image.Image) float64 {
	ga := toGray(a, a.Bounds())
	gb := toGray(b, a.Bounds())

	n := len(ga.Pix)
	if n == 0 {
		return 0
	}
	var total uint64
	for i := 0; i < n; i++ {
		x, y := int(ga.Pix[i]), int(gb.Pix[i])
		if x > y {
			total += uint64(x - y)
		} else {
			total += uint64(y - x)
		}
	}
	return float64(total) / float64(n)
}

// toGray renders img into a tightly packed grayscale raster with the size of
// bounds, anchored at the origin.
func toGray(img image.Image, bounds image.Rectangle) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if img.Bounds().Size() == bounds.Size() {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
