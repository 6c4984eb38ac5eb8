package extract

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// Intensity band kept by the single policy, inclusive.
const (
	bandLow  = 10
	bandHigh = 245
)

// SinglePolicy crops the panorama to the bounding box of pixels whose gray
// intensity lies inside the band. Images with no such pixel are returned
// unchanged.
type SinglePolicy struct{}

// NewSingle returns the single-view policy.
func NewSingle() *SinglePolicy { return &SinglePolicy{} }

// Name implements Policy.
func (*SinglePolicy) Name() string { return PolicySingle }

// Labeled implements Policy.
func (*SinglePolicy) Labeled() bool { return false }

// Extract implements Policy.
func (*SinglePolicy) Extract(img image.Image, _ int) ([]harvest.View, error) {
	if img == nil {
		return nil, harvest.ErrImageDecode
	}
	box, ok := inBandBounds(img)
	if !ok || box.Dx() == 0 || box.Dy() == 0 {
		return []harvest.View{{Image: img}}, nil
	}
	return []harvest.View{{Image: imaging.Crop(img, box)}}, nil
}

func inBandBounds(img image.Image) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := gray(img, x, y)
			if g < bandLow || g > bandHigh {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// gray uses the ITU-R BT.601 luma weights on 8-bit channels.
func gray(img image.Image, x, y int) int {
	r, g, b, _ := img.At(x, y).RGBA()
	r8, g8, b8 := float64(r>>8), float64(g>>8), float64(b>>8)
	return int(0.299*r8 + 0.587*g8 + 0.114*b8 + 0.5)
}
