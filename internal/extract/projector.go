package extract

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Projection defaults for the multi-view policy.
const (
	DefaultFOV      = 70.0
	DefaultViewSize = 1536
)

// Projector renders a pinhole perspective view from an equirectangular
// panorama. Longitude spans the image width with 0° at the center column and
// grows to the right; latitude spans the height from +90° at the top.
type Projector struct {
	fov  float64
	size int
}

// NewProjector returns a projector producing size×size views with the given
// field of view in degrees.
func NewProjector(fovDeg float64, size int) *Projector {
	return &Projector{fov: fovDeg, size: size}
}

// Project looks from the panorama center toward yawDeg (horizontal) and
// pitchDeg (vertical, positive up) and samples bilinearly.
func (p *Projector) Project(src image.Image, yawDeg, pitchDeg float64) *image.NRGBA {
	pano := imaging.Clone(src)
	sw := pano.Bounds().Dx()
	sh := pano.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, p.size, p.size))
	if sw == 0 || sh == 0 {
		return out
	}

	half := math.Tan(p.fov * math.Pi / 360)
	yaw := yawDeg * math.Pi / 180
	pitch := pitchDeg * math.Pi / 180
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	n := float64(p.size)

	for i := 0; i < p.size; i++ {
		ry := -half * (2*(float64(i)+0.5)/n - 1)
		for j := 0; j < p.size; j++ {
			rx := half * (2*(float64(j)+0.5)/n - 1)

			// Tilt around the x axis, then turn around the vertical axis.
			y1 := ry*cp + sp
			z1 := -ry*sp + cp
			x2 := rx*cy + z1*sy
			z2 := -rx*sy + z1*cy

			lon := math.Atan2(x2, z2)
			lat := math.Atan2(y1, math.Hypot(x2, z2))

			fx := (lon/(2*math.Pi)+0.5)*float64(sw) - 0.5
			fy := (0.5-lat/math.Pi)*float64(sh) - 0.5
			out.SetNRGBA(j, i, bilinear(pano, fx, fy))
		}
	}
	return out
}

// bilinear samples img at a fractional pixel position. Columns wrap around
// the seam; rows clamp at the poles.
func bilinear(img *image.NRGBA, fx, fy float64) color.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)

	c00 := pixel(img, wrap(x0, w), clamp(y0, h))
	c10 := pixel(img, wrap(x0+1, w), clamp(y0, h))
	c01 := pixel(img, wrap(x0, w), clamp(y0+1, h))
	c11 := pixel(img, wrap(x0+1, w), clamp(y0+1, h))

	var res [4]uint8
	for k := 0; k < 4; k++ {
		top := float64(c00[k])*(1-dx) + float64(c10[k])*dx
		bottom := float64(c01[k])*(1-dx) + float64(c11[k])*dx
		res[k] = uint8(math.Round(top*(1-dy) + bottom*dy))
	}
	return color.NRGBA{R: res[0], G: res[1], B: res[2], A: res[3]}
}

func pixel(img *image.NRGBA, x, y int) [4]uint8 {
	off := y*img.Stride + x*4
	return [4]uint8{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]}
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
