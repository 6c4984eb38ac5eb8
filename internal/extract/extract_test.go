package extract

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

var (
	red    = color.NRGBA{R: 255, A: 255}
	green  = color.NRGBA{G: 255, A: 255}
	blue   = color.NRGBA{B: 255, A: 255}
	yellow = color.NRGBA{R: 255, G: 255, A: 255}
)

// hemispheres paints longitudes within ±90° of the center green and the rest red.
func hemispheres(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := red
			if x >= w/4 && x < 3*w/4 {
				c = green
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// skyAndGround paints the upper half blue and the lower half yellow.
func skyAndGround(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := yellow
			if y < h/2 {
				c = blue
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestNewSelectsPolicy(t *testing.T) {
	t.Parallel()

	p, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyMulti, p.Name())
	assert.True(t, p.Labeled())

	p, err = New("Single", nil)
	require.NoError(t, err)
	assert.Equal(t, PolicySingle, p.Name())
	assert.False(t, p.Labeled())

	_, err = New("panoramic", nil)
	require.Error(t, err)
}

func TestSingleCropsToIntensityBand(t *testing.T) {
	t.Parallel()

	img := imaging.New(20, 10, color.NRGBA{A: 255})
	for y := 2; y < 8; y++ {
		for x := 3; x < 6; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	// Pure white is outside the band too.
	img.SetNRGBA(15, 5, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	views, err := NewSingle().Extract(img, 2023)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Empty(t, views[0].Label)
	assert.Equal(t, 3, views[0].Image.Bounds().Dx())
	assert.Equal(t, 6, views[0].Image.Bounds().Dy())
}

func TestSingleBandIsInclusive(t *testing.T) {
	t.Parallel()

	img := imaging.New(5, 5, color.NRGBA{A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	img.SetNRGBA(3, 3, color.NRGBA{R: 245, G: 245, B: 245, A: 255})

	views, err := NewSingle().Extract(img, 2023)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 3), views[0].Image.Bounds())
}

func TestSingleReturnsInputWhenNothingInBand(t *testing.T) {
	t.Parallel()

	img := imaging.New(8, 8, color.NRGBA{A: 255})
	views, err := NewSingle().Extract(img, 2023)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Same(t, img, views[0].Image)
}

func TestExtractRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := NewSingle().Extract(nil, 2023)
	require.ErrorIs(t, err, harvest.ErrImageDecode)

	multi, err := NewMulti(nil)
	require.NoError(t, err)
	_, err = multi.Extract(nil, 2023)
	require.ErrorIs(t, err, harvest.ErrImageDecode)
}

func TestProjectorYawSelectsHemisphere(t *testing.T) {
	t.Parallel()

	pano := hemispheres(360, 180)
	proj := NewProjector(70, 32)

	back := proj.Project(pano, 0, 0)
	assert.Equal(t, green, back.NRGBAAt(16, 16))
	front := proj.Project(pano, 180, 0)
	assert.Equal(t, red, front.NRGBAAt(16, 16))
	assert.Equal(t, image.Rect(0, 0, 32, 32), front.Bounds())
}

func TestProjectorPitchLooksDown(t *testing.T) {
	t.Parallel()

	pano := skyAndGround(360, 180)
	proj := NewProjector(70, 32)

	down := proj.Project(pano, 0, -20)
	assert.Equal(t, yellow, down.NRGBAAt(16, 16))
	up := proj.Project(pano, 0, 20)
	assert.Equal(t, blue, up.NRGBAAt(16, 16))
	// Looking down, the top row still sees sky at a 70° field of view.
	assert.Equal(t, blue, down.NRGBAAt(16, 0))
}

func TestProjectorIsDeterministic(t *testing.T) {
	t.Parallel()

	pano := hemispheres(120, 60)
	proj := NewProjector(70, 24)
	a := proj.Project(pano, 33, -12)
	b := proj.Project(pano, 33, -12)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestMultiProducesLabeledCroppedViews(t *testing.T) {
	t.Parallel()

	multi, err := NewMulti(nil)
	require.NoError(t, err)

	views, err := multi.Extract(hemispheres(256, 128), 2023)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "front", views[0].Label)
	assert.Equal(t, "back", views[1].Label)
	for _, v := range views {
		assert.Equal(t, DefaultViewSize, v.Image.Bounds().Dx())
		assert.Equal(t, 538, v.Image.Bounds().Dy())
	}
}

func TestMultiUsesYearProfile(t *testing.T) {
	t.Parallel()

	multi, err := NewMulti(nil)
	require.NoError(t, err)
	assert.Equal(t, -7.0, multi.ProfileFor(2017).Pitch)
	assert.Equal(t, -20.0, multi.ProfileFor(2019).Pitch)

	views, err := multi.Extract(hemispheres(256, 128), 2017)
	require.NoError(t, err)
	assert.Equal(t, 692, views[0].Image.Bounds().Dy())
}

func TestMultiProfileOverrides(t *testing.T) {
	t.Parallel()

	multi, err := NewMulti(map[string]Profile{
		"2021": {Pitch: -10, TopFrac: 0, EndFrac: 0.5, SubCrop: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, -10.0, multi.ProfileFor(2021).Pitch)
	assert.Equal(t, -7.0, multi.ProfileFor(2017).Pitch)

	_, err = NewMulti(map[string]Profile{"default": {TopFrac: 0.6, EndFrac: 0.5}})
	require.Error(t, err)
	_, err = NewMulti(map[string]Profile{"2020": {TopFrac: 0, EndFrac: 1, SubCrop: 1}})
	require.Error(t, err)
}

func TestCropRect(t *testing.T) {
	t.Parallel()

	rect, err := cropRect(image.Rect(0, 0, 100, 100), Profile{TopFrac: 0.5, EndFrac: 1.0, SubCrop: 0.3})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 65, 100, 100), rect)

	_, err = cropRect(image.Rect(0, 0, 100, 1), Profile{TopFrac: 0.5, EndFrac: 0.6})
	require.Error(t, err)
}
