package extract

import (
	"fmt"
	"image"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// DefaultProfileKey names the profile used for years without their own.
const DefaultProfileKey = "default"

// Profile describes how a projected view is cropped for a given year.
type Profile struct {
	// Pitch is the vertical view angle in degrees; negative looks down.
	Pitch float64 `mapstructure:"pitch" json:"pitch"`
	// TopFrac and EndFrac bound the kept rows as fractions of view height.
	TopFrac float64 `mapstructure:"top_frac" json:"top_frac"`
	EndFrac float64 `mapstructure:"end_frac" json:"end_frac"`
	// SubCrop drops this fraction from the top of the kept band.
	SubCrop float64 `mapstructure:"sub_crop" json:"sub_crop"`
}

// Validate checks the fractions describe a non-empty band.
func (p Profile) Validate() error {
	if p.TopFrac < 0 || p.EndFrac > 1 || p.TopFrac >= p.EndFrac {
		return fmt.Errorf("crop band [%g, %g) is invalid", p.TopFrac, p.EndFrac)
	}
	if p.SubCrop < 0 || p.SubCrop >= 1 {
		return fmt.Errorf("sub crop %g must be in [0, 1)", p.SubCrop)
	}
	if p.Pitch < -90 || p.Pitch > 90 {
		return fmt.Errorf("pitch %g out of range", p.Pitch)
	}
	return nil
}

// DefaultProfiles returns the built-in crop profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		DefaultProfileKey: {Pitch: -20, TopFrac: 0.5, EndFrac: 1.0, SubCrop: 0.3},
		"2017":            {Pitch: -7, TopFrac: 0.4, EndFrac: 0.9, SubCrop: 0.1},
	}
}

type direction struct {
	label string
	yaw   float64
}

var directions = []direction{
	{label: "front", yaw: 180},
	{label: "back", yaw: 0},
}

// MultiPolicy produces a front and a back perspective view.
type MultiPolicy struct {
	projector *Projector
	profiles  map[string]Profile
}

// NewMulti builds the policy. overrides replace built-in profiles with the
// same key and add new ones.
func NewMulti(overrides map[string]Profile) (*MultiPolicy, error) {
	profiles := DefaultProfiles()
	for key, p := range overrides {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", key, err)
		}
		profiles[key] = p
	}
	return &MultiPolicy{projector: NewProjector(DefaultFOV, DefaultViewSize), profiles: profiles}, nil
}

// Name implements Policy.
func (*MultiPolicy) Name() string { return PolicyMulti }

// Labeled implements Policy.
func (*MultiPolicy) Labeled() bool { return true }

// ProfileFor returns the profile applied to year.
func (m *MultiPolicy) ProfileFor(year int) Profile {
	if p, ok := m.profiles[strconv.Itoa(year)]; ok {
		return p
	}
	return m.profiles[DefaultProfileKey]
}

// Extract implements Policy.
func (m *MultiPolicy) Extract(img image.Image, year int) ([]harvest.View, error) {
	if img == nil {
		return nil, harvest.ErrImageDecode
	}
	profile := m.ProfileFor(year)
	views := make([]harvest.View, 0, len(directions))
	for _, d := range directions {
		view := m.projector.Project(img, d.yaw, profile.Pitch)
		rect, err := cropRect(view.Bounds(), profile)
		if err != nil {
			return nil, fmt.Errorf("%s view: %w", d.label, err)
		}
		views = append(views, harvest.View{Label: d.label, Image: imaging.Crop(view, rect)})
	}
	return views, nil
}

func cropRect(b image.Rectangle, p Profile) (image.Rectangle, error) {
	h := b.Dy()
	top := int(float64(h) * p.TopFrac)
	end := int(float64(h) * p.EndFrac)
	sub := int(float64(end-top) * p.SubCrop)
	if end-top-sub <= 0 {
		return image.Rectangle{}, fmt.Errorf("crop leaves no rows")
	}
	return image.Rect(b.Min.X, b.Min.Y+top+sub, b.Max.X, b.Min.Y+end), nil
}
