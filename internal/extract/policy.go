package extract

import (
	"fmt"
	"image"
	"strings"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// Policy names accepted by New.
const (
	PolicySingle = "single"
	PolicyMulti  = "multi"
)

// Policy derives the views to keep from a panorama.
type Policy interface {
	// Name identifies the policy in logs.
	Name() string
	// Labeled reports whether views carry labels, which adds the View column
	// to the output log.
	Labeled() bool
	// Extract returns one or more views. It must be deterministic.
	Extract(img image.Image, year int) ([]harvest.View, error)
}

// New returns the policy called name. An empty name selects the multi-view
// policy. profiles override or extend the built-in crop profiles and are
// ignored by the single policy.
func New(name string, profiles map[string]Profile) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicySingle:
		return NewSingle(), nil
	case "", PolicyMulti:
		return NewMulti(profiles)
	default:
		return nil, fmt.Errorf("unknown view policy %q", name)
	}
}
