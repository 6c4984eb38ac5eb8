// Package phash provides perceptual image fingerprints.
package phash

import (
	"errors"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// Hasher implements harvest.ImageHasher using a 64-bit DCT perception hash.
type Hasher struct{}

// New returns a perception hasher.
func New() *Hasher {
	return &Hasher{}
}

// Fingerprint hashes img. Visually identical images map to the same value.
func (h *Hasher) Fingerprint(img image.Image) (harvest.Fingerprint, error) {
	if img == nil {
		return 0, errors.New("nil image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return 0, errors.New("empty image")
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("perception hash: %w", err)
	}
	return harvest.Fingerprint(hash.GetHash()), nil
}
