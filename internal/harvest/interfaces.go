package harvest

import (
	"context"
	"image"
	"io"
	"time"
)

// PanoramaService is the external lookup/download collaborator.
type PanoramaService interface {
	// FindNearest returns the freshest panorama near c, or nil when none exists.
	FindNearest(ctx context.Context, c Coordinate) (*PanoramaCandidate, error)
	// FindByID returns the panorama with full image metadata.
	FindByID(ctx context.Context, id string) (*PanoramaCandidate, error)
	// Download writes the panorama's raw image to dest.
	Download(ctx context.Context, pano *PanoramaCandidate, dest string) error
}

// Pacer enforces the delay before each external call.
type Pacer interface {
	Wait(ctx context.Context) error
}

// ImageHasher reduces an image to a perceptual fingerprint.
type ImageHasher interface {
	Fingerprint(img image.Image) (Fingerprint, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes accepted-view notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Catalog mirrors output records into an external store.
type Catalog interface {
	RecordImage(ctx context.Context, rec OutputRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
