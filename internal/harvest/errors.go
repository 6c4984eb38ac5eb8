package harvest

import "errors"

// Sentinel errors shared across the pipeline. Wrap them with %w and match
// with errors.Is.
var (
	// ErrMalformedInput signals an unusable geometry source or output log.
	ErrMalformedInput = errors.New("malformed input")
	// ErrPersistence signals an unrecoverable write failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrTransientService signals a network or parse failure from the panorama service.
	ErrTransientService = errors.New("transient service error")
	// ErrImageDecode signals a downloaded image that cannot be decoded.
	ErrImageDecode = errors.New("image decode failed")
)

// NotFoundReason explains why a coordinate produced no panorama.
type NotFoundReason string

// Reasons reported by the resolver.
const (
	ReasonNone           NotFoundReason = ""
	ReasonNoPanorama     NotFoundReason = "no panorama at location"
	ReasonAlreadyLogged  NotFoundReason = "already logged"
	ReasonNoYearMatch    NotFoundReason = "no panorama for target year"
	ReasonNoMetadata     NotFoundReason = "no image metadata"
	ReasonTransientError NotFoundReason = "transient service error"
)
