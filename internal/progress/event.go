package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunInterrupted Stage = "RUN_INTERRUPTED"
	StageRunError       Stage = "RUN_ERROR"
	StageCoordinate     Stage = "COORDINATE_DONE"
	StageViewSaved      Stage = "VIEW_SAVED"
)

// Outcome classifies how a coordinate finished.
type Outcome string

// Coordinate outcomes.
const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeDownloadFailed Outcome = "download_failed"
	OutcomeDecodeFailed   Outcome = "decode_failed"
)

// Event captures a single step of harvest progress.
type Event struct {
	// RunID identifies one process run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Year is the target year of the run.
	Year int
	// Road is the segment name for coordinate and view events.
	Road string
	// PanoID is set on view events and on coordinates that resolved.
	PanoID string
	// Outcome is required for coordinate events.
	Outcome Outcome
	// Views counts views written for the coordinate.
	Views int64
	// Bytes is the encoded size of a saved view.
	Bytes int64
	// Dur is the coordinate processing time or the run duration.
	Dur time.Duration
	// Note carries low-volume context such as the not-found reason or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunInterrupted, StageRunError:
	case StageCoordinate:
		if e.Outcome == "" {
			return errors.New("coordinate event requires outcome")
		}
	case StageViewSaved:
		if e.PanoID == "" {
			return errors.New("view event requires panorama id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID parses a textual UUID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
