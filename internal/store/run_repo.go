package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// Run models one row of harvest_runs.
type Run struct {
	ID           uuid.UUID
	Year         int
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// OutcomeDelta is an increment of coordinate outcomes for one run.
type OutcomeDelta struct {
	Coordinates int64
	Accepted    int64
	Duplicates  int64
	NotFound    int64
	Failed      int64
	Views       int64
	Bytes       int64
}

// IsZero reports whether the delta changes nothing.
func (d OutcomeDelta) IsZero() bool {
	return d == OutcomeDelta{}
}

// RunRepository persists run lifecycle and running counters.
type RunRepository interface {
	// StartRun inserts the run or leaves an existing row untouched.
	StartRun(ctx context.Context, runID uuid.UUID, year int, startedAt time.Time) error
	// FinishRun records the final status and optional error text.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddOutcomes applies counter deltas to the run.
	AddOutcomes(ctx context.Context, runID uuid.UUID, delta OutcomeDelta, at time.Time) error
	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}
