package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/panorama-harvester/internal/store"
)

// RunStore keeps run history in memory. It backs the run endpoint when no
// database is configured.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	totals map[uuid.UUID]store.OutcomeDelta
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[uuid.UUID]store.Run),
		totals: make(map[uuid.UUID]store.OutcomeDelta),
	}
}

// StartRun records a running run unless it already exists.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, year int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = store.Run{ID: runID, Year: year, StartedAt: startedAt.UTC(), Status: store.RunRunning}
	return nil
}

// FinishRun marks the run finished.
func (s *RunStore) FinishRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// AddOutcomes accumulates counters for the run.
func (s *RunStore) AddOutcomes(_ context.Context, runID uuid.UUID, delta store.OutcomeDelta, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return store.ErrNotFound
	}
	t := s.totals[runID]
	t.Coordinates += delta.Coordinates
	t.Accepted += delta.Accepted
	t.Duplicates += delta.Duplicates
	t.NotFound += delta.NotFound
	t.Failed += delta.Failed
	t.Views += delta.Views
	t.Bytes += delta.Bytes
	s.totals[runID] = t
	return nil
}

// GetRun returns the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// Totals returns the accumulated counters for runID.
func (s *RunStore) Totals(runID uuid.UUID) store.OutcomeDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals[runID]
}
