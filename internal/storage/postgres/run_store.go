package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/panorama-harvester/internal/store"
)

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// RunStore implements store.RunRepository using the harvest_runs table.
type RunStore struct {
	db querier
}

// NewRunStore wraps a pool (or pgxmock).
func NewRunStore(db querier) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{db: db}, nil
}

// StartRun inserts the run row once.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, year int, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, year, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.db.Exec(ctx, query, runID, year, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

// FinishRun records the final status with an optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.db.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddOutcomes increments the run's counters.
func (s *RunStore) AddOutcomes(ctx context.Context, runID uuid.UUID, delta store.OutcomeDelta, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	query := `
		UPDATE harvest_runs SET
			coordinates = coordinates + $1,
			accepted = accepted + $2,
			duplicates = duplicates + $3,
			not_found = not_found + $4,
			failed = failed + $5,
			views = views + $6,
			bytes_total = bytes_total + $7,
			last_update = $8
		WHERE id = $9;
	`
	res, err := s.db.Exec(ctx, query,
		delta.Coordinates,
		delta.Accepted,
		delta.Duplicates,
		delta.NotFound,
		delta.Failed,
		delta.Views,
		delta.Bytes,
		at,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, year, started_at, finished_at, status, error_message
		FROM harvest_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Year,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}
