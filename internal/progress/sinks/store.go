package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/progress"
	"github.com/JakeFAU/panorama-harvester/internal/store"
)

// StoreSink persists run lifecycle and collapses coordinate events into one
// counter update per run per batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type pendingDelta struct {
	delta store.OutcomeDelta
	at    time.Time
}

// Consume writes the batch. Run starts are written first and counter deltas
// before run completions so a finished run carries its final counts.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*pendingDelta)
	var finishes []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Year, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunInterrupted, progress.StageRunError:
			finishes = append(finishes, evt)
		case progress.StageCoordinate, progress.StageViewSaved:
			p := deltas[runID]
			if p == nil {
				p = &pendingDelta{}
				deltas[runID] = p
			}
			accumulate(&p.delta, evt)
			if evt.TS.After(p.at) {
				p.at = evt.TS
			}
		}
	}

	for runID, p := range deltas {
		if p.delta.IsZero() {
			continue
		}
		if err := s.repo.AddOutcomes(ctx, runID, p.delta, p.at); err != nil {
			return fmt.Errorf("add outcomes: %w", err)
		}
	}
	for _, evt := range finishes {
		var note *string
		if evt.Note != "" {
			n := evt.Note
			note = &n
		}
		if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, runStatus(evt.Stage), note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func accumulate(d *store.OutcomeDelta, evt progress.Event) {
	if evt.Stage == progress.StageViewSaved {
		d.Views++
		d.Bytes += evt.Bytes
		return
	}
	d.Coordinates++
	switch evt.Outcome {
	case progress.OutcomeAccepted:
		d.Accepted++
	case progress.OutcomeDuplicate:
		d.Duplicates++
	case progress.OutcomeNotFound:
		d.NotFound++
	case progress.OutcomeDownloadFailed, progress.OutcomeDecodeFailed:
		d.Failed++
	}
}

func runStatus(stage progress.Stage) store.RunStatus {
	switch stage {
	case progress.StageRunInterrupted:
		return store.RunInterrupted
	case progress.StageRunError:
		return store.RunError
	default:
		return store.RunSuccess
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
