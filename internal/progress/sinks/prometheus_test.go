package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/panorama-harvester/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Year: 2023},
		{RunID: runID, TS: now, Stage: progress.StageCoordinate, Year: 2023, Outcome: progress.OutcomeAccepted, Dur: time.Second},
		{RunID: runID, TS: now, Stage: progress.StageViewSaved, Year: 2023, PanoID: "p", Bytes: 2048},
		{RunID: runID, TS: now, Stage: progress.StageCoordinate, Year: 2023, Outcome: progress.OutcomeNotFound},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.coordinates.WithLabelValues("2023", "accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.coordinates.WithLabelValues("2023", "not_found")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.viewsSaved.WithLabelValues("2023")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.viewBytes), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.coordinateDuration, "harvest_coordinate_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunInterrupted, Dur: time.Minute},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("interrupted")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
