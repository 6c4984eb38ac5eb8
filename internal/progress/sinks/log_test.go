package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/panorama-harvester/internal/progress"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		RunID:   progress.UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   progress.StageCoordinate,
		Year:    2023,
		Road:    "Abay Avenue",
		Outcome: progress.OutcomeNotFound,
		Note:    "no panorama at location",
	}}))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "COORDINATE_DONE", ctx["stage"])
	require.Equal(t, "Abay Avenue", ctx["road"])
	require.Equal(t, "not_found", ctx["outcome"])
	require.NotContains(t, ctx, "pano_id")
	require.NoError(t, sink.Close(context.Background()))
}
