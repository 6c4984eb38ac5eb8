package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/panorama-harvester/internal/metrics"
)

func TestLimiterSpacesCalls(t *testing.T) {
	metrics.Init()
	l := New(Config{Delay: 100 * time.Millisecond})

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	elapsed := time.Since(start)

	// Two waits from an empty bucket cost two delays.
	require.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
}

func TestLimiterZeroDelayDoesNotBlock(t *testing.T) {
	metrics.Init()
	l := New(Config{})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsCanceledContext(t *testing.T) {
	metrics.Init()
	l := New(Config{Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx))
}
