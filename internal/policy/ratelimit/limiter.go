// Package ratelimit paces calls to the panorama service so that consecutive
// requests are at least a fixed delay apart.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/panorama-harvester/internal/metrics"
)

// Config holds pacer configuration.
type Config struct {
	// Delay is the minimum spacing between two external calls. Zero disables pacing.
	Delay time.Duration
	// Name labels the observed wait durations.
	Name string
}

// Limiter spaces external calls using a single-token bucket.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// New creates a Limiter. The bucket starts empty so even the first call of a
// session waits one full delay.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.Delay > 0 {
		r = rate.Every(cfg.Delay)
	}
	limiter := rate.NewLimiter(r, 1)
	if cfg.Delay > 0 {
		limiter.Allow()
	}
	name := cfg.Name
	if name == "" {
		name = "panorama"
	}
	return &Limiter{limiter: limiter, name: name}
}

// Wait blocks until the next call may proceed, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.name, waited)
	}
	return nil
}
