// Package resolver picks, for one coordinate and target year, the panorama
// that should be harvested.
//
// Candidates are the freshest panorama near the coordinate followed by its
// historical captures in service order. The first candidate captured in the
// target year ends the scan: it is selected unless its ID is already in the
// output log, in which case the coordinate reports "already logged" even if a
// later candidate also matches the year.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// Result is the outcome of resolving one coordinate. Exactly one of Panorama
// and Reason is set.
type Result struct {
	Panorama *harvest.PanoramaCandidate
	Reason   harvest.NotFoundReason
	// Err carries the underlying failure for ReasonTransientError, or the
	// context error when pacing was interrupted.
	Err error
}

// Found reports whether a panorama was selected.
func (r Result) Found() bool {
	return r.Panorama != nil
}

// Interrupted reports whether resolution stopped because the context ended
// while waiting for the pacer. No service call was made in that case.
func (r Result) Interrupted() bool {
	if r.Err == nil || errors.Is(r.Err, harvest.ErrTransientService) {
		return false
	}
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// Resolver applies the selection policy on top of a PanoramaService.
type Resolver struct {
	service harvest.PanoramaService
	pacer   harvest.Pacer
	cache   *harvest.LookupCache
	logged  harvest.PanoramaIDs
	logger  *zap.Logger
}

// New builds a Resolver. logged is read on every call, so IDs added to it
// later are honored.
func New(service harvest.PanoramaService, pacer harvest.Pacer, cache *harvest.LookupCache, logged harvest.PanoramaIDs, logger *zap.Logger) (*Resolver, error) {
	if service == nil {
		return nil, errors.New("panorama service is required")
	}
	if pacer == nil {
		return nil, errors.New("pacer is required")
	}
	if cache == nil {
		cache = harvest.NewLookupCache()
	}
	if logged == nil {
		logged = harvest.PanoramaIDs{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{service: service, pacer: pacer, cache: cache, logged: logged, logger: logger}, nil
}

// Resolve selects the panorama for coord in year.
func (r *Resolver) Resolve(ctx context.Context, coord harvest.Coordinate, year int) Result {
	nearest, err := r.lookup(ctx, nearestKey(coord), func(callCtx context.Context) (*harvest.PanoramaCandidate, error) {
		return r.service.FindNearest(callCtx, coord)
	})
	if err != nil {
		return failure(err)
	}
	if nearest == nil {
		return Result{Reason: harvest.ReasonNoPanorama}
	}

	selected, reason := r.selectCandidate(nearest, year)
	if reason != harvest.ReasonNone {
		return Result{Reason: reason}
	}

	if !selected.HasFullMetadata {
		id := selected.ID
		full, err := r.lookup(ctx, byIDKey(id), func(callCtx context.Context) (*harvest.PanoramaCandidate, error) {
			return r.service.FindByID(callCtx, id)
		})
		if err != nil {
			return failure(err)
		}
		if full == nil || !full.HasFullMetadata {
			return Result{Reason: harvest.ReasonNoMetadata}
		}
		if full.Date == nil {
			full.Date = selected.Date
		}
		selected = full
	}
	return Result{Panorama: selected}
}

func (r *Resolver) selectCandidate(nearest *harvest.PanoramaCandidate, year int) (*harvest.PanoramaCandidate, harvest.NotFoundReason) {
	freshest := *nearest
	freshest.Historical = nil
	candidates := make([]harvest.PanoramaCandidate, 0, 1+len(nearest.Historical))
	candidates = append(candidates, freshest)
	candidates = append(candidates, nearest.Historical...)

	for i := range candidates {
		cand := candidates[i]
		captured, ok := cand.CaptureTime()
		if !ok || captured.UTC().Year() != year {
			continue
		}
		if r.logged.Has(cand.ID) {
			r.logger.Debug("year match already logged", zap.String("pano_id", cand.ID))
			return nil, harvest.ReasonAlreadyLogged
		}
		return &cand, harvest.ReasonNone
	}
	return nil, harvest.ReasonNoYearMatch
}

// lookup serves key from the cache or paces and calls fetch, caching a
// non-empty result.
func (r *Resolver) lookup(ctx context.Context, key string, fetch func(context.Context) (*harvest.PanoramaCandidate, error)) (*harvest.PanoramaCandidate, error) {
	if raw, ok := r.cache.Get(key); ok {
		var cached harvest.PanoramaCandidate
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
		r.logger.Debug("ignoring unreadable cache entry", zap.String("key", key))
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for pacer: %w", err)
	}
	pano, err := fetch(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", harvest.ErrTransientService, key, err)
	}
	if pano == nil {
		return nil, nil
	}
	raw, err := json.Marshal(pano)
	if err == nil {
		r.cache.Put(key, raw)
	}
	return pano, nil
}

func failure(err error) Result {
	return Result{Reason: harvest.ReasonTransientError, Err: err}
}

func nearestKey(c harvest.Coordinate) string {
	return "nearest:" + c.Key()
}

func byIDKey(id string) string {
	return "id:" + id
}
