package resolver

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

type fakeService struct {
	mu         sync.Mutex
	nearest    map[harvest.Coordinate]*harvest.PanoramaCandidate
	byID       map[string]*harvest.PanoramaCandidate
	nearestErr error
	byIDErr    error
	calls      []string
}

func (f *fakeService) FindNearest(_ context.Context, c harvest.Coordinate) (*harvest.PanoramaCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "nearest:"+c.Key())
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}
	return f.nearest[c], nil
}

func (f *fakeService) FindByID(_ context.Context, id string) (*harvest.PanoramaCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "id:"+id)
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byID[id], nil
}

func (f *fakeService) Download(context.Context, *harvest.PanoramaCandidate, string) error {
	return errors.New("not used")
}

type countingPacer struct {
	waits int
	err   error
}

func (p *countingPacer) Wait(context.Context) error {
	p.waits++
	return p.err
}

func yearDate(year int) *time.Time {
	t := time.Date(year, time.June, 1, 12, 0, 0, 0, time.UTC)
	return &t
}

var here = harvest.Coordinate{Lat: 43.2389, Lon: 76.9286}

// threeYears has a freshest 2022 capture and 2023 and 2021 in its history.
func threeYears() *harvest.PanoramaCandidate {
	return &harvest.PanoramaCandidate{
		ID: "fresh-2022", Date: yearDate(2022), Location: here,
		HasFullMetadata: true, ImageID: "img-2022", Width: 512, Height: 256,
		Historical: []harvest.PanoramaCandidate{
			{ID: "hist-2023", Date: yearDate(2023), Location: here},
			{ID: "hist-2021", Date: yearDate(2021), Location: here},
		},
	}
}

func newResolver(t *testing.T, svc *fakeService, pacer *countingPacer, cache *harvest.LookupCache, logged harvest.PanoramaIDs) *Resolver {
	t.Helper()
	r, err := New(svc, pacer, cache, logged, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestResolveSelectsHistoricalYearAndFetchesMetadata(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()},
		byID: map[string]*harvest.PanoramaCandidate{
			"hist-2023": {ID: "hist-2023", Date: yearDate(2023), HasFullMetadata: true, ImageID: "img-2023", Width: 512, Height: 256},
		},
	}
	pacer := &countingPacer{}
	r := newResolver(t, svc, pacer, nil, nil)

	res := r.Resolve(context.Background(), here, 2023)
	require.True(t, res.Found())
	assert.Equal(t, "hist-2023", res.Panorama.ID)
	assert.True(t, res.Panorama.HasFullMetadata)
	assert.Equal(t, []string{"nearest:" + here.Key(), "id:hist-2023"}, svc.calls)
	assert.Equal(t, 2, pacer.waits)
}

func TestResolveUsesFreshestWithoutSecondLookup(t *testing.T) {
	t.Parallel()

	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()}}
	pacer := &countingPacer{}
	r := newResolver(t, svc, pacer, nil, nil)

	res := r.Resolve(context.Background(), here, 2022)
	require.True(t, res.Found())
	assert.Equal(t, "fresh-2022", res.Panorama.ID)
	assert.Empty(t, res.Panorama.Historical)
	assert.Len(t, svc.calls, 1)
	assert.Equal(t, 1, pacer.waits)
}

func TestResolveAlreadyLoggedStopsScan(t *testing.T) {
	t.Parallel()

	nearest := threeYears()
	// A second 2023 capture later in the list must not be considered.
	nearest.Historical = append(nearest.Historical, harvest.PanoramaCandidate{ID: "late-2023", Date: yearDate(2023)})
	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: nearest}}
	r := newResolver(t, svc, &countingPacer{}, nil, harvest.PanoramaIDs{"hist-2023": {}})

	res := r.Resolve(context.Background(), here, 2023)
	assert.False(t, res.Found())
	assert.Equal(t, harvest.ReasonAlreadyLogged, res.Reason)
	assert.Len(t, svc.calls, 1)
}

func TestResolveSeesIDsLoggedLater(t *testing.T) {
	t.Parallel()

	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()}}
	logged := harvest.PanoramaIDs{}
	r := newResolver(t, svc, &countingPacer{}, nil, logged)

	require.True(t, r.Resolve(context.Background(), here, 2022).Found())
	logged.Add("fresh-2022")
	assert.Equal(t, harvest.ReasonAlreadyLogged, r.Resolve(context.Background(), here, 2022).Reason)
}

func TestResolveNoPanorama(t *testing.T) {
	t.Parallel()

	r := newResolver(t, &fakeService{}, &countingPacer{}, nil, nil)
	res := r.Resolve(context.Background(), here, 2023)
	assert.Equal(t, harvest.ReasonNoPanorama, res.Reason)
	assert.NoError(t, res.Err)
}

func TestResolveNoYearMatch(t *testing.T) {
	t.Parallel()

	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()}}
	r := newResolver(t, svc, &countingPacer{}, nil, nil)
	assert.Equal(t, harvest.ReasonNoYearMatch, r.Resolve(context.Background(), here, 2019).Reason)
}

func TestResolveDateFromIDWhenMetadataMissing(t *testing.T) {
	t.Parallel()

	ts := time.Date(2020, time.August, 3, 0, 0, 0, 0, time.UTC).Unix()
	id := "1297850583_673245820_23_" + strconv.FormatInt(ts, 10)
	svc := &fakeService{
		nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: {
			ID: "fresh", Date: yearDate(2024), HasFullMetadata: true,
			Historical: []harvest.PanoramaCandidate{{ID: id}},
		}},
		byID: map[string]*harvest.PanoramaCandidate{id: {ID: id, HasFullMetadata: true, ImageID: "img"}},
	}
	r := newResolver(t, svc, &countingPacer{}, nil, nil)

	res := r.Resolve(context.Background(), here, 2020)
	require.True(t, res.Found())
	assert.Equal(t, id, res.Panorama.ID)
}

func TestResolveNoMetadata(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()},
		byID:    map[string]*harvest.PanoramaCandidate{"hist-2021": {ID: "hist-2021"}},
	}
	r := newResolver(t, svc, &countingPacer{}, nil, nil)
	assert.Equal(t, harvest.ReasonNoMetadata, r.Resolve(context.Background(), here, 2021).Reason)
}

func TestResolveTransientErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	r := newResolver(t, &fakeService{nearestErr: boom}, &countingPacer{}, nil, nil)
	res := r.Resolve(context.Background(), here, 2023)
	assert.Equal(t, harvest.ReasonTransientError, res.Reason)
	require.ErrorIs(t, res.Err, harvest.ErrTransientService)
	require.ErrorIs(t, res.Err, boom)
	assert.False(t, res.Interrupted())

	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()}, byIDErr: boom}
	r = newResolver(t, svc, &countingPacer{}, nil, nil)
	res = r.Resolve(context.Background(), here, 2023)
	assert.Equal(t, harvest.ReasonTransientError, res.Reason)
	require.ErrorIs(t, res.Err, boom)
}

func TestResolveInterruptedWhilePacing(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newResolver(t, svc, &countingPacer{err: context.Canceled}, nil, nil)
	res := r.Resolve(context.Background(), here, 2023)
	assert.True(t, res.Interrupted())
	assert.Empty(t, svc.calls)
}

func TestResolveServesRepeatsFromCache(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()},
		byID: map[string]*harvest.PanoramaCandidate{
			"hist-2023": {ID: "hist-2023", Date: yearDate(2023), HasFullMetadata: true, ImageID: "img-2023", Width: 512, Height: 256},
		},
	}
	pacer := &countingPacer{}
	cache := harvest.NewLookupCache()
	r := newResolver(t, svc, pacer, cache, nil)

	first := r.Resolve(context.Background(), here, 2023)
	require.True(t, first.Found())
	second := r.Resolve(context.Background(), here, 2023)
	require.True(t, second.Found())

	assert.Equal(t, first.Panorama.ID, second.Panorama.ID)
	assert.Len(t, svc.calls, 2, "second resolve is served from cache")
	assert.Equal(t, 2, pacer.waits, "cache hits do not wait")
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("nearest:" + here.Key())
	assert.True(t, ok)
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	cache := harvest.NewLookupCache()
	r := newResolver(t, &fakeService{nearestErr: errors.New("boom")}, &countingPacer{}, cache, nil)
	r.Resolve(context.Background(), here, 2023)
	r2 := newResolver(t, &fakeService{}, &countingPacer{}, cache, nil)
	r2.Resolve(context.Background(), here, 2023)
	assert.Zero(t, cache.Len())
}

func TestResolveIgnoresUnreadableCacheEntry(t *testing.T) {
	t.Parallel()

	cache := harvest.NewLookupCache()
	cache.Put("nearest:"+here.Key(), []byte("{not json"))
	svc := &fakeService{nearest: map[harvest.Coordinate]*harvest.PanoramaCandidate{here: threeYears()}}
	r := newResolver(t, svc, &countingPacer{}, cache, nil)

	require.True(t, r.Resolve(context.Background(), here, 2022).Found())
	assert.Len(t, svc.calls, 1)
}
