// Package checkpoint persists crawl progress and the lookup cache as durable
// snapshots. Writes are atomic with respect to a crash: the next load sees
// either the previous snapshot or the new one, never a partial file.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
	"github.com/JakeFAU/panorama-harvester/internal/storage/local"
)

const stateVersion = 1

// Store loads and saves snapshots.
type Store struct {
	logger *zap.Logger
}

// New returns a Store that reports recovered corruption through logger.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

type stateFile struct {
	Version           int          `json:"version"`
	Visited           [][2]float64 `json:"visited"`
	Fingerprints      []string     `json:"fingerprints"`
	CumulativeSeconds float64      `json:"cumulative_seconds"`
}

type cacheFile struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// LoadState reads the crawl state at path. Missing, truncated, or corrupt
// snapshots yield an empty state.
func (s *Store) LoadState(path string) (*harvest.CrawlState, error) {
	var file stateFile
	ok, err := s.read(path, &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return harvest.NewCrawlState(), nil
	}

	state := harvest.NewCrawlState()
	state.CumulativeSeconds = file.CumulativeSeconds
	for _, pair := range file.Visited {
		state.Visited[harvest.Coordinate{Lat: pair[0], Lon: pair[1]}] = struct{}{}
	}
	for _, raw := range file.Fingerprints {
		v, err := strconv.ParseUint(raw, 16, 64)
		if err != nil {
			s.logger.Warn("checkpoint fingerprint unreadable; starting fresh",
				zap.String("path", path), zap.String("fingerprint", raw))
			return harvest.NewCrawlState(), nil
		}
		state.Fingerprints[harvest.Fingerprint(v)] = struct{}{}
	}
	return state, nil
}

// SaveState atomically replaces the snapshot at path.
func (s *Store) SaveState(path string, state *harvest.CrawlState) error {
	file := stateFile{
		Version:           stateVersion,
		Visited:           make([][2]float64, 0, len(state.Visited)),
		Fingerprints:      make([]string, 0, len(state.Fingerprints)),
		CumulativeSeconds: state.CumulativeSeconds,
	}
	for c := range state.Visited {
		file.Visited = append(file.Visited, [2]float64{c.Lat, c.Lon})
	}
	sort.Slice(file.Visited, func(i, j int) bool {
		if file.Visited[i][0] != file.Visited[j][0] {
			return file.Visited[i][0] < file.Visited[j][0]
		}
		return file.Visited[i][1] < file.Visited[j][1]
	})
	for fp := range state.Fingerprints {
		file.Fingerprints = append(file.Fingerprints, fp.String())
	}
	sort.Strings(file.Fingerprints)
	return writeJSON(path, file)
}

// LoadCache reads the lookup cache at path with the same recovery rules as
// LoadState.
func (s *Store) LoadCache(path string) (*harvest.LookupCache, error) {
	var file cacheFile
	ok, err := s.read(path, &file)
	if err != nil {
		return nil, err
	}
	cache := harvest.NewLookupCache()
	if !ok {
		return cache, nil
	}
	for k, v := range file.Entries {
		cache.Put(k, v)
	}
	return cache, nil
}

// SaveCache atomically replaces the cache snapshot at path.
func (s *Store) SaveCache(path string, cache *harvest.LookupCache) error {
	return writeJSON(path, cacheFile{Version: stateVersion, Entries: cache.Entries})
}

// read decodes path into dest. It reports false when the caller should start
// from an empty snapshot.
func (s *Store) read(path string, dest any) (bool, error) {
	// #nosec G304 -- snapshot paths are derived from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no snapshot found; starting fresh", zap.String("path", path))
			return false, nil
		}
		return false, fmt.Errorf("read snapshot %s: %w: %w", path, harvest.ErrPersistence, err)
	}
	if len(data) == 0 {
		s.logger.Warn("snapshot is empty; starting fresh", zap.String("path", path))
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("snapshot is corrupt; starting fresh", zap.String("path", path), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func writeJSON(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w: %w", path, harvest.ErrPersistence, err)
	}
	if err := local.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", harvest.ErrPersistence, err)
	}
	return nil
}
