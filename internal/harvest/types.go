package harvest

import (
	"encoding/json"
	"image"
	"strconv"
	"strings"
	"time"
)

// Coordinate is a latitude/longitude pair. Identity is exact value equality.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key renders the coordinate in a lossless textual form.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Lat, 'g', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'g', -1, 64)
}

// IsZero reports whether both components are zero.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lon == 0
}

// RoadSegment is one named road from the geometry source.
type RoadSegment struct {
	Name     string
	ObjectID string
	// SafeName is the transliterated, filesystem-safe form of Name.
	SafeName string
	Path     []Coordinate
}

// PanoramaCandidate describes one capture returned by the panorama service.
type PanoramaCandidate struct {
	ID string `json:"id"`
	// Date is the capture time reported by the service, when present.
	Date            *time.Time          `json:"date,omitempty"`
	Location        Coordinate          `json:"location"`
	HasFullMetadata bool                `json:"has_full_metadata"`
	ImageID         string              `json:"image_id,omitempty"`
	Width           int                 `json:"width,omitempty"`
	Height          int                 `json:"height,omitempty"`
	// TileWidth and TileHeight are the download tile dimensions; zero means
	// the service default.
	TileWidth       int                 `json:"tile_width,omitempty"`
	TileHeight      int                 `json:"tile_height,omitempty"`
	Historical      []PanoramaCandidate `json:"historical,omitempty"`
}

// CaptureTime returns the metadata date when present, otherwise the time
// decoded from the identifier.
func (p PanoramaCandidate) CaptureTime() (time.Time, bool) {
	if p.Date != nil && !p.Date.IsZero() {
		return p.Date.UTC(), true
	}
	return DateFromPanoID(p.ID)
}

// DateFromPanoID decodes the trailing "_"-separated token of a panorama ID as
// Unix seconds. It never panics and reports false for anything unparseable.
func DateFromPanoID(id string) (time.Time, bool) {
	idx := strings.LastIndex(id, "_")
	token := id[idx+1:]
	if token == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// Fingerprint is a 64-bit perceptual hash of one extracted view.
type Fingerprint uint64

// String renders the fingerprint as fixed-width hex.
func (f Fingerprint) String() string {
	s := strconv.FormatUint(uint64(f), 16)
	return strings.Repeat("0", 16-len(s)) + s
}

// View is one output-ready crop produced from a panorama.
type View struct {
	// Label is empty under the single-view policy.
	Label string
	Image image.Image
}

// CrawlState is the persisted progress for one target year.
type CrawlState struct {
	Visited           map[Coordinate]struct{}
	Fingerprints      map[Fingerprint]struct{}
	CumulativeSeconds float64
}

// NewCrawlState returns an empty state.
func NewCrawlState() *CrawlState {
	return &CrawlState{
		Visited:      make(map[Coordinate]struct{}),
		Fingerprints: make(map[Fingerprint]struct{}),
	}
}

// IsVisited reports whether the coordinate was already processed.
func (s *CrawlState) IsVisited(c Coordinate) bool {
	_, ok := s.Visited[c]
	return ok
}

// MarkVisited records the coordinate as processed.
func (s *CrawlState) MarkVisited(c Coordinate) {
	s.Visited[c] = struct{}{}
}

// LookupCache holds raw service responses keyed by lookup. It shares no keys
// with CrawlState and is shared across years.
type LookupCache struct {
	Entries map[string]json.RawMessage
}

// NewLookupCache returns an empty cache.
func NewLookupCache() *LookupCache {
	return &LookupCache{Entries: make(map[string]json.RawMessage)}
}

// Get returns the cached payload for key.
func (c *LookupCache) Get(key string) (json.RawMessage, bool) {
	raw, ok := c.Entries[key]
	return raw, ok
}

// Put stores payload under key.
func (c *LookupCache) Put(key string, payload json.RawMessage) {
	c.Entries[key] = payload
}

// Len returns the number of cached entries.
func (c *LookupCache) Len() int {
	return len(c.Entries)
}

// PanoramaIDs is the set of panorama IDs already present in the output log.
type PanoramaIDs map[string]struct{}

// Has reports whether id is in the set.
func (p PanoramaIDs) Has(id string) bool {
	_, ok := p[id]
	return ok
}

// Add inserts id.
func (p PanoramaIDs) Add(id string) {
	p[id] = struct{}{}
}

// OutputRecord is one row of the output log.
type OutputRecord struct {
	ID         int       `json:"id"`
	ObjectID   string    `json:"object_id"`
	PanoID     string    `json:"pano_id"`
	RoadName   string    `json:"road_name"`
	Lat        float64   `json:"latitude"`
	Lon        float64   `json:"longitude"`
	Year       int       `json:"year"`
	View       string    `json:"view,omitempty"`
	FilePath   string    `json:"file_path"`
	CapturedAt time.Time `json:"captured_at"`
}

// FailureRecord is one row of the failure log.
type FailureRecord struct {
	RoadName string
	Lat      float64
	Lon      float64
	ObjectID string
}
