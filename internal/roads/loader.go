package roads

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

var coordPair = regexp.MustCompile(`([-\d.]+)\s+([-\d.]+)`)

// Column names read from the geometry source.
const (
	ColumnName         = "name"
	ColumnNameFallback = "name_ru"
	ColumnObjectID     = "objectid"
	ColumnGeometry     = "geometry_wkt"
)

// LoadFile opens path and loads its segments.
func LoadFile(path string) ([]harvest.RoadSegment, error) {
	// #nosec G304 -- the geometry path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open road source %s: %w: %w", path, harvest.ErrMalformedInput, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Load parses segments from a CSV source. Rows without a name, an object id,
// or any parseable coordinate pair are skipped. It fails with
// harvest.ErrMalformedInput when nothing usable remains.
func Load(r io.Reader) ([]harvest.RoadSegment, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("road source is empty: %w", harvest.ErrMalformedInput)
		}
		return nil, fmt.Errorf("read road header: %w: %w", harvest.ErrMalformedInput, err)
	}
	columns := indexColumns(header)

	var segments []harvest.RoadSegment
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("read road row: %w: %w", harvest.ErrMalformedInput, err)
		}
		segment, ok := parseRow(row, columns)
		if ok {
			segments = append(segments, segment)
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no road segment with a name and geometry: %w", harvest.ErrMalformedInput)
	}
	return segments, nil
}

// ParseGeometry extracts every "lon lat" pair from a WKT-like string and
// returns them in (lat, lon) storage order.
func ParseGeometry(geom string) []harvest.Coordinate {
	matches := coordPair.FindAllStringSubmatch(geom, -1)
	path := make([]harvest.Coordinate, 0, len(matches))
	for _, m := range matches {
		lon, errLon := strconv.ParseFloat(m[1], 64)
		lat, errLat := strconv.ParseFloat(m[2], 64)
		if errLon != nil || errLat != nil {
			continue
		}
		path = append(path, harvest.Coordinate{Lat: lat, Lon: lon})
	}
	return path
}

func parseRow(row []string, columns map[string]int) (harvest.RoadSegment, bool) {
	rawName := strings.TrimSpace(field(row, columns, ColumnName))
	if rawName == "" {
		rawName = strings.TrimSpace(field(row, columns, ColumnNameFallback))
	}
	objectID := strings.TrimSpace(field(row, columns, ColumnObjectID))
	if rawName == "" || objectID == "" {
		return harvest.RoadSegment{}, false
	}
	path := ParseGeometry(strings.TrimSpace(field(row, columns, ColumnGeometry)))
	if len(path) == 0 {
		return harvest.RoadSegment{}, false
	}
	name := RepairName(rawName)
	return harvest.RoadSegment{
		Name:     name,
		ObjectID: objectID,
		SafeName: SafeName(name),
		Path:     path,
	}, true
}

func indexColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}
	return columns
}

func field(row []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}
