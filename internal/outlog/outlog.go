// Package outlog maintains the CSV output log of accepted views and the
// headerless failure log of coordinates that produced no panorama.
//
// Every append is flushed and fsynced before it returns, so a row that was
// reported written survives a crash. The output log is also the source of
// truth for sequence IDs and logged panorama IDs on restart.
package outlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

// DateLayout formats the PanoramaDate column.
const DateLayout = "2006-01-02 15:04:05"

// Header returns the output log header for the given layout.
func Header(withView bool) []string {
	cols := []string{"ID", "ObjectID", "PanoID", "RoadName", "Latitude", "Longitude", "YearFound"}
	if withView {
		cols = append(cols, "View")
	}
	return append(cols, "FilePath", "PanoramaDate")
}

// Recovery is what a restart learns from an existing output log.
type Recovery struct {
	LoggedIDs harvest.PanoramaIDs
	// MaxID is the largest numeric ID present, zero for a fresh log.
	MaxID int
	Rows  int
}

// NextID returns the first unused sequence ID.
func (r Recovery) NextID() int {
	return r.MaxID + 1
}

// Writer appends rows to the output log.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	csv      *csv.Writer
	withView bool
}

// Open prepares the output log at path. A missing or empty file gets a
// header; an existing file must carry the header for this layout and is
// scanned for logged panorama IDs and the highest ID.
func Open(path string, withView bool) (*Writer, Recovery, error) {
	rec := Recovery{LoggedIDs: harvest.PanoramaIDs{}}
	header := Header(withView)

	needsHeader, needsNewline, err := scan(path, header, &rec)
	if err != nil {
		return nil, Recovery{}, err
	}

	file, err := openAppend(path)
	if err != nil {
		return nil, Recovery{}, err
	}
	w := &Writer{path: path, file: file, csv: csv.NewWriter(file), withView: withView}
	if needsNewline {
		if _, err := file.WriteString("\n"); err != nil {
			_ = file.Close()
			return nil, Recovery{}, fmt.Errorf("%w: terminate partial row in %s: %w", harvest.ErrPersistence, path, err)
		}
	}
	if needsHeader {
		if err := w.writeRow(header); err != nil {
			_ = file.Close()
			return nil, Recovery{}, err
		}
	}
	return w, rec, nil
}

func scan(path string, header []string, rec *Recovery) (needsHeader, needsNewline bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("%w: read output log %s: %w", harvest.ErrPersistence, path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true, len(data) > 0 && data[len(data)-1] != '\n', nil
	}
	needsNewline = data[len(data)-1] != '\n'

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\ufeff")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	first, err := r.Read()
	if err != nil {
		return false, false, fmt.Errorf("%w: output log %s header: %w", harvest.ErrMalformedInput, path, err)
	}
	if !equalHeader(first, header) {
		return false, false, fmt.Errorf("%w: output log %s has header %q, want %q",
			harvest.ErrMalformedInput, path, strings.Join(first, ","), strings.Join(header, ","))
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A torn final row from a crash is the only expected parse error.
			continue
		}
		if len(row) < 3 {
			continue
		}
		rec.Rows++
		if id, err := strconv.Atoi(strings.TrimSpace(row[0])); err == nil && id > rec.MaxID {
			rec.MaxID = id
		}
		if pano := strings.TrimSpace(row[2]); pano != "" {
			rec.LoggedIDs.Add(pano)
		}
	}
	return false, needsNewline, nil
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

// Append writes one record and syncs it to disk.
func (w *Writer) Append(rec harvest.OutputRecord) error {
	row := []string{
		strconv.Itoa(rec.ID),
		rec.ObjectID,
		rec.PanoID,
		rec.RoadName,
		formatCoord(rec.Lat),
		formatCoord(rec.Lon),
		strconv.Itoa(rec.Year),
	}
	if w.withView {
		row = append(row, rec.View)
	}
	row = append(row, rec.FilePath, formatDate(rec.CapturedAt))
	return w.writeRow(row)
}

// Path returns the log location.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) writeRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("%w: log %s is closed", harvest.ErrPersistence, w.path)
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("%w: write %s: %w", harvest.ErrPersistence, w.path, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", harvest.ErrPersistence, w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", harvest.ErrPersistence, w.path, err)
	}
	return nil
}

// FailureWriter appends to the failure log.
type FailureWriter struct {
	inner *Writer
}

// OpenFailures opens the headerless failure log at path.
func OpenFailures(path string) (*FailureWriter, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		if last, err := lastByte(path); err == nil && last != '\n' {
			if _, err := file.WriteString("\n"); err != nil {
				_ = file.Close()
				return nil, fmt.Errorf("%w: terminate partial row in %s: %w", harvest.ErrPersistence, path, err)
			}
		}
	}
	return &FailureWriter{inner: &Writer{path: path, file: file, csv: csv.NewWriter(file)}}, nil
}

// Append writes one failure and syncs it to disk.
func (f *FailureWriter) Append(rec harvest.FailureRecord) error {
	return f.inner.writeRow([]string{rec.RoadName, formatCoord(rec.Lat), formatCoord(rec.Lon), rec.ObjectID})
}

// Close closes the underlying file.
func (f *FailureWriter) Close() error {
	return f.inner.Close()
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: create log dir for %s: %w", harvest.ErrPersistence, path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", harvest.ErrPersistence, path, err)
	}
	return file, nil
}

func lastByte(path string) (byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := f.Seek(-1, io.SeekEnd); err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
