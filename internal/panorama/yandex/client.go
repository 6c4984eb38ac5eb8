package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/panorama-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/panorama-harvester/internal/harvest"
	"github.com/JakeFAU/panorama-harvester/internal/metrics"
)

// ErrNoImage is returned when a panorama lacks the metadata needed to download it.
var ErrNoImage = errors.New("panorama has no downloadable image")

// Default endpoints.
const (
	DefaultBaseURL = "https://api-maps.yandex.ru/services/panoramas/1.x/"
	DefaultTileURL = "https://pano.maps.yandex.net"

	defaultTileSize = 256
)

// Getter performs HTTP GETs; collyfetcher.Fetcher satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Config controls the client.
type Config struct {
	BaseURL string
	TileURL string
	// Zoom selects the download resolution; 0 is the largest.
	Zoom        int
	JPEGQuality int
}

// Client talks to the panorama endpoints.
type Client struct {
	cfg    Config
	http   Getter
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, getter Getter, logger *zap.Logger) (*Client, error) {
	if getter == nil {
		return nil, fmt.Errorf("http getter is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TileURL == "" {
		cfg.TileURL = DefaultTileURL
	}
	if cfg.Zoom < 0 {
		return nil, fmt.Errorf("zoom must be >= 0")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: getter, logger: logger}, nil
}

// FindNearest returns the freshest panorama near c, or nil when the service
// has none.
func (c *Client) FindNearest(ctx context.Context, coord harvest.Coordinate) (*harvest.PanoramaCandidate, error) {
	params := c.baseParams()
	params.Set("ll", formatFloat(coord.Lon)+","+formatFloat(coord.Lat))
	return c.lookup(ctx, "find_nearest", params)
}

// FindByID returns the panorama with full image metadata.
func (c *Client) FindByID(ctx context.Context, id string) (*harvest.PanoramaCandidate, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("panorama id is required")
	}
	params := c.baseParams()
	params.Set("oid", id)
	pano, err := c.lookup(ctx, "find_by_id", params)
	if err != nil {
		return nil, err
	}
	if pano == nil {
		return nil, fmt.Errorf("panorama %s not found", id)
	}
	return pano, nil
}

// Download stitches the panorama's tiles at the configured zoom and writes
// them to dest as one JPEG. dest is replaced atomically.
func (c *Client) Download(ctx context.Context, pano *harvest.PanoramaCandidate, dest string) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveServiceRequest("download", err, time.Since(start))
	}()
	if pano == nil || !pano.HasFullMetadata || pano.ImageID == "" {
		return ErrNoImage
	}
	width, height := scaledSize(pano.Width, pano.Height, c.cfg.Zoom)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("panorama %s has no image size", pano.ID)
	}

	tileW, tileH := pano.TileWidth, pano.TileHeight
	if tileW <= 0 {
		tileW = defaultTileSize
	}
	if tileH <= 0 {
		tileH = defaultTileSize
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	cols := (width + tileW - 1) / tileW
	rows := (height + tileH - 1) / tileH
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			tile, err := c.fetchTile(ctx, pano.ImageID, x, y)
			if err != nil {
				return err
			}
			at := image.Pt(x*tileW, y*tileH)
			draw.Draw(canvas, tile.Bounds().Sub(tile.Bounds().Min).Add(at), tile, tile.Bounds().Min, draw.Src)
		}
	}
	return c.writeJPEG(canvas, dest)
}

func (c *Client) fetchTile(ctx context.Context, imageID string, x, y int) (image.Image, error) {
	tileURL := fmt.Sprintf("%s/%s/%d.%d.%d", strings.TrimRight(c.cfg.TileURL, "/"), imageID, c.cfg.Zoom, x, y)
	resp, err := c.http.Get(ctx, tileURL)
	if err != nil {
		return nil, fmt.Errorf("fetch tile %d.%d: %w", x, y, err)
	}
	metrics.AddDownloadBytes(len(resp.Body))
	tile, err := imaging.Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("decode tile %d.%d: %w", x, y, err)
	}
	return tile, nil
}

func (c *Client) writeJPEG(img image.Image, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create download dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp download: %w", err)
	}
	tmpName := tmp.Name()
	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(c.cfg.JPEGQuality)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode panorama: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp download: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move download into place: %w", err)
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, op string, params url.Values) (pano *harvest.PanoramaCandidate, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveServiceRequest(op, err, time.Since(start))
	}()

	endpoint := c.cfg.BaseURL + "?" + params.Encode()
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		if collyfetcher.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	pano, err = parseLookup(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", op, err)
	}
	if pano != nil {
		c.logger.Debug("panorama lookup",
			zap.String("op", op),
			zap.String("pano_id", pano.ID),
			zap.Int("historical", len(pano.Historical)),
		)
	}
	return pano, nil
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("l", "stv")
	params.Set("lang", "en_US")
	params.Set("origin", "userAction")
	params.Set("provider", "streetview")
	return params
}

// parseLookup converts a lookup payload. A payload without a panorama yields
// nil and no error.
func parseLookup(body []byte) (*harvest.PanoramaCandidate, error) {
	var raw lookupResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode lookup: %w", err)
	}
	if raw.Status != "" && raw.Status != "success" {
		return nil, nil
	}
	data := raw.Data.Data
	if data.PanoramaID == "" {
		return nil, nil
	}

	pano := &harvest.PanoramaCandidate{
		ID:       data.PanoramaID,
		Date:     unixDate(data.Timestamp),
		Location: toCoordinate(data.Point),
		ImageID:  data.Images.ImageID,
	}
	if full, ok := largestZoom(data.Images.Zooms); ok && data.Images.ImageID != "" {
		pano.HasFullMetadata = true
		pano.Width = full.Width
		pano.Height = full.Height
		pano.TileWidth = data.Images.Tiles.Width
		pano.TileHeight = data.Images.Tiles.Height
	}
	for _, h := range raw.Data.Annotation.HistoricalPanoramas {
		id := h.Connection.OID
		if id == "" {
			id = h.PanoramaID
		}
		if id == "" || id == pano.ID {
			continue
		}
		pano.Historical = append(pano.Historical, harvest.PanoramaCandidate{
			ID:       id,
			Date:     unixDate(h.Timestamp),
			Location: toCoordinate(h.Connection.Point),
		})
	}
	return pano, nil
}

func largestZoom(zooms []zoomSize) (zoomSize, bool) {
	var best zoomSize
	found := false
	for _, z := range zooms {
		if z.Width <= 0 || z.Height <= 0 {
			continue
		}
		if !found || z.Width > best.Width {
			best = z
			found = true
		}
	}
	return best, found
}

// scaledSize halves the full resolution once per zoom level.
func scaledSize(width, height, zoom int) (int, int) {
	for i := 0; i < zoom; i++ {
		width = (width + 1) / 2
		height = (height + 1) / 2
	}
	return width, height
}

func toCoordinate(p point) harvest.Coordinate {
	if len(p.Coordinates) < 2 {
		return harvest.Coordinate{}
	}
	return harvest.Coordinate{Lat: p.Coordinates[1], Lon: p.Coordinates[0]}
}

func unixDate(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
