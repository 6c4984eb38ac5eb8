package yandex

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/panorama-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

type fakeGetter struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	requested []string
}

func (f *fakeGetter) Get(_ context.Context, url string) (collyfetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, url)
	for prefix, err := range f.errs {
		if strings.Contains(url, prefix) {
			return collyfetcher.Response{}, err
		}
	}
	for key, body := range f.responses {
		if strings.Contains(url, key) {
			return collyfetcher.Response{URL: url, StatusCode: http.StatusOK, Body: body}, nil
		}
	}
	return collyfetcher.Response{}, &collyfetcher.StatusError{URL: url, StatusCode: http.StatusNotFound}
}

const samplePayload = `{
  "status": "success",
  "data": {
    "Data": {
      "panoramaId": "1297850583_673245820_23_1690000000",
      "timestamp": 1690000000,
      "Point": {"coordinates": [76.9286, 43.2389, 812.5]},
      "Images": {
        "imageId": "img-abc",
        "Zooms": [
          {"level": 1, "width": 256, "height": 128},
          {"level": 0, "width": 512, "height": 256}
        ],
        "Tiles": {"width": 256, "height": 256}
      }
    },
    "Annotation": {
      "HistoricalPanoramas": [
        {"Connection": {"oid": "1297850583_673245820_23_1650000000", "Point": {"coordinates": [76.9287, 43.2390]}}, "timestamp": 1650000000},
        {"Connection": {"oid": "1297850583_673245820_23_1690000000"}}
      ]
    }
  }
}`

func newTestClient(t *testing.T, getter Getter, cfg Config) *Client {
	t.Helper()
	client, err := New(cfg, getter, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestFindNearestParsesPayload(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{"ll=": []byte(samplePayload)}}
	client := newTestClient(t, getter, Config{BaseURL: "http://pano.test/"})

	pano, err := client.FindNearest(context.Background(), harvest.Coordinate{Lat: 43.2389, Lon: 76.9286})
	require.NoError(t, err)
	require.NotNil(t, pano)

	assert.Equal(t, "1297850583_673245820_23_1690000000", pano.ID)
	require.NotNil(t, pano.Date)
	assert.Equal(t, 2023, pano.Date.Year())
	assert.Equal(t, harvest.Coordinate{Lat: 43.2389, Lon: 76.9286}, pano.Location)
	assert.True(t, pano.HasFullMetadata)
	assert.Equal(t, "img-abc", pano.ImageID)
	assert.Equal(t, 512, pano.Width)
	assert.Equal(t, 256, pano.Height)
	assert.Equal(t, 256, pano.TileWidth)
	assert.Equal(t, 256, pano.TileHeight)

	require.Len(t, pano.Historical, 1, "self reference is dropped")
	assert.Equal(t, "1297850583_673245820_23_1650000000", pano.Historical[0].ID)
	assert.False(t, pano.Historical[0].HasFullMetadata)

	require.Len(t, getter.requested, 1)
	assert.Contains(t, getter.requested[0], "ll=76.9286%2C43.2389")
	assert.Contains(t, getter.requested[0], "l=stv")
}

func TestFindNearestNoPanorama(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{"ll=": []byte(`{"status":"error","data":{}}`)}}
	client := newTestClient(t, getter, Config{})

	pano, err := client.FindNearest(context.Background(), harvest.Coordinate{Lat: 1, Lon: 2})
	require.NoError(t, err)
	assert.Nil(t, pano)
}

func TestFindNearestNotFoundStatusIsEmpty(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGetter{}, Config{})
	pano, err := client.FindNearest(context.Background(), harvest.Coordinate{Lat: 1, Lon: 2})
	require.NoError(t, err)
	assert.Nil(t, pano)
}

func TestFindNearestPropagatesServerErrors(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{errs: map[string]error{"ll=": &collyfetcher.StatusError{URL: "x", StatusCode: http.StatusBadGateway}}}
	client := newTestClient(t, getter, Config{})

	_, err := client.FindNearest(context.Background(), harvest.Coordinate{Lat: 1, Lon: 2})
	require.Error(t, err)
	assert.True(t, collyfetcher.IsStatus(err, http.StatusBadGateway))
}

func TestFindNearestRejectsGarbage(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{"ll=": []byte("<html>")}}
	client := newTestClient(t, getter, Config{})

	_, err := client.FindNearest(context.Background(), harvest.Coordinate{Lat: 1, Lon: 2})
	require.Error(t, err)
}

func TestFindByIDUsesOID(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{"oid=": []byte(samplePayload)}}
	client := newTestClient(t, getter, Config{})

	pano, err := client.FindByID(context.Background(), "1297850583_673245820_23_1690000000")
	require.NoError(t, err)
	assert.True(t, pano.HasFullMetadata)
	assert.Contains(t, getter.requested[0], "oid=1297850583_673245820_23_1690000000")

	_, err = client.FindByID(context.Background(), " ")
	require.Error(t, err)
}

func encodeTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	return encodeSizedTile(t, defaultTileSize, c)
}

func encodeSizedTile(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	tile := imaging.New(size, size, c)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, tile, imaging.PNG))
	return buf.Bytes()
}

func TestDownloadStitchesTiles(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{
		"/img-abc/0.0.0": encodeTile(t, color.NRGBA{R: 255, A: 255}),
		"/img-abc/0.1.0": encodeTile(t, color.NRGBA{B: 255, A: 255}),
	}}
	client := newTestClient(t, getter, Config{TileURL: "http://tiles.test"})

	pano := &harvest.PanoramaCandidate{ID: "p", ImageID: "img-abc", HasFullMetadata: true, Width: 512, Height: 256}
	dest := filepath.Join(t.TempDir(), "raw", "p.jpg")
	require.NoError(t, client.Download(context.Background(), pano, dest))

	img, err := imaging.Open(dest)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 512, 256), img.Bounds())

	r, _, b, _ := img.At(10, 10).RGBA()
	assert.Greater(t, r, b, "left tile is red")
	r, _, b, _ = img.At(400, 10).RGBA()
	assert.Greater(t, b, r, "right tile is blue")

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files remain")
}

func TestDownloadHonoursZoom(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{
		"/img-abc/1.0.0": encodeTile(t, color.NRGBA{G: 255, A: 255}),
	}}
	client := newTestClient(t, getter, Config{TileURL: "http://tiles.test/", Zoom: 1})

	pano := &harvest.PanoramaCandidate{ID: "p", ImageID: "img-abc", HasFullMetadata: true, Width: 512, Height: 256}
	dest := filepath.Join(t.TempDir(), "p.jpg")
	require.NoError(t, client.Download(context.Background(), pano, dest))

	img, err := imaging.Open(dest)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 128), img.Bounds())
}

func TestDownloadUsesReportedTileSize(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: map[string][]byte{
		"/img-abc/0.0.0": encodeSizedTile(t, 128, color.NRGBA{R: 255, A: 255}),
		"/img-abc/0.1.0": encodeSizedTile(t, 128, color.NRGBA{B: 255, A: 255}),
	}}
	client := newTestClient(t, getter, Config{TileURL: "http://tiles.test"})

	pano := &harvest.PanoramaCandidate{
		ID: "p", ImageID: "img-abc", HasFullMetadata: true,
		Width: 256, Height: 128, TileWidth: 128, TileHeight: 128,
	}
	dest := filepath.Join(t.TempDir(), "p.jpg")
	require.NoError(t, client.Download(context.Background(), pano, dest))

	img, err := imaging.Open(dest)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 128), img.Bounds())
	r, _, b, _ := img.At(200, 60).RGBA()
	assert.Greater(t, b, r, "second 128px tile lands at x=128")
	assert.Len(t, getter.requested, 2)
}

func TestDownloadFailsWithoutMetadata(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGetter{}, Config{})
	err := client.Download(context.Background(), &harvest.PanoramaCandidate{ID: "p"}, filepath.Join(t.TempDir(), "p.jpg"))
	require.ErrorIs(t, err, ErrNoImage)
}

func TestDownloadFailsOnMissingTile(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGetter{}, Config{})
	pano := &harvest.PanoramaCandidate{ID: "p", ImageID: "img", HasFullMetadata: true, Width: 256, Height: 256}
	dest := filepath.Join(t.TempDir(), "p.jpg")

	require.Error(t, client.Download(context.Background(), pano, dest))
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestScaledSize(t *testing.T) {
	t.Parallel()

	w, h := scaledSize(17664, 8832, 2)
	assert.Equal(t, 4416, w)
	assert.Equal(t, 2208, h)
}
