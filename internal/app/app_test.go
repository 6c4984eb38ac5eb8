package app_test

import (
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/app"
	"github.com/JakeFAU/panorama-harvester/internal/config"
	"github.com/JakeFAU/panorama-harvester/internal/extract"
	"github.com/JakeFAU/panorama-harvester/internal/harvest"
	"github.com/JakeFAU/panorama-harvester/internal/publisher/memory"
	memstore "github.com/JakeFAU/panorama-harvester/internal/storage/memory"
)

var almaty = harvest.Coordinate{Lat: 43.25, Lon: 76.9}

type stubService struct {
	pano *harvest.PanoramaCandidate
}

func (s stubService) FindNearest(_ context.Context, c harvest.Coordinate) (*harvest.PanoramaCandidate, error) {
	if s.pano == nil || c != almaty {
		return nil, nil
	}
	cp := *s.pano
	return &cp, nil
}

func (s stubService) FindByID(_ context.Context, id string) (*harvest.PanoramaCandidate, error) {
	if s.pano == nil || s.pano.ID != id {
		return nil, nil
	}
	cp := *s.pano
	return &cp, nil
}

func (stubService) Download(_ context.Context, _ *harvest.PanoramaCandidate, dest string) error {
	return imaging.Save(imaging.New(256, 128, color.NRGBA{R: 120, G: 120, B: 120, A: 255}), dest)
}

type noPacer struct{}

func (noPacer) Wait(context.Context) error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "roads.csv")
	require.NoError(t, os.WriteFile(input, []byte(
		"name,objectid,geometry_wkt\n"+
			"Abay Avenue,1,\"LINESTRING (76.9 43.25, 76.95 43.3)\"\n",
	), 0o644))

	var cfg config.Config
	cfg.Paths = config.PathsConfig{
		InputCSV:  input,
		OutputDir: filepath.Join(root, "output"),
		TempDir:   filepath.Join(root, "temp"),
	}
	cfg.Harvest.ViewPolicy = extract.PolicySingle
	cfg.Harvest.JPEGQuality = 90
	cfg.PubSub.TopicName = "accepted-views"
	return cfg
}

func newApp(t *testing.T, cfg config.Config, pub *memory.Publisher) *app.App {
	t.Helper()
	date := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := stubService{pano: &harvest.PanoramaCandidate{
		ID:              "abay_1685577600",
		Date:            &date,
		Location:        almaty,
		HasFullMetadata: true,
		ImageID:         "img-1",
		Width:           256,
		Height:          128,
	}}
	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithPanoramaService(svc),
		app.WithPacer(noPacer{}),
		app.WithPublisher(pub),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewWithoutSideChannelsKeepsRunsInMemory(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), zap.NewNop(),
		app.WithPanoramaService(stubService{}),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memstore.RunStore{}, a.Runs())
	a.Close()
}

func TestNewBuildsHTTPPanoramaClient(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Service.BaseURL = "http://127.0.0.1:1/panoramas"
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	a.Close()
}

func TestNewRejectsNegativeZoom(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Harvest.DownloadZoom = -1
	_, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestHarvestEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	pub := memory.New()
	a := newApp(t, cfg, pub)

	summary, err := a.Harvest(context.Background(), 2023)
	require.NoError(t, err)

	assert.Equal(t, 2023, summary.Year)
	assert.Equal(t, 2, summary.TotalCoordinates)
	assert.Equal(t, 2, summary.VisitedTotal)
	assert.Equal(t, 1, summary.AcceptedThisSession)
	assert.Equal(t, 1, summary.NotFoundThisSession)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, 1, pub.Total())

	paths := cfg.PathsFor(2023)
	assert.FileExists(t, filepath.Join(paths.OutputDir, "2023_00001_Abay_Avenue.jpg"))
	assert.FileExists(t, paths.OutputLog)
	assert.FileExists(t, paths.FailureLog)
	assert.FileExists(t, paths.StateFile)
	assert.FileExists(t, paths.CacheFile)

	raw, err := os.ReadFile(paths.SummaryFile)
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.EqualValues(t, 1, written["accepted_this_session"])
}

func TestHarvestResumesWithoutRepeatingWork(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	pub := memory.New()
	a := newApp(t, cfg, pub)

	_, err := a.Harvest(context.Background(), 2023)
	require.NoError(t, err)
	summary, err := a.Harvest(context.Background(), 2023)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CoordinatesThisSession)
	assert.Equal(t, 0, summary.AcceptedThisSession)
	assert.Equal(t, 1, summary.ImagesTotal)
	assert.Equal(t, 1, pub.Total())
}

func TestHarvestFailsOnMissingInput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Paths.InputCSV = filepath.Join(t.TempDir(), "missing.csv")
	a := newApp(t, cfg, memory.New())

	_, err := a.Harvest(context.Background(), 2023)
	require.ErrorIs(t, err, harvest.ErrMalformedInput)
}

func TestHarvestRejectsUnknownViewPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Harvest.ViewPolicy = "panoramic"
	a := newApp(t, cfg, memory.New())

	_, err := a.Harvest(context.Background(), 2023)
	require.Error(t, err)
}
