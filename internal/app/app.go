// Package app initializes the harvester's long-lived services and runs one
// harvest for a target year.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/api"
	"github.com/JakeFAU/panorama-harvester/internal/checkpoint"
	"github.com/JakeFAU/panorama-harvester/internal/config"
	"github.com/JakeFAU/panorama-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/panorama-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/panorama-harvester/internal/harvest"
	"github.com/JakeFAU/panorama-harvester/internal/hash/phash"
	"github.com/JakeFAU/panorama-harvester/internal/id/uuid"
	"github.com/JakeFAU/panorama-harvester/internal/metrics"
	"github.com/JakeFAU/panorama-harvester/internal/outlog"
	"github.com/JakeFAU/panorama-harvester/internal/panorama/yandex"
	"github.com/JakeFAU/panorama-harvester/internal/pipeline"
	"github.com/JakeFAU/panorama-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/panorama-harvester/internal/progress"
	"github.com/JakeFAU/panorama-harvester/internal/progress/sinks"
	"github.com/JakeFAU/panorama-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/panorama-harvester/internal/report"
	"github.com/JakeFAU/panorama-harvester/internal/resolver"
	"github.com/JakeFAU/panorama-harvester/internal/roads"
	"github.com/JakeFAU/panorama-harvester/internal/runlock"
	"github.com/JakeFAU/panorama-harvester/internal/storage/gcs"
	"github.com/JakeFAU/panorama-harvester/internal/storage/local"
	"github.com/JakeFAU/panorama-harvester/internal/storage/memory"
	"github.com/JakeFAU/panorama-harvester/internal/storage/postgres"
	"github.com/JakeFAU/panorama-harvester/internal/store"
)

// App holds the shared services of a harvest: the optional side channels,
// the run ledger, and the panorama service. It is built once per process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	service   harvest.PanoramaService
	pacer     harvest.Pacer
	clock     harvest.Clock
	mirror    harvest.BlobStore
	catalog   harvest.Catalog
	publisher harvest.Publisher
	runs      store.RunRepository
	registry  prometheus.Registerer

	closers []func() error
	closed  sync.Once
}

// Option customizes App construction.
type Option func(*App)

// WithPanoramaService replaces the HTTP panorama client.
func WithPanoramaService(svc harvest.PanoramaService) Option {
	return func(a *App) { a.service = svc }
}

// WithPacer replaces the rate limiter built from harvest.request_delay.
func WithPacer(p harvest.Pacer) Option {
	return func(a *App) { a.pacer = p }
}

// WithClock replaces the system clock.
func WithClock(c harvest.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithPublisher sets the accepted-view publisher instead of opening Pub/Sub.
func WithPublisher(p harvest.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRegisterer sets where progress collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registry = reg }
}

// New creates the App and opens every configured side channel. It fails fast
// when a configured channel cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger.Named("app")}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Info("initializing services")

	if err := a.openService(); err != nil {
		return nil, err
	}
	if err := a.openMirror(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.registry == nil {
		a.registry = prometheus.DefaultRegisterer
	}
	metrics.Init()
	return a, nil
}

func (a *App) openService() error {
	if a.service != nil {
		return nil
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  a.cfg.Service.UserAgent,
		Timeout:    a.cfg.ServiceTimeout(),
		MaxRetries: a.cfg.Service.MaxRetries,
	}, a.logger)
	client, err := yandex.New(yandex.Config{
		BaseURL:     a.cfg.Service.BaseURL,
		TileURL:     a.cfg.Service.TileURL,
		Zoom:        a.cfg.Harvest.DownloadZoom,
		JPEGQuality: a.cfg.Harvest.JPEGQuality,
	}, fetcher, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize panorama client: %w", err)
	}
	a.service = client
	return nil
}

func (a *App) openMirror(ctx context.Context) error {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Info("GCS mirror disabled")
		return nil
	}
	a.logger.Info("using GCS mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
	bs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket}, gcs.DefaultClientFactory{}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.mirror = bs
	a.closers = append(a.closers, bs.Close)
	return nil
}

func (a *App) openDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured; run ledger kept in memory")
		a.runs = memory.NewRunStore()
		return nil
	}
	a.logger.Info("connecting to PostgreSQL")
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(min(a.cfg.DB.MaxOpenConns, 1<<15)), // #nosec G115 -- clamped above.
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if a.cfg.DB.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	catalog, err := postgres.NewCatalogStore(pool, a.cfg.DB.Table)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	a.catalog = catalog
	a.runs = runs
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("Pub/Sub notifications disabled")
		return nil
	}
	a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to initialize publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Runs exposes the run ledger.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Close releases every opened side channel. It is safe to call twice.
func (a *App) Close() {
	a.closed.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("error closing service", zap.Error(err))
			}
		}
	})
}

// Harvest runs the acquisition pipeline for year and writes the summary
// file. The returned Summary is valid whenever the pipeline started, even
// when err is non-nil.
func (a *App) Harvest(ctx context.Context, year int) (pipeline.Summary, error) {
	paths := a.cfg.PathsFor(year)
	for _, dir := range []string{paths.OutputDir, paths.TempDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return pipeline.Summary{Year: year}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	lock, err := runlock.Acquire(paths.LockFile)
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn("release run lock", zap.Error(err))
		}
	}()

	segments, err := roads.LoadFile(a.cfg.Paths.InputCSV)
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	ckpt := checkpoint.New(a.logger)
	state, err := ckpt.LoadState(paths.StateFile)
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	cache, err := ckpt.LoadCache(paths.CacheFile)
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	policy, err := extract.New(a.cfg.Harvest.ViewPolicy, a.cfg.Harvest.ROIProfiles)
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	images, err := local.New(local.Config{BaseDir: paths.OutputDir})
	if err != nil {
		return pipeline.Summary{Year: year}, fmt.Errorf("open image directory: %w: %w", harvest.ErrPersistence, err)
	}
	out, rec, err := outlog.Open(paths.OutputLog, policy.Labeled())
	if err != nil {
		return pipeline.Summary{Year: year}, err
	}
	failures, err := outlog.OpenFailures(paths.FailureLog)
	if err != nil {
		_ = out.Close()
		return pipeline.Summary{Year: year}, err
	}

	pacer := a.pacer
	if pacer == nil {
		pacer = ratelimit.New(ratelimit.Config{Delay: a.cfg.Harvest.RequestDelay, Name: "panorama"})
	}
	res, err := resolver.New(a.service, pacer, cache, rec.LoggedIDs, a.logger)
	if err != nil {
		_ = out.Close()
		_ = failures.Close()
		return pipeline.Summary{Year: year}, err
	}
	runID, err := uuid.New().NewRunID()
	if err != nil {
		_ = out.Close()
		_ = failures.Close()
		return pipeline.Summary{Year: year}, err
	}

	hub, err := a.progressHub()
	if err != nil {
		_ = out.Close()
		_ = failures.Close()
		return pipeline.Summary{Year: year}, err
	}
	defer func() {
		if err := hub.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("close progress hub", zap.Error(err))
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		Year:            year,
		OutputDir:       paths.OutputDir,
		TempDir:         paths.TempDir,
		StatePath:       paths.StateFile,
		CachePath:       paths.CacheFile,
		JPEGQuality:     a.cfg.Harvest.JPEGQuality,
		CheckpointEvery: a.cfg.Harvest.CheckpointEvery,
		Topic:           a.cfg.PubSub.TopicName,
		MirrorPrefix:    a.cfg.Storage.Prefix,
	}, pipeline.Options{
		Roads:      segments,
		State:      state,
		Cache:      cache,
		Logged:     rec.LoggedIDs,
		NextID:     rec.NextID(),
		Resolver:   res,
		Service:    a.service,
		Pacer:      pacer,
		Policy:     policy,
		Hasher:     phash.New(),
		Images:     images,
		Output:     out,
		Failures:   failures,
		Checkpoint: ckpt,
		Mirror:     a.mirror,
		Catalog:    a.catalog,
		Publisher:  a.publisher,
		Clock:      a.clock,
		Progress:   hub,
		RunID:      progress.UUIDToBytes(runID),
	}, a.logger)
	if err != nil {
		_ = out.Close()
		_ = failures.Close()
		return pipeline.Summary{Year: year}, err
	}

	stopServer := a.serveStatus(ctx, p)
	summary, runErr := p.Run(ctx)
	stopServer()

	if err := report.WriteJSON(paths.SummaryFile, summary); err != nil {
		a.logger.Warn("write summary file", zap.String("path", paths.SummaryFile), zap.Error(err))
	}
	return summary, runErr
}

func (a *App) progressHub() (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		a.logger.Debug("progress collectors already registered; skipping prometheus sink")
		return progress.NewHub(progress.Config{Logger: a.logger},
			sinks.NewLogSink(a.logger),
			sinks.NewStoreSink(a.runs, a.logger),
		), nil
	}
	return progress.NewHub(progress.Config{Logger: a.logger},
		sinks.NewLogSink(a.logger),
		promSink,
		sinks.NewStoreSink(a.runs, a.logger),
	), nil
}

// serveStatus starts the status server when a port is configured and
// returns a function that stops it.
func (a *App) serveStatus(ctx context.Context, p *pipeline.Pipeline) func() {
	if a.cfg.Server.Port <= 0 {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	srv := api.NewServer(p, a.runs, a.logger)
	addr := ":" + strconv.Itoa(a.cfg.Server.Port)
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(srvCtx, addr); err != nil {
			a.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
