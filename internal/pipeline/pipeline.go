package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/panorama-harvester/internal/clock/system"
	"github.com/JakeFAU/panorama-harvester/internal/dedup"
	"github.com/JakeFAU/panorama-harvester/internal/extract"
	"github.com/JakeFAU/panorama-harvester/internal/harvest"
	"github.com/JakeFAU/panorama-harvester/internal/metrics"
	"github.com/JakeFAU/panorama-harvester/internal/progress"
	"github.com/JakeFAU/panorama-harvester/internal/resolver"
)

const imageContentType = "image/jpeg"

var errInterrupted = errors.New("run interrupted")

// Resolver selects the panorama for a coordinate.
type Resolver interface {
	Resolve(ctx context.Context, coord harvest.Coordinate, year int) resolver.Result
}

// OutputLog records accepted views durably.
type OutputLog interface {
	Append(rec harvest.OutputRecord) error
	Close() error
}

// FailureLog records coordinates without a usable panorama.
type FailureLog interface {
	Append(rec harvest.FailureRecord) error
	Close() error
}

// Checkpointer persists the crawl state and lookup cache.
type Checkpointer interface {
	SaveState(path string, state *harvest.CrawlState) error
	SaveCache(path string, cache *harvest.LookupCache) error
}

// Config controls a run.
type Config struct {
	Year int
	// OutputDir is the year's output directory; Images writes below it.
	OutputDir string
	// TempDir holds raw panorama downloads shared across years.
	TempDir   string
	StatePath string
	CachePath string
	// JPEGQuality applies to saved views.
	JPEGQuality int
	// CheckpointEvery flushes after this many visited coordinates. Zero
	// flushes only after accepting coordinates and at the end.
	CheckpointEvery int
	// Topic receives one message per accepted view when Publisher is set.
	Topic string
	// MirrorPrefix is prepended to mirrored object paths.
	MirrorPrefix string
}

// Options carries the run's state and collaborators. Fields marked optional
// may be nil.
type Options struct {
	Roads  []harvest.RoadSegment
	State  *harvest.CrawlState
	Cache  *harvest.LookupCache
	Logged harvest.PanoramaIDs
	// NextID is the first sequence ID to assign.
	NextID int

	Resolver   Resolver
	Service    harvest.PanoramaService
	Pacer      harvest.Pacer
	Policy     extract.Policy
	Hasher     harvest.ImageHasher
	Images     harvest.BlobStore
	Output     OutputLog
	Failures   FailureLog
	Checkpoint Checkpointer

	Mirror    harvest.BlobStore // optional
	Catalog   harvest.Catalog   // optional
	Publisher harvest.Publisher // optional
	Clock     harvest.Clock     // optional
	Progress  progress.Emitter  // optional
	RunID     [16]byte          // optional
}

// Pipeline executes one run. It is not reusable.
type Pipeline struct {
	cfg    Config
	opts   Options
	index  *dedup.Index
	logger *zap.Logger

	started atomic.Bool
	start   time.Time
	nextID  int
	total   int

	mu    sync.Mutex
	stats Stats
}

// New validates the configuration and collaborators.
func New(cfg Config, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if cfg.Year <= 0 {
		return nil, errors.New("year is required")
	}
	if cfg.TempDir == "" || cfg.StatePath == "" || cfg.CachePath == "" {
		return nil, errors.New("temp dir, state path and cache path are required")
	}
	switch {
	case opts.State == nil:
		return nil, errors.New("crawl state is required")
	case opts.Resolver == nil:
		return nil, errors.New("resolver is required")
	case opts.Service == nil:
		return nil, errors.New("panorama service is required")
	case opts.Pacer == nil:
		return nil, errors.New("pacer is required")
	case opts.Policy == nil:
		return nil, errors.New("view policy is required")
	case opts.Hasher == nil:
		return nil, errors.New("image hasher is required")
	case opts.Images == nil:
		return nil, errors.New("image store is required")
	case opts.Output == nil || opts.Failures == nil:
		return nil, errors.New("output and failure logs are required")
	case opts.Checkpoint == nil:
		return nil, errors.New("checkpointer is required")
	}
	if opts.Cache == nil {
		opts.Cache = harvest.NewLookupCache()
	}
	if opts.Logged == nil {
		opts.Logged = harvest.PanoramaIDs{}
	}
	if opts.NextID < 1 {
		opts.NextID = 1
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Progress == nil {
		opts.Progress = progress.Discard{}
	}
	if opts.RunID == [16]byte{} {
		opts.RunID = progress.UUIDToBytes(uuid.New())
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		cfg:    cfg,
		opts:   opts,
		index:  dedup.New(opts.State.Fingerprints),
		logger: logger.Named("pipeline"),
		nextID: opts.NextID,
	}
	unique := make(map[harvest.Coordinate]struct{})
	for _, seg := range opts.Roads {
		for _, c := range seg.Path {
			unique[c] = struct{}{}
		}
	}
	p.total = len(unique)
	visited := 0
	for c := range unique {
		if opts.State.IsVisited(c) {
			visited++
		}
	}
	p.stats = Stats{
		Summary: Summary{
			Year:             cfg.Year,
			TotalSegments:    len(opts.Roads),
			TotalCoordinates: p.total,
			VisitedTotal:     visited,
			ImagesTotal:      opts.NextID - 1,
		},
		RunID: uuid.UUID(opts.RunID).String(),
	}
	return p, nil
}

// Stats returns a snapshot of the run's progress. It is safe to call from
// any goroutine.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	if s.Running {
		s.SessionDuration = p.opts.Clock.Now().Sub(p.start)
		s.TotalDuration = seconds(p.opts.State.CumulativeSeconds) + s.SessionDuration
	}
	return s
}

// Run processes every unvisited coordinate until done, interrupted through
// ctx, or stopped by a fatal error. State, cache, and logs are flushed and
// closed exactly once on every exit path, including a panic. Interruption is
// reported in the summary, not as an error.
func (p *Pipeline) Run(ctx context.Context) (summary Summary, err error) {
	if !p.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("pipeline already ran")
	}
	p.start = p.opts.Clock.Now()
	p.mu.Lock()
	p.stats.StartedAt = p.start
	p.stats.Running = true
	p.mu.Unlock()

	p.logger.Info("harvest starting",
		zap.Int("year", p.cfg.Year),
		zap.String("run_id", p.stats.RunID),
		zap.Int("segments", len(p.opts.Roads)),
		zap.Int("coordinates", p.total),
		zap.Int("visited", p.stats.VisitedTotal),
		zap.Int("fingerprints", p.index.Len()),
		zap.Int("logged_panoramas", len(p.opts.Logged)),
		zap.Int("next_id", p.nextID),
		zap.String("policy", p.opts.Policy.Name()),
	)
	p.emit(progress.Event{Stage: progress.StageRunStart})

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("harvest loop panicked", zap.Any("panic", r))
			err = fmt.Errorf("harvest loop panic: %v", r)
		}
		summary, err = p.finish(err)
	}()
	return Summary{}, p.loop(ctx)
}

func (p *Pipeline) loop(ctx context.Context) error {
	for _, seg := range p.opts.Roads {
		if ctx.Err() != nil {
			return errInterrupted
		}
		for _, coord := range seg.Path {
			if ctx.Err() != nil {
				return errInterrupted
			}
			if p.opts.State.IsVisited(coord) {
				continue
			}
			if err := p.visit(ctx, seg, coord); err != nil {
				return err
			}
		}
		// A segment counts once the loop is through it, even when every
		// coordinate was visited by an earlier session.
		p.mu.Lock()
		p.stats.SegmentsThisSession++
		p.mu.Unlock()
	}
	return nil
}

type coordResult struct {
	outcome  progress.Outcome
	panoID   string
	note     string
	accepted int
	rejected int
	failed   int
}

type viewStatus int

const (
	viewSaved viewStatus = iota
	viewDuplicate
	viewFailed
)

func (p *Pipeline) visit(ctx context.Context, seg harvest.RoadSegment, coord harvest.Coordinate) error {
	begin := p.opts.Clock.Now()
	p.mu.Lock()
	p.stats.CurrentRoad = seg.Name
	p.mu.Unlock()

	res, err := p.process(ctx, seg, coord)
	if err != nil {
		return err
	}

	p.opts.State.MarkVisited(coord)
	p.mu.Lock()
	p.stats.VisitedTotal++
	p.stats.CoordinatesThisSession++
	p.stats.AcceptedThisSession += res.accepted
	p.stats.DuplicatesThisSession += res.rejected
	p.stats.FailedThisSession += res.failed
	p.stats.ImagesTotal = p.nextID - 1
	if res.outcome == progress.OutcomeNotFound {
		p.stats.NotFoundThisSession++
	}
	visited, session := p.stats.VisitedTotal, p.stats.CoordinatesThisSession
	p.mu.Unlock()

	p.logger.Info("coordinate visited",
		zap.String("progress", fmt.Sprintf("[%d/%d]", visited, p.total)),
		zap.String("road", seg.Name),
		zap.Float64("lat", coord.Lat),
		zap.Float64("lon", coord.Lon),
		zap.String("outcome", string(res.outcome)),
		zap.Int("accepted", res.accepted),
	)
	p.emit(progress.Event{
		Stage:   progress.StageCoordinate,
		Road:    seg.Name,
		PanoID:  res.panoID,
		Outcome: res.outcome,
		Views:   int64(res.accepted),
		Dur:     nonNegative(p.opts.Clock.Now().Sub(begin)),
		Note:    res.note,
	})

	periodic := p.cfg.CheckpointEvery > 0 && session%p.cfg.CheckpointEvery == 0
	if res.accepted > 0 || periodic {
		if err := p.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, seg harvest.RoadSegment, coord harvest.Coordinate) (coordResult, error) {
	res := p.opts.Resolver.Resolve(ctx, coord, p.cfg.Year)
	if res.Interrupted() {
		return coordResult{}, errInterrupted
	}
	if !res.Found() {
		if res.Err != nil {
			p.logger.Warn("panorama lookup failed", zap.String("road", seg.Name), zap.Error(res.Err))
		} else {
			p.logger.Info("no usable panorama", zap.String("road", seg.Name), zap.String("reason", string(res.Reason)))
		}
		p.recordFailure(seg, coord)
		return coordResult{outcome: progress.OutcomeNotFound, note: string(res.Reason)}, nil
	}

	pano := res.Panorama
	out := coordResult{panoID: pano.ID}
	img, err := p.loadPanorama(ctx, pano)
	switch {
	case errors.Is(err, errInterrupted):
		return coordResult{}, err
	case errors.Is(err, harvest.ErrImageDecode):
		p.logger.Warn("panorama image unreadable", zap.String("pano_id", pano.ID), zap.Error(err))
		out.outcome, out.note, out.failed = progress.OutcomeDecodeFailed, err.Error(), 1
		return out, nil
	case err != nil:
		p.logger.Warn("panorama download failed", zap.String("pano_id", pano.ID), zap.Error(err))
		p.recordFailure(seg, coord)
		out.outcome, out.note, out.failed = progress.OutcomeDownloadFailed, err.Error(), 1
		return out, nil
	}

	views, err := p.opts.Policy.Extract(img, p.cfg.Year)
	if err != nil {
		p.logger.Warn("view extraction failed", zap.String("pano_id", pano.ID), zap.Error(err))
		out.outcome, out.note, out.failed = progress.OutcomeDecodeFailed, err.Error(), 1
		return out, nil
	}

	for _, view := range views {
		status, err := p.acceptView(ctx, seg, coord, pano, view)
		if err != nil {
			return coordResult{}, err
		}
		switch status {
		case viewSaved:
			out.accepted++
		case viewDuplicate:
			out.rejected++
		case viewFailed:
			out.failed++
		}
	}
	switch {
	case out.accepted > 0:
		out.outcome = progress.OutcomeAccepted
	case out.failed > 0 && out.rejected == 0:
		out.outcome, out.note = progress.OutcomeDecodeFailed, "fingerprint failed"
	default:
		out.outcome = progress.OutcomeDuplicate
	}
	return out, nil
}

// loadPanorama returns the decoded raw panorama, downloading it only when it
// is not already in the temp directory.
func (p *Pipeline) loadPanorama(ctx context.Context, pano *harvest.PanoramaCandidate) (image.Image, error) {
	raw := filepath.Join(p.cfg.TempDir, rawName(pano.ID))
	if _, err := os.Stat(raw); err != nil {
		if err := p.opts.Pacer.Wait(ctx); err != nil {
			return nil, errInterrupted
		}
		if err := p.opts.Service.Download(context.WithoutCancel(ctx), pano, raw); err != nil {
			return nil, fmt.Errorf("%w: download %s: %w", harvest.ErrTransientService, pano.ID, err)
		}
	} else {
		p.logger.Debug("using cached download", zap.String("pano_id", pano.ID))
	}

	img, err := imaging.Open(raw)
	if err != nil {
		// A corrupt download would fail the same way for every later coordinate.
		_ = os.Remove(raw)
		return nil, fmt.Errorf("%w: %s: %w", harvest.ErrImageDecode, raw, err)
	}
	return img, nil
}

func (p *Pipeline) acceptView(
	ctx context.Context,
	seg harvest.RoadSegment,
	coord harvest.Coordinate,
	pano *harvest.PanoramaCandidate,
	view harvest.View,
) (viewStatus, error) {
	fp, err := p.opts.Hasher.Fingerprint(view.Image)
	if err != nil {
		p.logger.Warn("fingerprint failed", zap.String("pano_id", pano.ID), zap.String("view", view.Label), zap.Error(err))
		return viewFailed, nil
	}
	if p.index.Contains(fp) {
		p.logger.Info("duplicate view rejected",
			zap.String("pano_id", pano.ID),
			zap.String("view", view.Label),
			zap.String("fingerprint", fp.String()),
		)
		return viewDuplicate, nil
	}

	id := p.nextID
	name := ImageName(p.cfg.Year, id, seg.SafeName, view.Label)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, view.Image, imaging.JPEG, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return viewFailed, fmt.Errorf("%w: encode %s: %w", harvest.ErrPersistence, name, err)
	}
	data := buf.Bytes()
	if _, err := p.opts.Images.PutObject(context.WithoutCancel(ctx), name, imageContentType, bytes.NewReader(data)); err != nil {
		return viewFailed, fmt.Errorf("%w: write %s: %w", harvest.ErrPersistence, name, err)
	}

	loc := pano.Location
	if loc.IsZero() {
		loc = coord
	}
	captured, _ := pano.CaptureTime()
	rec := harvest.OutputRecord{
		ID:         id,
		ObjectID:   seg.ObjectID,
		PanoID:     pano.ID,
		RoadName:   seg.Name,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		Year:       p.cfg.Year,
		View:       view.Label,
		FilePath:   filepath.Join(p.cfg.OutputDir, name),
		CapturedAt: captured,
	}
	if err := p.opts.Output.Append(rec); err != nil {
		return viewFailed, fmt.Errorf("append output record %d: %w", id, err)
	}
	p.nextID++
	p.index.Admit(fp)
	p.opts.Logged.Add(pano.ID)
	// The row is already durable; its fingerprint must be too before any
	// other work, or a restart would accept the same view again.
	if err := p.opts.Checkpoint.SaveState(p.cfg.StatePath, p.opts.State); err != nil {
		return viewFailed, fmt.Errorf("%w: save state after view %d: %w", harvest.ErrPersistence, id, err)
	}

	p.logger.Info("view saved",
		zap.Int("id", id),
		zap.String("pano_id", pano.ID),
		zap.String("view", view.Label),
		zap.String("file", name),
	)
	p.emit(progress.Event{Stage: progress.StageViewSaved, Road: seg.Name, PanoID: pano.ID, Bytes: int64(len(data))})
	p.sideChannels(ctx, rec, name, data)
	return viewSaved, nil
}

// sideChannels mirrors, catalogs, and announces an accepted view. Failures
// only warn.
func (p *Pipeline) sideChannels(ctx context.Context, rec harvest.OutputRecord, name string, data []byte) {
	callCtx := context.WithoutCancel(ctx)
	mirrorURI := ""
	if p.opts.Mirror != nil {
		key := path.Join(strings.Trim(p.cfg.MirrorPrefix, "/"), strconv.Itoa(p.cfg.Year), name)
		uri, err := p.opts.Mirror.PutObject(callCtx, key, imageContentType, bytes.NewReader(data))
		if err != nil {
			p.logger.Warn("mirror upload failed", zap.String("key", key), zap.Error(err))
		} else {
			mirrorURI = uri
		}
	}
	if p.opts.Catalog != nil {
		if err := p.opts.Catalog.RecordImage(callCtx, rec); err != nil {
			p.logger.Warn("catalog insert failed", zap.Int("id", rec.ID), zap.Error(err))
		}
	}
	if p.opts.Publisher != nil && p.cfg.Topic != "" {
		payload := map[string]any{
			"run_id":     p.stats.RunID,
			"id":         rec.ID,
			"object_id":  rec.ObjectID,
			"pano_id":    rec.PanoID,
			"road_name":  rec.RoadName,
			"latitude":   rec.Lat,
			"longitude":  rec.Lon,
			"year":       rec.Year,
			"view":       rec.View,
			"file_path":  rec.FilePath,
			"mirror_uri": mirrorURI,
			"timestamp":  p.opts.Clock.Now().UTC().Format(time.RFC3339),
		}
		if !rec.CapturedAt.IsZero() {
			payload["captured_at"] = rec.CapturedAt.UTC().Format(time.RFC3339)
		}
		if _, err := p.opts.Publisher.Publish(callCtx, p.cfg.Topic, payload); err != nil {
			p.logger.Warn("publish failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		}
	}
}

func (p *Pipeline) recordFailure(seg harvest.RoadSegment, coord harvest.Coordinate) {
	err := p.opts.Failures.Append(harvest.FailureRecord{
		RoadName: seg.Name,
		Lat:      coord.Lat,
		Lon:      coord.Lon,
		ObjectID: seg.ObjectID,
	})
	if err != nil {
		p.logger.Warn("failure log append failed", zap.String("road", seg.Name), zap.Error(err))
	}
}

func (p *Pipeline) flush() error {
	var errs []error
	if err := p.opts.Checkpoint.SaveState(p.cfg.StatePath, p.opts.State); err != nil {
		errs = append(errs, fmt.Errorf("save state: %w", err))
	}
	if err := p.opts.Checkpoint.SaveCache(p.cfg.CachePath, p.opts.Cache); err != nil {
		errs = append(errs, fmt.Errorf("save cache: %w", err))
	}
	err := errors.Join(errs...)
	metrics.ObserveCheckpointFlush(err)
	return err
}

// finish runs once per Run on every exit path.
func (p *Pipeline) finish(runErr error) (Summary, error) {
	interrupted := errors.Is(runErr, errInterrupted)
	if interrupted {
		runErr = nil
	}
	session := nonNegative(p.opts.Clock.Now().Sub(p.start))
	p.mu.Lock()
	p.opts.State.CumulativeSeconds += session.Seconds()
	p.mu.Unlock()

	flushErr := p.flush()
	if flushErr != nil {
		p.logger.Error("final checkpoint failed", zap.Error(flushErr))
	}
	var closeErr error
	if err := p.opts.Output.Close(); err != nil {
		closeErr = fmt.Errorf("close output log: %w", err)
	}
	if err := p.opts.Failures.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close failure log: %w", err))
	}
	err := errors.Join(runErr, flushErr, closeErr)

	p.mu.Lock()
	p.stats.Running = false
	p.stats.CurrentRoad = ""
	p.stats.Interrupted = interrupted
	p.stats.SessionDuration = session
	p.stats.TotalDuration = seconds(p.opts.State.CumulativeSeconds)
	p.stats.ImagesTotal = p.nextID - 1
	summary := p.stats.Summary
	p.mu.Unlock()

	stage := progress.StageRunDone
	note := ""
	switch {
	case err != nil:
		stage, note = progress.StageRunError, err.Error()
	case interrupted:
		stage = progress.StageRunInterrupted
	}
	p.emit(progress.Event{Stage: stage, Dur: session, Note: note})

	p.logger.Info("harvest finished",
		zap.Bool("interrupted", interrupted),
		zap.Duration("session", summary.SessionDuration),
		zap.Duration("total", summary.TotalDuration),
		zap.Int("segments_this_session", summary.SegmentsThisSession),
		zap.Int("coordinates_this_session", summary.CoordinatesThisSession),
		zap.Int("visited", summary.VisitedTotal),
		zap.Int("coordinates", summary.TotalCoordinates),
		zap.Int("images_total", summary.ImagesTotal),
		zap.Error(err),
	)
	return summary, err
}

func (p *Pipeline) emit(evt progress.Event) {
	evt.RunID = p.opts.RunID
	evt.TS = p.opts.Clock.Now().UTC()
	evt.Year = p.cfg.Year
	p.opts.Progress.Emit(evt)
}

// ImageName builds the file name of a saved view.
func ImageName(year, id int, safeName, label string) string {
	name := fmt.Sprintf("%d_%05d_%s", year, id, safeName)
	if label != "" {
		name += "_" + label
	}
	return name + ".jpg"
}

func rawName(panoID string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(panoID) + ".jpg"
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
