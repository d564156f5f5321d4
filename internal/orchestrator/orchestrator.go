// Package orchestrator sequences a content request through source ranking,
// magnet resolution, path planning and the byte transfer, driving job and
// content state transitions along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/debrid"
	"github.com/offlinio/offlinio/internal/engine"
	"github.com/offlinio/offlinio/internal/layout"
	"github.com/offlinio/offlinio/internal/notification"
	"github.com/offlinio/offlinio/internal/source"
	"github.com/offlinio/offlinio/internal/storage"
	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/websocket"
)

// Resolver turns magnets into direct URLs.
type Resolver interface {
	Resolve(ctx context.Context, magnetURI string) (*debrid.ResolvedDownload, error)
}

// Downloader performs the byte transfer.
type Downloader interface {
	Download(ctx context.Context, jobID, sourceURL, destinationPath string, onProgress engine.ProgressFunc) (*engine.Completion, error)
}

// Discovery supplies candidate sources for automatic downloads.
type Discovery interface {
	FetchStreams(ctx context.Context, kind, contentID string) ([]source.RawSource, error)
}

// Metadata describes the content being requested. The kind discriminates
// which optional fields are required.
type Metadata struct {
	Kind         string
	Title        string
	Year         *int
	Season       *int
	Episode      *int
	EpisodeTitle *string
	QualityLabel *string
	Genre        *string
	PosterURL    *string
	Description  *string
}

// Source locates the bytes: exactly one of Magnet or DirectURL must be set.
type Source struct {
	Magnet    string
	DirectURL string
}

// StartResult is the accepted-download response.
type StartResult struct {
	JobID            string
	AlreadyCompleted bool
	RelativeFilePath string
}

// Config tunes the orchestrator.
type Config struct {
	PreferredQualities []string
	// MaxConcurrent bounds simultaneously transferring jobs. Jobs beyond
	// the limit stay queued until a slot frees up.
	MaxConcurrent int
}

// Orchestrator coordinates downloads for content requests.
type Orchestrator struct {
	store    *store.Store
	storage  *storage.Service
	resolver Resolver
	engine   Downloader
	ranker   *source.Ranker
	cfg      Config

	discovery   Discovery
	notifier    *notification.Service
	broadcaster *websocket.Hub

	slots chan struct{}

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New creates an orchestrator.
func New(st *store.Store, sto *storage.Service, resolver Resolver, eng Downloader, ranker *source.Ranker, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if len(cfg.PreferredQualities) == 0 {
		cfg.PreferredQualities = []string{"2160p", "1080p", "720p"}
	}
	return &Orchestrator{
		store:    st,
		storage:  sto,
		resolver: resolver,
		engine:   eng,
		ranker:   ranker,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		active:   make(map[string]context.CancelFunc),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetDiscovery wires the source discovery collaborator used by StartAuto.
func (o *Orchestrator) SetDiscovery(d Discovery) {
	o.discovery = d
}

// SetNotifier wires the notification service.
func (o *Orchestrator) SetNotifier(n *notification.Service) {
	o.notifier = n
}

// SetBroadcaster wires the websocket hub for realtime progress events.
func (o *Orchestrator) SetBroadcaster(h *websocket.Hub) {
	o.broadcaster = h
}

// Start accepts a download request. Idempotent for completed content; a
// second request while a job is in flight is rejected with already_active.
func (o *Orchestrator) Start(ctx context.Context, contentID string, meta Metadata, src Source) (*StartResult, error) {
	if err := validate(meta, src); err != nil {
		return nil, err
	}

	existing, err := o.store.GetContent(ctx, contentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up content: %w", err)
	}
	if existing != nil && existing.Status == store.StatusCompleted {
		path := ""
		if existing.RelativeFilePath != nil {
			path = *existing.RelativeFilePath
		}
		return &StartResult{AlreadyCompleted: true, RelativeFilePath: path}, nil
	}

	if _, err := o.store.ActiveJobForContent(ctx, contentID); err == nil {
		return nil, orchErr(KindAlreadyActive, "download already in flight for %s", contentID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active job: %w", err)
	}

	record := contentFromMetadata(contentID, meta)
	if err := o.store.UpsertContent(ctx, record); err != nil {
		return nil, err
	}

	job := &store.DownloadJob{
		ID:        uuid.NewString(),
		ContentID: contentID,
	}
	if src.Magnet != "" {
		job.SourceLocator = src.Magnet
		job.SourceKind = store.SourceMagnet
	} else {
		job.SourceLocator = src.DirectURL
		job.SourceKind = store.SourceDirect
	}

	// The partial unique index closes the check-then-create race window.
	if err := o.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrActiveJobExists) {
			return nil, orchErr(KindAlreadyActive, "download already in flight for %s", contentID)
		}
		return nil, err
	}

	o.launch(job.ID, contentID, meta, job.SourceLocator, job.SourceKind)

	return &StartResult{JobID: job.ID}, nil
}

// StartAuto discovers sources, ranks them and starts a download with the
// best magnet.
func (o *Orchestrator) StartAuto(ctx context.Context, contentID string, meta Metadata) (*StartResult, error) {
	if o.discovery == nil {
		return nil, orchErr(KindNoSource, "no discovery collaborator configured")
	}

	streams, err := o.discovery.FetchStreams(ctx, meta.Kind, contentID)
	if err != nil {
		return nil, orchErr(KindNoSource, "source discovery failed: %v", err)
	}

	best := o.ranker.PickBest(streams, o.cfg.PreferredQualities)
	if best == nil {
		return nil, orchErr(KindNoSource, "no magnet sources found for %s", contentID)
	}

	if meta.Title == "" {
		meta.Title = best.Title
	}
	if meta.QualityLabel == nil && best.Quality != source.QualityUnknown {
		quality := best.Quality
		meta.QualityLabel = &quality
	}

	o.logger.Info().Str("contentId", contentID).Str("title", best.Title).
		Int("score", best.Score).Msg("auto-selected source")

	return o.Start(ctx, contentID, meta, Source{Magnet: best.Locator})
}

// Pause requests a cooperative stop of the in-flight transfer and flips the
// persisted status. The transfer observes the cancellation between chunks.
func (o *Orchestrator) Pause(ctx context.Context, contentID string) error {
	job, err := o.store.ActiveJobForContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return orchErr(KindInvalidState, "no active download for %s", contentID)
		}
		return err
	}
	if job.Status != store.StatusDownloading {
		return orchErr(KindInvalidState, "cannot pause job in status %q", job.Status)
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, store.StatusPaused); err != nil {
		return err
	}
	if err := o.store.UpdateContentStatus(ctx, contentID, store.StatusPaused); err != nil {
		return err
	}

	o.cancelActive(contentID)
	o.broadcast(websocket.EventDownloadPaused, map[string]any{"contentId": contentID, "jobId": job.ID})
	o.logger.Info().Str("contentId", contentID).Str("jobId", job.ID).Msg("download paused")
	return nil
}

// Resume re-drives the paused job from the beginning of the transfer.
func (o *Orchestrator) Resume(ctx context.Context, contentID string) error {
	content, err := o.store.GetContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return orchErr(KindNotFound, "unknown content %s", contentID)
		}
		return err
	}
	if content.Status != store.StatusPaused {
		return orchErr(KindInvalidState, "cannot resume content in status %q", content.Status)
	}

	job, err := o.store.LatestJobForContent(ctx, contentID)
	if err != nil {
		return err
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, store.StatusQueued); err != nil {
		return err
	}
	if err := o.store.UpdateContentStatus(ctx, contentID, store.StatusQueued); err != nil {
		return err
	}

	meta := metadataFromContent(content)
	o.launch(job.ID, contentID, meta, job.SourceLocator, job.SourceKind)
	o.logger.Info().Str("contentId", contentID).Str("jobId", job.ID).Msg("download resumed")
	return nil
}

// Delete removes the content record, its jobs and the backing file.
func (o *Orchestrator) Delete(ctx context.Context, contentID string) error {
	content, err := o.store.GetContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return orchErr(KindNotFound, "unknown content %s", contentID)
		}
		return err
	}

	o.cancelActive(contentID)

	if content.RelativeFilePath != nil {
		if err := o.storage.Delete(*content.RelativeFilePath); err != nil {
			o.logger.Warn().Err(err).Str("contentId", contentID).Msg("failed to delete stored file")
		}
	}

	return o.store.DeleteContent(ctx, contentID)
}

// Wait blocks until all in-flight pipelines finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels every in-flight pipeline and waits for them to record
// their final state.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// launch runs the pipeline in its own goroutine with a cancel handle
// registered for pause and delete.
func (o *Orchestrator) launch(jobID, contentID string, meta Metadata, locator, sourceKind string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active[contentID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, contentID)
			o.mu.Unlock()
			cancel()
		}()
		o.runPipeline(ctx, jobID, contentID, meta, locator, sourceKind)
	}()
}

func (o *Orchestrator) cancelActive(contentID string) {
	o.mu.Lock()
	cancel, ok := o.active[contentID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// runPipeline drives one job end to end: resolve, plan, transfer, finalize.
func (o *Orchestrator) runPipeline(ctx context.Context, jobID, contentID string, meta Metadata, locator, sourceKind string) {
	log := o.logger.With().Str("jobId", jobID).Str("contentId", contentID).Logger()

	// Respect the concurrency budget; the job stays queued meanwhile.
	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-o.slots }()

	o.transition(ctx, jobID, contentID, store.StatusProcessing)
	o.broadcast(websocket.EventDownloadQueued, map[string]any{"contentId": contentID, "jobId": jobID, "title": meta.Title})

	directURL := locator
	if sourceKind == store.SourceMagnet {
		resolved, err := o.resolver.Resolve(ctx, locator)
		if err != nil {
			o.failJob(ctx, jobID, contentID, meta, err.Error())
			return
		}
		directURL = resolved.DirectURL
		log.Info().Str("filename", resolved.Filename).Msg("magnet resolved")
	}

	relativePath := planPath(meta, directURL)
	absolutePath, err := o.storage.AbsolutePath(relativePath)
	if err != nil {
		o.failJob(ctx, jobID, contentID, meta, err.Error())
		return
	}
	if err := o.storage.EnsureParentDir(absolutePath); err != nil {
		o.failJob(ctx, jobID, contentID, meta, err.Error())
		return
	}
	if err := o.store.SetContentFilePath(ctx, contentID, relativePath); err != nil {
		o.failJob(ctx, jobID, contentID, meta, err.Error())
		return
	}

	o.transition(ctx, jobID, contentID, store.StatusDownloading)
	if o.notifier != nil {
		o.notifier.NotifyStarted(ctx, notification.Event{
			JobID: jobID, ContentID: contentID, Title: meta.Title, Kind: meta.Kind,
		})
	}

	completion, err := o.engine.Download(ctx, jobID, directURL, absolutePath, o.progressFunc(jobID, contentID, meta))
	if err != nil {
		if o.pauseRequested(contentID) {
			log.Info().Msg("transfer stopped by pause")
			return
		}
		o.failJob(ctx, jobID, contentID, meta, err.Error())
		return
	}

	o.finalize(jobID, contentID, meta, completion)
}

// progressFunc persists every throttled emission and raises user-facing
// notifications only at quarter boundaries.
func (o *Orchestrator) progressFunc(jobID, contentID string, meta Metadata) engine.ProgressFunc {
	lastBoundary := 0
	return func(p engine.Progress) {
		ctx := context.Background()
		if err := o.store.UpdateJobProgress(ctx, jobID, p.Percent, p.SpeedBytesPerSec, p.ETASeconds); err != nil {
			o.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to persist job progress")
		}
		if err := o.store.UpdateContentProgress(ctx, contentID, p.Percent); err != nil {
			o.logger.Warn().Err(err).Str("contentId", contentID).Msg("failed to persist content progress")
		}

		o.broadcast(websocket.EventDownloadProgress, map[string]any{
			"contentId": contentID,
			"jobId":     jobID,
			"percent":   p.Percent,
			"speed":     p.SpeedBytesPerSec,
			"eta":       p.ETASeconds,
		})

		if boundary := (p.Percent / 25) * 25; boundary > lastBoundary {
			lastBoundary = boundary
			if o.notifier != nil {
				o.notifier.NotifyProgress(ctx, notification.Event{
					JobID: jobID, ContentID: contentID, Title: meta.Title, Percent: boundary,
				})
			}
		}
	}
}

// finalize completes the job. A pause that raced a finishing transfer loses:
// the file is fully on disk, so completion wins and is logged as such.
func (o *Orchestrator) finalize(jobID, contentID string, meta Metadata, completion *engine.Completion) {
	ctx := context.Background()

	if o.pauseRequested(contentID) {
		o.logger.Info().Str("contentId", contentID).
			Msg("transfer finished after pause request, reconciling to completed")
	}

	if err := o.store.CompleteJob(ctx, jobID); err != nil {
		o.logger.Error().Err(err).Str("jobId", jobID).Msg("failed to complete job")
	}
	if err := o.store.CompleteContent(ctx, contentID, completion.FinalSizeBytes); err != nil {
		o.logger.Error().Err(err).Str("contentId", contentID).Msg("failed to complete content")
	}

	if o.notifier != nil {
		o.notifier.NotifyCompleted(ctx, notification.Event{
			JobID: jobID, ContentID: contentID, Title: meta.Title, Percent: 100,
		})
	}
	o.broadcast(websocket.EventDownloadCompleted, map[string]any{
		"contentId": contentID,
		"jobId":     jobID,
		"sizeBytes": completion.FinalSizeBytes,
	})
	o.logger.Info().Str("contentId", contentID).Int64("bytes", completion.FinalSizeBytes).Msg("download completed")
}

// failJob records the failure. The content record is kept so the user can
// inspect the error and retry.
func (o *Orchestrator) failJob(ctx context.Context, jobID, contentID string, meta Metadata, message string) {
	// The pipeline context may already be cancelled; persistence must
	// still happen.
	ctx = context.WithoutCancel(ctx)

	if err := o.store.FailJob(ctx, jobID, message); err != nil {
		o.logger.Error().Err(err).Str("jobId", jobID).Msg("failed to record job failure")
	}
	if err := o.store.UpdateContentStatus(ctx, contentID, store.StatusFailed); err != nil {
		o.logger.Error().Err(err).Str("contentId", contentID).Msg("failed to record content failure")
	}

	if o.notifier != nil {
		o.notifier.NotifyFailed(ctx, notification.Event{
			JobID: jobID, ContentID: contentID, Title: meta.Title, ErrorMessage: message,
		})
	}
	o.broadcast(websocket.EventDownloadFailed, map[string]any{
		"contentId": contentID,
		"jobId":     jobID,
		"error":     message,
	})
	o.logger.Warn().Str("contentId", contentID).Str("jobId", jobID).Str("error", message).Msg("download failed")
}

func (o *Orchestrator) transition(ctx context.Context, jobID, contentID, status string) {
	if err := o.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		o.logger.Warn().Err(err).Str("jobId", jobID).Str("status", status).Msg("job transition failed")
	}
	if err := o.store.UpdateContentStatus(ctx, contentID, status); err != nil {
		o.logger.Warn().Err(err).Str("contentId", contentID).Str("status", status).Msg("content transition failed")
	}
}

func (o *Orchestrator) pauseRequested(contentID string) bool {
	content, err := o.store.GetContent(context.Background(), contentID)
	return err == nil && content.Status == store.StatusPaused
}

func (o *Orchestrator) broadcast(event string, payload any) {
	if o.broadcaster == nil {
		return
	}
	if err := o.broadcaster.Broadcast(event, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", event).Msg("broadcast failed")
	}
}

func validate(meta Metadata, src Source) error {
	if meta.Title == "" {
		return orchErr(KindInvalidMetadata, "title is required")
	}
	switch meta.Kind {
	case store.KindMovie:
	case store.KindSeries:
		if meta.Season == nil || meta.Episode == nil {
			return orchErr(KindInvalidMetadata, "season and episode are required for series content")
		}
	default:
		return orchErr(KindInvalidMetadata, "unknown content kind %q", meta.Kind)
	}

	if (src.Magnet == "") == (src.DirectURL == "") {
		return orchErr(KindInvalidMetadata, "exactly one of magnet or direct url must be provided")
	}
	return nil
}

func planPath(meta Metadata, directURL string) string {
	if meta.Kind == store.KindSeries {
		return layout.PlanEpisodePath(meta.Title, *meta.Season, *meta.Episode, meta.EpisodeTitle, directURL)
	}
	return layout.PlanMoviePath(meta.Title, meta.Year, directURL)
}

func contentFromMetadata(contentID string, meta Metadata) *store.ContentRecord {
	record := &store.ContentRecord{
		ID:           contentID,
		Kind:         meta.Kind,
		Title:        meta.Title,
		Year:         meta.Year,
		Season:       meta.Season,
		Episode:      meta.Episode,
		EpisodeTitle: meta.EpisodeTitle,
		QualityLabel: meta.QualityLabel,
		Genre:        meta.Genre,
		PosterURL:    meta.PosterURL,
		Description:  meta.Description,
		Status:       store.StatusQueued,
	}
	if meta.Kind == store.KindSeries {
		seriesKey := seriesKeyFromID(contentID)
		record.SeriesKey = &seriesKey
	}
	return record
}

func metadataFromContent(c *store.ContentRecord) Metadata {
	return Metadata{
		Kind:         c.Kind,
		Title:        c.Title,
		Year:         c.Year,
		Season:       c.Season,
		Episode:      c.Episode,
		EpisodeTitle: c.EpisodeTitle,
		QualityLabel: c.QualityLabel,
		Genre:        c.Genre,
		PosterURL:    c.PosterURL,
		Description:  c.Description,
	}
}

// seriesKeyFromID strips the season/episode suffix from an episode id.
func seriesKeyFromID(contentID string) string {
	for i := 0; i < len(contentID); i++ {
		if contentID[i] == ':' {
			return contentID[:i]
		}
	}
	return contentID
}
