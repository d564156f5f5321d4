package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/offlinio/offlinio/internal/layout"
	"github.com/offlinio/offlinio/internal/orchestrator"
	"github.com/offlinio/offlinio/internal/store"
)

// createDownloadRequest is the body of POST /api/downloads and
// POST /api/downloads/magnet. Exactly one of DirectURL or MagnetURI is read,
// depending on the endpoint.
type createDownloadRequest struct {
	ContentID    string  `json:"contentId"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Year         *int    `json:"year,omitempty"`
	Season       *int    `json:"season,omitempty"`
	Episode      *int    `json:"episode,omitempty"`
	EpisodeTitle *string `json:"episodeTitle,omitempty"`
	DirectURL    string  `json:"directUrl,omitempty"`
	MagnetURI    string  `json:"magnetUri,omitempty"`
	Quality      *string `json:"quality,omitempty"`
	PosterURL    *string `json:"posterUrl,omitempty"`
	Description  *string `json:"description,omitempty"`
	Genre        *string `json:"genre,omitempty"`
}

// downloadItem is one entry in the downloads listing.
type downloadItem struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Year      *int       `json:"year,omitempty"`
	Season    *int       `json:"season,omitempty"`
	Episode   *int       `json:"episode,omitempty"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	Quality   *string    `json:"quality,omitempty"`
	FilePath  *string    `json:"filePath,omitempty"`
	FileSize  *int64     `json:"fileSize,omitempty"`
	PosterURL *string    `json:"posterUrl,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Download  *jobDetail `json:"download,omitempty"`
}

// jobDetail mirrors a download job row.
type jobDetail struct {
	ID           string     `json:"id"`
	SourceKind   string     `json:"sourceKind"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	SpeedBps     *int64     `json:"speedBps,omitempty"`
	ETASeconds   *int64     `json:"etaSeconds,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// createDownload queues a direct URL download.
func (s *Server) createDownload(c echo.Context) error {
	var req createDownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.DirectURL == "" || req.ContentID == "" || req.Type == "" || req.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing required fields: directUrl, contentId, type, title",
		})
	}

	result, err := s.manager.Start(c.Request().Context(), req.ContentID, req.metadata(), orchestrator.Source{DirectURL: req.DirectURL})
	if err != nil {
		return s.orchestratorError(c, err)
	}

	if result.AlreadyCompleted {
		return c.JSON(http.StatusConflict, map[string]any{
			"error":    "content already downloaded",
			"filePath": result.RelativeFilePath,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"downloadId": result.JobID,
		"contentId":  req.ContentID,
		"filePath":   req.plannedPath(),
		"status":     store.StatusQueued,
	})
}

// createMagnetDownload queues a download that resolves a magnet through the
// debrid backend first.
func (s *Server) createMagnetDownload(c echo.Context) error {
	var req createDownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.MagnetURI == "" || req.ContentID == "" || req.Type == "" || req.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing required fields: magnetUri, contentId, type, title",
		})
	}

	if s.cfg.Debrid.APIToken == "" {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"error":         "debrid integration not available, configure your API token",
			"setupRequired": true,
		})
	}

	result, err := s.manager.Start(c.Request().Context(), req.ContentID, req.metadata(), orchestrator.Source{Magnet: req.MagnetURI})
	if err != nil {
		return s.orchestratorError(c, err)
	}

	if result.AlreadyCompleted {
		return c.JSON(http.StatusOK, map[string]any{
			"success":  true,
			"message":  "content already downloaded",
			"filePath": result.RelativeFilePath,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"downloadId": result.JobID,
		"contentId":  req.ContentID,
		"status":     store.StatusProcessing,
		"message":    "magnet resolution started",
	})
}

// listDownloads returns content records with their latest download job.
func (s *Server) listDownloads(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	records, err := s.store.ListContent(ctx, store.ContentFilter{
		Kind:   c.QueryParam("type"),
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list downloads")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to retrieve downloads"})
	}

	items := make([]downloadItem, 0, len(records))
	for _, r := range records {
		item := contentItem(r)
		if job, err := s.store.LatestJobForContent(ctx, r.ID); err == nil {
			detail := jobItem(job)
			item.Download = &detail
		}
		items = append(items, item)
	}

	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// getDownload returns one content record with its full job history.
func (s *Server) getDownload(c echo.Context) error {
	ctx := c.Request().Context()
	contentID := c.Param("contentId")

	content, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "content not found"})
		}
		s.logger.Error().Err(err).Str("contentId", contentID).Msg("failed to get download")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to retrieve download"})
	}

	jobs, err := s.store.ListJobs(ctx, contentID)
	if err != nil {
		s.logger.Error().Err(err).Str("contentId", contentID).Msg("failed to list jobs")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to retrieve download"})
	}

	item := contentItem(content)
	details := make([]jobDetail, 0, len(jobs))
	for _, j := range jobs {
		details = append(details, jobItem(j))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"content":   item,
		"downloads": details,
	})
}

// deleteDownload removes the content, its jobs and the stored file.
func (s *Server) deleteDownload(c echo.Context) error {
	contentID := c.Param("contentId")

	if err := s.manager.Delete(c.Request().Context(), contentID); err != nil {
		return s.orchestratorError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "download deleted"})
}

// updateDownloadStatus pauses or resumes a download.
func (s *Server) updateDownloadStatus(c echo.Context) error {
	contentID := c.Param("contentId")

	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	var err error
	switch body.Status {
	case store.StatusPaused:
		err = s.manager.Pause(ctx, contentID)
	case store.StatusDownloading:
		err = s.manager.Resume(ctx, contentID)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be paused or downloading"})
	}
	if err != nil {
		return s.orchestratorError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true, "status": body.Status})
}

// getStorageStats reports disk usage and completed content counts.
func (s *Server) getStorageStats(c echo.Context) error {
	stats, err := s.storage.Stats()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to collect storage stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get storage statistics"})
	}

	movies, episodes, err := s.store.CountCompletedByKind(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count content")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get storage statistics"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"storageRoot":    s.storage.Root(),
		"totalFiles":     stats.TotalFiles,
		"totalSizeBytes": stats.TotalSizeBytes,
		"totalMovies":    movies,
		"totalEpisodes":  episodes,
	})
}

// orchestratorError maps orchestration errors onto HTTP statuses.
func (s *Server) orchestratorError(c echo.Context, err error) error {
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		status := http.StatusInternalServerError
		switch oerr.Kind {
		case orchestrator.KindAlreadyActive:
			status = http.StatusConflict
		case orchestrator.KindInvalidMetadata:
			status = http.StatusBadRequest
		case orchestrator.KindInvalidState:
			status = http.StatusConflict
		case orchestrator.KindNotFound, orchestrator.KindNoSource:
			status = http.StatusNotFound
		}
		return c.JSON(status, map[string]string{"error": oerr.Message})
	}

	s.logger.Error().Err(err).Msg("download request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (r *createDownloadRequest) metadata() orchestrator.Metadata {
	return orchestrator.Metadata{
		Kind:         r.Type,
		Title:        r.Title,
		Year:         r.Year,
		Season:       r.Season,
		Episode:      r.Episode,
		EpisodeTitle: r.EpisodeTitle,
		QualityLabel: r.Quality,
		PosterURL:    r.PosterURL,
		Description:  r.Description,
		Genre:        r.Genre,
	}
}

// plannedPath mirrors the path the pipeline will write to, for the immediate
// response. Only meaningful for direct downloads, where the final URL is
// already known.
func (r *createDownloadRequest) plannedPath() string {
	if r.Type == store.KindSeries && r.Season != nil && r.Episode != nil {
		return layout.PlanEpisodePath(r.Title, *r.Season, *r.Episode, r.EpisodeTitle, r.DirectURL)
	}
	if r.Type == store.KindMovie {
		return layout.PlanMoviePath(r.Title, r.Year, r.DirectURL)
	}
	return ""
}

func contentItem(c *store.ContentRecord) downloadItem {
	return downloadItem{
		ID:        c.ID,
		Type:      c.Kind,
		Title:     c.Title,
		Year:      c.Year,
		Season:    c.Season,
		Episode:   c.Episode,
		Status:    c.Status,
		Progress:  c.ProgressPercent,
		Quality:   c.QualityLabel,
		FilePath:  c.RelativeFilePath,
		FileSize:  c.FileSizeBytes,
		PosterURL: c.PosterURL,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func jobItem(j *store.DownloadJob) jobDetail {
	return jobDetail{
		ID:           j.ID,
		SourceKind:   j.SourceKind,
		Status:       j.Status,
		Progress:     j.ProgressPercent,
		SpeedBps:     j.SpeedBytesPerSec,
		ETASeconds:   j.ETASeconds,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		CreatedAt:    j.CreatedAt,
	}
}
