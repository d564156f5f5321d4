package addon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/orchestrator"
	"github.com/offlinio/offlinio/internal/store"
)

const catalogPageSize = 100

// DownloadStarter kicks off an automatic download for a content id.
type DownloadStarter interface {
	StartAuto(ctx context.Context, contentID string, meta orchestrator.Metadata) (*orchestrator.StartResult, error)
}

// Handlers serves the addon protocol endpoints.
type Handlers struct {
	store    *store.Store
	starter  DownloadStarter
	manifest Manifest
	baseURL  string
	logger   zerolog.Logger
}

// NewHandlers creates addon handlers. baseURL is the externally reachable
// server address, e.g. "http://127.0.0.1:11471".
func NewHandlers(st *store.Store, starter DownloadStarter, baseURL string, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:    st,
		starter:  starter,
		manifest: DefaultManifest(),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger.With().Str("component", "addon").Logger(),
	}
}

// RegisterRoutes mounts the addon endpoints at the server root, where
// catalog clients expect them.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	e.GET("/manifest.json", h.GetManifest)
	e.GET("/catalog/:type/:id", h.GetCatalog)
	e.GET("/meta/:type/:id", h.GetMeta)
	e.GET("/stream/:type/:id", h.GetStream)
	e.GET("/download/:id", h.TriggerDownload)
}

// GetManifest serves the addon manifest.
func (h *Handlers) GetManifest(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manifest)
}

// GetCatalog lists downloaded content for one of the two catalogs. Supports
// search, genre and skip parameters.
func (h *Handlers) GetCatalog(c echo.Context) error {
	ctx := c.Request().Context()
	contentType := c.Param("type")
	catalogID := strings.TrimSuffix(c.Param("id"), ".json")
	search := c.QueryParam("search")
	genre := c.QueryParam("genre")
	skip, _ := strconv.Atoi(c.QueryParam("skip"))

	switch {
	case contentType == "movie" && catalogID == CatalogMovies:
		metas, err := h.movieCatalog(ctx, search, genre, skip)
		if err != nil {
			h.logger.Error().Err(err).Msg("movie catalog query failed")
			return c.JSON(http.StatusInternalServerError, map[string]any{"metas": []Meta{}})
		}
		return c.JSON(http.StatusOK, map[string]any{"metas": metas})

	case contentType == "series" && catalogID == CatalogSeries:
		metas, err := h.seriesCatalog(ctx, search, genre, skip)
		if err != nil {
			h.logger.Error().Err(err).Msg("series catalog query failed")
			return c.JSON(http.StatusInternalServerError, map[string]any{"metas": []Meta{}})
		}
		return c.JSON(http.StatusOK, map[string]any{"metas": metas})
	}

	return c.JSON(http.StatusOK, map[string]any{"metas": []Meta{}})
}

// GetMeta serves series episode lists. Movie metas are resolved from the
// content record when one exists.
func (h *Handlers) GetMeta(c echo.Context) error {
	ctx := c.Request().Context()
	contentType := c.Param("type")
	id := strings.TrimSuffix(c.Param("id"), ".json")

	if contentType == "series" {
		meta, err := h.seriesMeta(ctx, id)
		if err != nil {
			h.logger.Error().Err(err).Str("id", id).Msg("series meta query failed")
			return c.JSON(http.StatusInternalServerError, map[string]any{"meta": nil})
		}
		return c.JSON(http.StatusOK, map[string]any{"meta": meta})
	}

	content, err := h.store.GetContent(ctx, id)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"meta": Meta{ID: id, Type: contentType}})
	}
	return c.JSON(http.StatusOK, map[string]any{"meta": contentMeta(content)})
}

// GetStream lists streams for a content id: the local file when downloaded,
// a progress entry while a transfer runs, or the download trigger otherwise.
func (h *Handlers) GetStream(c echo.Context) error {
	ctx := c.Request().Context()
	id := strings.TrimSuffix(c.Param("id"), ".json")

	var streams []Stream

	content, err := h.store.GetContent(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("id", id).Msg("stream lookup failed")
		return c.JSON(http.StatusInternalServerError, map[string]any{"streams": []Stream{}})
	}

	if content != nil && content.Status == store.StatusCompleted && content.RelativeFilePath != nil {
		streams = append(streams, Stream{
			Name:  "Play Offline",
			Title: "Play from your device (downloaded)",
			URL:   h.fileURL(*content.RelativeFilePath),
			BehaviorHints: &StreamBehaviorHints{
				BingeGroup: "offlinio-offline",
			},
		})
	}

	switch {
	case content != nil && content.Status == store.StatusDownloading:
		streams = append(streams, Stream{
			Name:  fmt.Sprintf("Downloading... (%d%%)", content.ProgressPercent),
			Title: "Download in progress - open the manager to track it",
			URL:   h.baseURL + "/api/downloads/" + url.PathEscape(id),
			BehaviorHints: &StreamBehaviorHints{
				NotWebReady: true,
				BingeGroup:  "offlinio-progress",
			},
		})
	case content == nil || content.Status != store.StatusCompleted:
		streams = append(streams, Stream{
			Name:  "Download for Offline",
			Title: "Download this content to your device",
			URL:   h.baseURL + "/download/" + url.PathEscape(id),
			BehaviorHints: &StreamBehaviorHints{
				BingeGroup: "offlinio-download",
			},
		})
	}

	return c.JSON(http.StatusOK, map[string]any{"streams": streams})
}

// TriggerDownload starts an automatic download for the content id embedded in
// the stream URL a client followed.
func (h *Handlers) TriggerDownload(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	parsed, err := ParseContentID(id)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	meta := orchestrator.Metadata{Kind: parsed.Kind}
	if parsed.Kind == store.KindSeries {
		season, episode := parsed.Season, parsed.Episode
		meta.Season = &season
		meta.Episode = &episode
	}

	result, err := h.starter.StartAuto(ctx, id, meta)
	if err != nil {
		var oerr *orchestrator.Error
		if errors.As(err, &oerr) {
			return c.JSON(orchestratorErrorStatus(oerr.Kind), map[string]string{"error": oerr.Message})
		}
		h.logger.Error().Err(err).Str("id", id).Msg("download trigger failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process download request"})
	}

	if result.AlreadyCompleted {
		return c.JSON(http.StatusOK, map[string]any{
			"message":  "Content already downloaded",
			"filePath": result.RelativeFilePath,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message":    "Download started",
		"downloadId": result.JobID,
		"redirect":   h.baseURL + "/ui/",
	})
}

func orchestratorErrorStatus(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.KindAlreadyActive:
		return http.StatusConflict
	case orchestrator.KindNoSource, orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindInvalidMetadata, orchestrator.KindInvalidState:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handlers) movieCatalog(ctx context.Context, search, genre string, skip int) ([]Meta, error) {
	records, err := h.store.ListContent(ctx, store.ContentFilter{
		Kind:   store.KindMovie,
		Status: store.StatusCompleted,
		Search: search,
		Genre:  genre,
		Limit:  catalogPageSize,
		Offset: skip,
	})
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(records))
	for _, r := range records {
		metas = append(metas, contentMeta(r))
	}
	return metas, nil
}

// seriesCatalog groups completed episodes into one entry per series.
func (h *Handlers) seriesCatalog(ctx context.Context, search, genre string, skip int) ([]Meta, error) {
	episodes, err := h.store.ListCompletedEpisodes(ctx, "")
	if err != nil {
		return nil, err
	}

	type group struct {
		key      string
		episodes []*store.ContentRecord
	}
	var order []string
	groups := make(map[string]*group)
	for _, ep := range episodes {
		if search != "" && !containsFold(ep.Title, search) {
			continue
		}
		if genre != "" && (ep.Genre == nil || !containsFold(*ep.Genre, genre)) {
			continue
		}
		key := ep.Title
		if ep.SeriesKey != nil {
			key = *ep.SeriesKey
		}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.episodes = append(g.episodes, ep)
	}

	metas := make([]Meta, 0, len(order))
	for _, key := range order {
		g := groups[key]
		first := g.episodes[0]
		meta := Meta{
			ID:          g.key,
			Type:        "series",
			Name:        first.Title,
			PosterShape: "poster",
			Description: fmt.Sprintf("%d episodes downloaded", len(g.episodes)),
		}
		if first.PosterURL != nil {
			meta.Poster = *first.PosterURL
		}
		if first.Description != nil {
			meta.Description = *first.Description
		}
		if first.Genre != nil {
			meta.Genres = splitGenres(*first.Genre)
		}
		metas = append(metas, meta)
	}

	if skip >= len(metas) {
		return []Meta{}, nil
	}
	end := skip + catalogPageSize
	if end > len(metas) {
		end = len(metas)
	}
	return metas[skip:end], nil
}

func (h *Handlers) seriesMeta(ctx context.Context, seriesKey string) (*Meta, error) {
	episodes, err := h.store.ListCompletedEpisodes(ctx, seriesKey)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	first := episodes[0]
	meta := &Meta{
		ID:          seriesKey,
		Type:        "series",
		Name:        first.Title,
		PosterShape: "poster",
		Description: fmt.Sprintf("%d episodes available offline", len(episodes)),
	}
	if first.PosterURL != nil {
		meta.Poster = *first.PosterURL
	}
	if first.Description != nil {
		meta.Description = *first.Description
	}
	if first.Genre != nil {
		meta.Genres = splitGenres(*first.Genre)
	}

	for _, ep := range episodes {
		season, episode := 1, 1
		if ep.Season != nil {
			season = *ep.Season
		}
		if ep.Episode != nil {
			episode = *ep.Episode
		}
		meta.Videos = append(meta.Videos, Video{
			ID:       ep.ID,
			Title:    fmt.Sprintf("S%02dE%02d", season, episode),
			Season:   season,
			Episode:  episode,
			Released: ep.CreatedAt.Format("2006-01-02"),
		})
	}
	return meta, nil
}

// fileURL builds the local playback URL, escaping path segments while keeping
// directory separators intact.
func (h *Handlers) fileURL(relativePath string) string {
	u := url.URL{Path: "/files/" + relativePath}
	return h.baseURL + u.EscapedPath()
}

func contentMeta(c *store.ContentRecord) Meta {
	meta := Meta{
		ID:          c.ID,
		Type:        c.Kind,
		Name:        c.Title,
		PosterShape: "poster",
	}
	if c.Year != nil {
		meta.Year = *c.Year
	}
	if c.PosterURL != nil {
		meta.Poster = *c.PosterURL
	}
	if c.Description != nil {
		meta.Description = *c.Description
	}
	if c.Genre != nil {
		meta.Genres = splitGenres(*c.Genre)
	}
	return meta
}

func splitGenres(genre string) []string {
	parts := strings.Split(genre, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
