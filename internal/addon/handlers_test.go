package addon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/orchestrator"
	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/testutil"
)

type fakeStarter struct {
	result    *orchestrator.StartResult
	err       error
	contentID string
	meta      orchestrator.Metadata
}

func (f *fakeStarter) StartAuto(ctx context.Context, contentID string, meta orchestrator.Metadata) (*orchestrator.StartResult, error) {
	f.contentID = contentID
	f.meta = meta
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func setupAddon(t *testing.T) (*echo.Echo, *store.Store, *fakeStarter) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	st := store.New(tdb.Conn, tdb.Logger)
	starter := &fakeStarter{result: &orchestrator.StartResult{JobID: "job-1"}}

	e := echo.New()
	h := NewHandlers(st, starter, "http://127.0.0.1:11471", zerolog.Nop())
	h.RegisterRoutes(e)

	return e, st, starter
}

func seedCompletedMovie(t *testing.T, st *store.Store, id, title string, year int, relPath string) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertContent(ctx, &store.ContentRecord{
		ID:     id,
		Kind:   store.KindMovie,
		Title:  title,
		Year:   &year,
		Status: store.StatusQueued,
		Genre:  testutil.StringPtr("Action, Sci-Fi"),
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	if err := st.SetContentFilePath(ctx, id, relPath); err != nil {
		t.Fatalf("SetContentFilePath: %v", err)
	}
	if err := st.CompleteContent(ctx, id, 1000); err != nil {
		t.Fatalf("CompleteContent: %v", err)
	}
}

func seedCompletedEpisode(t *testing.T, st *store.Store, seriesID, title string, season, episode int) {
	t.Helper()
	ctx := context.Background()
	id := fmt.Sprintf("%s:%d:%d", seriesID, season, episode)
	key := seriesID
	if err := st.UpsertContent(ctx, &store.ContentRecord{
		ID:        id,
		Kind:      store.KindSeries,
		Title:     title,
		SeriesKey: &key,
		Season:    &season,
		Episode:   &episode,
		Status:    store.StatusQueued,
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	if err := st.CompleteContent(ctx, id, 1000); err != nil {
		t.Fatalf("CompleteContent: %v", err)
	}
}

func getJSON(t *testing.T, e *echo.Echo, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (body %s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestManifest(t *testing.T) {
	e, _, _ := setupAddon(t)

	var m Manifest
	code := getJSON(t, e, "/manifest.json", &m)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if m.ID != "community.offlinio" {
		t.Errorf("ID = %q", m.ID)
	}
	if len(m.Catalogs) != 2 {
		t.Errorf("catalogs = %d, want 2", len(m.Catalogs))
	}
	if len(m.Resources) != 3 {
		t.Errorf("resources = %v", m.Resources)
	}
}

func TestMovieCatalog(t *testing.T) {
	e, st, _ := setupAddon(t)
	seedCompletedMovie(t, st, "tt0133093", "The Matrix", 1999, "Movies/The Matrix (1999).mkv")
	seedCompletedMovie(t, st, "tt0234215", "The Matrix Reloaded", 2003, "Movies/The Matrix Reloaded (2003).mkv")

	// Non-completed content stays out of the catalog.
	ctx := context.Background()
	year := 2024
	if err := st.UpsertContent(ctx, &store.ContentRecord{
		ID: "tt9999999", Kind: store.KindMovie, Title: "In Flight", Year: &year, Status: store.StatusQueued,
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	var resp struct {
		Metas []Meta `json:"metas"`
	}
	if code := getJSON(t, e, "/catalog/movie/offlinio-movies.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Metas) != 2 {
		t.Fatalf("metas = %d, want 2", len(resp.Metas))
	}
	for _, m := range resp.Metas {
		if m.Type != "movie" {
			t.Errorf("meta type = %q", m.Type)
		}
	}
}

func TestMovieCatalogSearch(t *testing.T) {
	e, st, _ := setupAddon(t)
	seedCompletedMovie(t, st, "tt0133093", "The Matrix", 1999, "Movies/The Matrix (1999).mkv")
	seedCompletedMovie(t, st, "tt0111161", "The Shawshank Redemption", 1994, "Movies/The Shawshank Redemption (1994).mkv")

	var resp struct {
		Metas []Meta `json:"metas"`
	}
	if code := getJSON(t, e, "/catalog/movie/offlinio-movies.json?search=Matrix", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Metas) != 1 || resp.Metas[0].Name != "The Matrix" {
		t.Fatalf("metas = %+v", resp.Metas)
	}
}

func TestUnknownCatalogIsEmpty(t *testing.T) {
	e, _, _ := setupAddon(t)

	var resp struct {
		Metas []Meta `json:"metas"`
	}
	if code := getJSON(t, e, "/catalog/movie/other-catalog.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Metas) != 0 {
		t.Errorf("metas = %+v", resp.Metas)
	}
}

func TestSeriesCatalogGroupsEpisodes(t *testing.T) {
	e, st, _ := setupAddon(t)
	seedCompletedEpisode(t, st, "tt0108778", "Friends", 1, 1)
	seedCompletedEpisode(t, st, "tt0108778", "Friends", 1, 2)
	seedCompletedEpisode(t, st, "tt0944947", "Game of Thrones", 1, 1)

	var resp struct {
		Metas []Meta `json:"metas"`
	}
	if code := getJSON(t, e, "/catalog/series/offlinio-series.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Metas) != 2 {
		t.Fatalf("metas = %d, want 2 series", len(resp.Metas))
	}
	if resp.Metas[0].ID != "tt0108778" || resp.Metas[0].Name != "Friends" {
		t.Errorf("first series = %+v", resp.Metas[0])
	}
}

func TestSeriesMetaListsEpisodes(t *testing.T) {
	e, st, _ := setupAddon(t)
	seedCompletedEpisode(t, st, "tt0108778", "Friends", 1, 2)
	seedCompletedEpisode(t, st, "tt0108778", "Friends", 1, 1)

	var resp struct {
		Meta *Meta `json:"meta"`
	}
	if code := getJSON(t, e, "/meta/series/tt0108778.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Meta == nil {
		t.Fatal("meta is nil")
	}
	if len(resp.Meta.Videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(resp.Meta.Videos))
	}
	// Episodes come back in season/episode order regardless of insert order.
	if resp.Meta.Videos[0].Episode != 1 || resp.Meta.Videos[0].Title != "S01E01" {
		t.Errorf("first video = %+v", resp.Meta.Videos[0])
	}
}

func TestSeriesMetaUnknownSeries(t *testing.T) {
	e, _, _ := setupAddon(t)

	var resp struct {
		Meta *Meta `json:"meta"`
	}
	if code := getJSON(t, e, "/meta/series/tt0000000.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Meta != nil {
		t.Errorf("meta = %+v, want null", resp.Meta)
	}
}

func TestStreamForDownloadedContent(t *testing.T) {
	e, st, _ := setupAddon(t)
	seedCompletedMovie(t, st, "tt0133093", "The Matrix", 1999, "Movies/The Matrix (1999).mkv")

	var resp struct {
		Streams []Stream `json:"streams"`
	}
	if code := getJSON(t, e, "/stream/movie/tt0133093.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Streams) != 1 {
		t.Fatalf("streams = %+v", resp.Streams)
	}
	s := resp.Streams[0]
	if s.Name != "Play Offline" {
		t.Errorf("name = %q", s.Name)
	}
	want := "http://127.0.0.1:11471/files/Movies/The%20Matrix%20%281999%29.mkv"
	if s.URL != want {
		t.Errorf("url = %q, want %q", s.URL, want)
	}
}

func TestStreamForUnknownContentOffersDownload(t *testing.T) {
	e, _, _ := setupAddon(t)

	var resp struct {
		Streams []Stream `json:"streams"`
	}
	if code := getJSON(t, e, "/stream/movie/tt0133093.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Streams) != 1 {
		t.Fatalf("streams = %+v", resp.Streams)
	}
	if resp.Streams[0].Name != "Download for Offline" {
		t.Errorf("name = %q", resp.Streams[0].Name)
	}
	if resp.Streams[0].URL != "http://127.0.0.1:11471/download/tt0133093" {
		t.Errorf("url = %q", resp.Streams[0].URL)
	}
}

func TestStreamWhileDownloading(t *testing.T) {
	e, st, _ := setupAddon(t)
	ctx := context.Background()
	year := 1999
	if err := st.UpsertContent(ctx, &store.ContentRecord{
		ID: "tt0133093", Kind: store.KindMovie, Title: "The Matrix", Year: &year, Status: store.StatusQueued,
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	if err := st.UpdateContentStatus(ctx, "tt0133093", store.StatusDownloading); err != nil {
		t.Fatalf("UpdateContentStatus: %v", err)
	}
	if err := st.UpdateContentProgress(ctx, "tt0133093", 42); err != nil {
		t.Fatalf("UpdateContentProgress: %v", err)
	}

	var resp struct {
		Streams []Stream `json:"streams"`
	}
	if code := getJSON(t, e, "/stream/movie/tt0133093.json", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Streams) != 1 {
		t.Fatalf("streams = %+v", resp.Streams)
	}
	if resp.Streams[0].Name != "Downloading... (42%)" {
		t.Errorf("name = %q", resp.Streams[0].Name)
	}
	if resp.Streams[0].BehaviorHints == nil || !resp.Streams[0].BehaviorHints.NotWebReady {
		t.Error("progress stream should not be web ready")
	}
}

func TestTriggerDownloadMovie(t *testing.T) {
	e, _, starter := setupAddon(t)

	var resp map[string]any
	if code := getJSON(t, e, "/download/tt0133093", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp["downloadId"] != "job-1" {
		t.Errorf("downloadId = %v", resp["downloadId"])
	}
	if starter.contentID != "tt0133093" {
		t.Errorf("contentID = %q", starter.contentID)
	}
	if starter.meta.Kind != store.KindMovie {
		t.Errorf("kind = %q", starter.meta.Kind)
	}
}

func TestTriggerDownloadEpisodeParsesID(t *testing.T) {
	e, _, starter := setupAddon(t)

	if code := getJSON(t, e, "/download/tt0108778:2:5", nil); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if starter.meta.Kind != store.KindSeries {
		t.Errorf("kind = %q", starter.meta.Kind)
	}
	if starter.meta.Season == nil || *starter.meta.Season != 2 {
		t.Errorf("season = %v", starter.meta.Season)
	}
	if starter.meta.Episode == nil || *starter.meta.Episode != 5 {
		t.Errorf("episode = %v", starter.meta.Episode)
	}
}

func TestTriggerDownloadErrorMapping(t *testing.T) {
	tests := []struct {
		kind orchestrator.ErrorKind
		want int
	}{
		{orchestrator.KindAlreadyActive, http.StatusConflict},
		{orchestrator.KindNoSource, http.StatusNotFound},
		{orchestrator.KindInvalidMetadata, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e, _, starter := setupAddon(t)
			starter.err = &orchestrator.Error{Kind: tt.kind, Message: "nope"}

			if code := getJSON(t, e, "/download/tt0133093", nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestParseContentID(t *testing.T) {
	tests := []struct {
		in      string
		kind    string
		season  int
		episode int
		wantErr bool
	}{
		{"tt0133093", "movie", 0, 0, false},
		{"tt0108778:1:2", "series", 1, 2, false},
		{"tt0108778:1", "", 0, 0, true},
		{"tt0108778:a:b", "", 0, 0, true},
		{"", "", 0, 0, true},
	}
	for _, tt := range tests {
		parsed, err := ParseContentID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseContentID(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseContentID(%q): %v", tt.in, err)
			continue
		}
		if parsed.Kind != tt.kind || parsed.Season != tt.season || parsed.Episode != tt.episode {
			t.Errorf("ParseContentID(%q) = %+v", tt.in, parsed)
		}
	}
}
