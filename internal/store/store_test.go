package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)
	return store.New(tdb.Conn, tdb.Logger)
}

func movieRecord(id, title string) *store.ContentRecord {
	return &store.ContentRecord{
		ID:     id,
		Kind:   store.KindMovie,
		Title:  title,
		Year:   testutil.IntPtr(2024),
		Status: store.StatusQueued,
	}
}

func TestUpsertAndGetContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000001", "Test Movie")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	c, err := s.GetContent(ctx, "tt0000001")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if c.Title != "Test Movie" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.Year == nil || *c.Year != 2024 {
		t.Errorf("Year = %v, want 2024", c.Year)
	}
	if c.Status != store.StatusQueued {
		t.Errorf("Status = %q", c.Status)
	}
}

func TestGetContentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetContent(context.Background(), "tt9999999")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertContentResetsDownloadState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000002", "Original")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	if err := s.SetContentFilePath(ctx, "tt0000002", "Movies/Original (2024).mkv"); err != nil {
		t.Fatalf("SetContentFilePath: %v", err)
	}
	if err := s.UpdateContentProgress(ctx, "tt0000002", 60); err != nil {
		t.Fatalf("UpdateContentProgress: %v", err)
	}
	if err := s.UpdateContentStatus(ctx, "tt0000002", store.StatusFailed); err != nil {
		t.Fatalf("UpdateContentStatus: %v", err)
	}

	// Second upsert refreshes metadata and arms a fresh attempt.
	if err := s.UpsertContent(ctx, movieRecord("tt0000002", "Renamed")); err != nil {
		t.Fatalf("UpsertContent again: %v", err)
	}

	c, err := s.GetContent(ctx, "tt0000002")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if c.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", c.Title)
	}
	if c.Status != store.StatusQueued {
		t.Errorf("Status = %q, want queued reset", c.Status)
	}
	if c.ProgressPercent != 0 {
		t.Errorf("ProgressPercent = %d, want 0 reset", c.ProgressPercent)
	}
	if c.RelativeFilePath == nil || *c.RelativeFilePath != "Movies/Original (2024).mkv" {
		t.Errorf("RelativeFilePath = %v, want kept", c.RelativeFilePath)
	}
}

func TestContentProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000003", "Mono")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	for _, p := range []int{10, 50, 30} {
		if err := s.UpdateContentProgress(ctx, "tt0000003", p); err != nil {
			t.Fatalf("UpdateContentProgress(%d): %v", p, err)
		}
	}

	c, _ := s.GetContent(ctx, "tt0000003")
	if c.ProgressPercent != 50 {
		t.Errorf("ProgressPercent = %d, want 50 (no regression)", c.ProgressPercent)
	}
}

func TestCreateJobActiveUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000004", "Unique")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	first := &store.DownloadJob{ID: "job-1", ContentID: "tt0000004", SourceLocator: "magnet:?xt=a", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, first); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	second := &store.DownloadJob{ID: "job-2", ContentID: "tt0000004", SourceLocator: "magnet:?xt=b", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, second); !errors.Is(err, store.ErrActiveJobExists) {
		t.Fatalf("second CreateJob err = %v, want ErrActiveJobExists", err)
	}

	// After the first job terminates a new one is allowed.
	if err := s.FailJob(ctx, "job-1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.CreateJob(ctx, second); err != nil {
		t.Fatalf("CreateJob after failure: %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000005", "Lifecycle")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	job := &store.DownloadJob{ID: "job-5", ContentID: "tt0000005", SourceLocator: "magnet:?xt=c", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, "job-5", store.StatusProcessing); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, "job-5", store.StatusDownloading); err != nil {
		t.Fatalf("to downloading: %v", err)
	}

	j, err := s.GetJob(ctx, "job-5")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.StartedAt == nil {
		t.Error("StartedAt not stamped on downloading transition")
	}

	eta := int64(120)
	if err := s.UpdateJobProgress(ctx, "job-5", 42, 1024, &eta); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	j, _ = s.GetJob(ctx, "job-5")
	if j.ProgressPercent != 42 {
		t.Errorf("ProgressPercent = %d", j.ProgressPercent)
	}
	if j.SpeedBytesPerSec == nil || *j.SpeedBytesPerSec != 1024 {
		t.Errorf("SpeedBytesPerSec = %v", j.SpeedBytesPerSec)
	}
	if j.ETASeconds == nil || *j.ETASeconds != 120 {
		t.Errorf("ETASeconds = %v", j.ETASeconds)
	}

	if err := s.CompleteJob(ctx, "job-5"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, _ = s.GetJob(ctx, "job-5")
	if j.Status != store.StatusCompleted || j.ProgressPercent != 100 || j.CompletedAt == nil {
		t.Errorf("completed job = %+v", j)
	}
	if j.IsActive() {
		t.Error("completed job reported active")
	}
}

func TestActiveAndLatestJobForContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000006", "Jobs")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	_, err := s.ActiveJobForContent(ctx, "tt0000006")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ActiveJobForContent on empty = %v, want ErrNotFound", err)
	}

	old := &store.DownloadJob{ID: "job-old", ContentID: "tt0000006", SourceLocator: "magnet:?xt=d", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.FailJob(ctx, "job-old", "nope"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	fresh := &store.DownloadJob{ID: "job-new", ContentID: "tt0000006", SourceLocator: "magnet:?xt=e", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, fresh); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	active, err := s.ActiveJobForContent(ctx, "tt0000006")
	if err != nil {
		t.Fatalf("ActiveJobForContent: %v", err)
	}
	if active.ID != "job-new" {
		t.Errorf("active job = %q", active.ID)
	}

	latest, err := s.LatestJobForContent(ctx, "tt0000006")
	if err != nil {
		t.Fatalf("LatestJobForContent: %v", err)
	}
	if latest.ID != "job-new" {
		t.Errorf("latest job = %q", latest.ID)
	}

	jobs, err := s.ListJobs(ctx, "tt0000006")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(jobs))
	}
}

func TestDeleteContentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000007", "Gone")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	job := &store.DownloadJob{ID: "job-7", ContentID: "tt0000007", SourceLocator: "magnet:?xt=f", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.DeleteContent(ctx, "tt0000007"); err != nil {
		t.Fatalf("DeleteContent: %v", err)
	}
	if _, err := s.GetJob(ctx, "job-7"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("job survived content delete: %v", err)
	}
}

func TestMarkStaleActiveJobsFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContent(ctx, movieRecord("tt0000008", "Stale")); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	job := &store.DownloadJob{ID: "job-8", ContentID: "tt0000008", SourceLocator: "magnet:?xt=g", SourceKind: store.SourceMagnet}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, "job-8", store.StatusDownloading); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	n, err := s.MarkStaleActiveJobsFailed(ctx, "interrupted by restart")
	if err != nil {
		t.Fatalf("MarkStaleActiveJobsFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}

	j, _ := s.GetJob(ctx, "job-8")
	if j.Status != store.StatusFailed {
		t.Errorf("job status = %q", j.Status)
	}
	if j.ErrorMessage == nil || *j.ErrorMessage != "interrupted by restart" {
		t.Errorf("ErrorMessage = %v", j.ErrorMessage)
	}
	c, _ := s.GetContent(ctx, "tt0000008")
	if c.Status != store.StatusFailed {
		t.Errorf("content status = %q", c.Status)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seeded by migration.
	v, err := s.GetSetting(ctx, "max_concurrent_downloads")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "3" {
		t.Errorf("max_concurrent_downloads = %q", v)
	}

	if err := s.SetSetting(ctx, "max_concurrent_downloads", "5"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, _ = s.GetSetting(ctx, "max_concurrent_downloads")
	if v != "5" {
		t.Errorf("updated value = %q", v)
	}

	if _, err := s.GetSetting(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing key err = %v", err)
	}
}

func TestListContentFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	movie := movieRecord("tt0000010", "Alpha Movie")
	episode := &store.ContentRecord{
		ID:        "tt0000011:1:2",
		Kind:      store.KindSeries,
		Title:     "Beta Show S01E02",
		SeriesKey: testutil.StringPtr("tt0000011"),
		Season:    testutil.IntPtr(1),
		Episode:   testutil.IntPtr(2),
		Status:    store.StatusQueued,
	}
	if err := s.UpsertContent(ctx, movie); err != nil {
		t.Fatalf("UpsertContent movie: %v", err)
	}
	if err := s.UpsertContent(ctx, episode); err != nil {
		t.Fatalf("UpsertContent episode: %v", err)
	}

	movies, err := s.ListContent(ctx, store.ContentFilter{Kind: store.KindMovie})
	if err != nil {
		t.Fatalf("ListContent: %v", err)
	}
	if len(movies) != 1 || movies[0].ID != "tt0000010" {
		t.Errorf("kind filter = %+v", movies)
	}

	found, err := s.ListContent(ctx, store.ContentFilter{Search: "Beta"})
	if err != nil {
		t.Fatalf("ListContent search: %v", err)
	}
	if len(found) != 1 || found[0].ID != "tt0000011:1:2" {
		t.Errorf("search filter = %+v", found)
	}

	limited, err := s.ListContent(ctx, store.ContentFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListContent limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter len = %d", len(limited))
	}
}
