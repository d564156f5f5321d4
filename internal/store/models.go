// Package store persists content records and download jobs.
package store

import "time"

// Status values shared by content records and download jobs.
const (
	StatusQueued      = "queued"
	StatusProcessing  = "processing"
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Content kinds.
const (
	KindMovie  = "movie"
	KindSeries = "series"
)

// Source kinds for a download job.
const (
	SourceMagnet = "magnet"
	SourceDirect = "direct"
)

// ContentRecord is one entry per piece of downloadable media, keyed by the
// catalog content identifier ("tt1234567" or "tt1234567:1:2").
type ContentRecord struct {
	ID               string
	Kind             string
	Title            string
	Year             *int
	SeriesKey        *string
	Season           *int
	Episode          *int
	EpisodeTitle     *string
	Status           string
	ProgressPercent  int
	QualityLabel     *string
	RelativeFilePath *string
	FileSizeBytes    *int64
	Genre            *string
	PosterURL        *string
	Description      *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsEpisode reports whether the record refers to a single series episode.
func (c *ContentRecord) IsEpisode() bool {
	return c.Kind == KindSeries
}

// DownloadJob is one entry per download attempt. A content record may
// accumulate multiple jobs across retries.
type DownloadJob struct {
	ID              string
	ContentID       string
	SourceLocator   string
	SourceKind      string
	Status          string
	ProgressPercent int
	SpeedBytesPerSec *int64
	ETASeconds      *int64
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// IsActive reports whether the job is still in flight.
func (j *DownloadJob) IsActive() bool {
	switch j.Status {
	case StatusQueued, StatusProcessing, StatusDownloading:
		return true
	}
	return false
}

// ContentFilter narrows ListContent results.
type ContentFilter struct {
	Kind   string
	Status string
	Search string
	Genre  string
	Limit  int
	Offset int
}
