package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrActiveJobExists is returned when a second in-flight job is created
	// for a content id that already has one.
	ErrActiveJobExists = errors.New("active download job already exists for content")
)

// Store provides database access for content records, download jobs and
// application settings.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New creates a new store.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// UpsertContent inserts the content record or refreshes its metadata if it
// already exists. On conflict the download state is reset for the new
// attempt: status takes the incoming value and progress drops back to zero.
// The content mirror tracks the latest job, not the best past attempt.
func (s *Store) UpsertContent(ctx context.Context, c *ContentRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, kind, title, year, series_key, season, episode, episode_title,
			status, progress_percent, quality_label, genre, poster_url, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			series_key = excluded.series_key,
			season = excluded.season,
			episode = excluded.episode,
			episode_title = excluded.episode_title,
			status = excluded.status,
			progress_percent = 0,
			quality_label = COALESCE(excluded.quality_label, content.quality_label),
			genre = COALESCE(excluded.genre, content.genre),
			poster_url = COALESCE(excluded.poster_url, content.poster_url),
			description = COALESCE(excluded.description, content.description),
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.Title, nullInt(c.Year), nullStr(c.SeriesKey), nullInt(c.Season),
		nullInt(c.Episode), nullStr(c.EpisodeTitle), c.Status, nullStr(c.QualityLabel),
		nullStr(c.Genre), nullStr(c.PosterURL), nullStr(c.Description), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}
	return nil
}

// GetContent returns the content record for id.
func (s *Store) GetContent(ctx context.Context, id string) (*ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, year, series_key, season, episode, episode_title,
			status, progress_percent, quality_label, relative_file_path, file_size_bytes,
			genre, poster_url, description, created_at, updated_at
		FROM content WHERE id = ?`, id)
	return scanContent(row)
}

// ListContent returns content records matching the filter, most recent first.
func (s *Store) ListContent(ctx context.Context, f ContentFilter) ([]*ContentRecord, error) {
	query := `
		SELECT id, kind, title, year, series_key, season, episode, episode_title,
			status, progress_percent, quality_label, relative_file_path, file_size_bytes,
			genre, poster_url, description, created_at, updated_at
		FROM content WHERE 1=1`
	var args []any

	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Search != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+f.Search+"%")
	}
	if f.Genre != "" {
		query += " AND genre LIKE ?"
		args = append(args, "%"+f.Genre+"%")
	}

	query += " ORDER BY updated_at DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	var records []*ContentRecord
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// ListCompletedEpisodes returns completed series episodes ordered by title,
// season and episode. A non-empty seriesKey scopes the result to one series;
// episodes recorded before the series key existed still match by title.
func (s *Store) ListCompletedEpisodes(ctx context.Context, seriesKey string) ([]*ContentRecord, error) {
	query := `
		SELECT id, kind, title, year, series_key, season, episode, episode_title,
			status, progress_percent, quality_label, relative_file_path, file_size_bytes,
			genre, poster_url, description, created_at, updated_at
		FROM content WHERE kind = ? AND status = ?`
	args := []any{KindSeries, StatusCompleted}

	if seriesKey != "" {
		query += " AND (series_key = ? OR title = ?)"
		args = append(args, seriesKey, seriesKey)
	}

	query += " ORDER BY title ASC, season ASC, episode ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var records []*ContentRecord
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// UpdateContentStatus sets the content status.
func (s *Store) UpdateContentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update content status: %w", err)
	}
	return requireRow(res)
}

// UpdateContentProgress mirrors download progress onto the content record.
// Percent never decreases within an attempt; UpsertContent zeroes it when a
// new attempt is accepted.
func (s *Store) UpdateContentProgress(ctx context.Context, id string, percent int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content SET progress_percent = MAX(progress_percent, ?), updated_at = ? WHERE id = ?`,
		percent, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update content progress: %w", err)
	}
	return nil
}

// SetContentFilePath records the planned relative file path. The path is set
// no later than the transition into downloading and kept afterwards.
func (s *Store) SetContentFilePath(ctx context.Context, id, relativePath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content SET relative_file_path = ?, updated_at = ? WHERE id = ?`,
		relativePath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set content file path: %w", err)
	}
	return nil
}

// CompleteContent marks the content completed with its final file size.
func (s *Store) CompleteContent(ctx context.Context, id string, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE content SET status = ?, progress_percent = 100, file_size_bytes = ?, updated_at = ?
		WHERE id = ?`,
		StatusCompleted, sizeBytes, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete content: %w", err)
	}
	return nil
}

// DeleteContent removes the content record. Jobs cascade.
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return requireRow(res)
}

// CreateJob inserts a new download job. The partial unique index on active
// jobs turns a concurrent second insert into ErrActiveJobExists.
func (s *Store) CreateJob(ctx context.Context, j *DownloadJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (id, content_id, source_locator, source_kind, status, progress_percent, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		j.ID, j.ContentID, j.SourceLocator, j.SourceKind, j.Status, j.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrActiveJobExists
		}
		return fmt.Errorf("failed to create download job: %w", err)
	}
	return nil
}

// GetJob returns the download job for id.
func (s *Store) GetJob(ctx context.Context, id string) (*DownloadJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// ActiveJobForContent returns the in-flight job for a content id, or
// ErrNotFound when none exists.
func (s *Store) ActiveJobForContent(ctx context.Context, contentID string) (*DownloadJob, error) {
	row := s.db.QueryRowContext(ctx,
		jobSelect+` WHERE content_id = ? AND status IN (?, ?, ?)`,
		contentID, StatusQueued, StatusProcessing, StatusDownloading)
	return scanJob(row)
}

// LatestJobForContent returns the most recently created job for a content id.
func (s *Store) LatestJobForContent(ctx context.Context, contentID string) (*DownloadJob, error) {
	row := s.db.QueryRowContext(ctx,
		jobSelect+` WHERE content_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, contentID)
	return scanJob(row)
}

// ListJobs returns jobs for a content id, newest first.
func (s *Store) ListJobs(ctx context.Context, contentID string) ([]*DownloadJob, error) {
	rows, err := s.db.QueryContext(ctx,
		jobSelect+` WHERE content_id = ? ORDER BY created_at DESC, id DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*DownloadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus transitions a job. Entering downloading stamps started_at
// once; terminal states stamp completed_at.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch status {
	case StatusDownloading:
		res, err = s.db.ExecContext(ctx,
			`UPDATE downloads SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			status, now, id)
	case StatusCompleted, StatusFailed:
		res, err = s.db.ExecContext(ctx,
			`UPDATE downloads SET status = ?, completed_at = ? WHERE id = ?`,
			status, now, id)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE downloads SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return requireRow(res)
}

// UpdateJobProgress persists a progress checkpoint. Percent never decreases.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, percent int, speedBytesPerSec int64, etaSeconds *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET progress_percent = MAX(progress_percent, ?), speed_bytes_per_sec = ?, eta_seconds = ?
		WHERE id = ?`,
		percent, speedBytesPerSec, nullInt64(etaSeconds), id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// CompleteJob marks a job completed.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, progress_percent = 100, completed_at = ? WHERE id = ?`,
		StatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireRow(res)
}

// FailJob marks a job failed with its error message.
func (s *Store) FailJob(ctx context.Context, id, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return requireRow(res)
}

// MarkStaleActiveJobsFailed fails every in-flight job and its content record.
// Used on startup: a job that was downloading when the process died cannot
// resume by itself.
func (s *Store) MarkStaleActiveJobsFailed(ctx context.Context, message string) (int64, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE content SET status = ?, updated_at = ?
		WHERE id IN (SELECT content_id FROM downloads WHERE status IN (?, ?, ?))`,
		StatusFailed, now, StatusQueued, StatusProcessing, StatusDownloading)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale content: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, error_message = ?, completed_at = ?
		WHERE status IN (?, ?, ?)`,
		StatusFailed, message, now, StatusQueued, StatusProcessing, StatusDownloading)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountCompletedByKind returns completed content counts per kind.
func (s *Store) CountCompletedByKind(ctx context.Context) (movies int, episodes int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM content WHERE status = ? GROUP BY kind`, StatusCompleted)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count content: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, err
		}
		switch kind {
		case KindMovie:
			movies = n
		case KindSeries:
			episodes = n
		}
	}
	return movies, episodes, rows.Err()
}

// GetSetting returns the value for key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

const jobSelect = `
	SELECT id, content_id, source_locator, source_kind, status, progress_percent,
		speed_bytes_per_sec, eta_seconds, error_message, started_at, completed_at, created_at
	FROM downloads`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*ContentRecord, error) {
	var c ContentRecord
	var year, season, episode sql.NullInt64
	var seriesKey, episodeTitle, quality, relPath, genre, poster, desc sql.NullString
	var size sql.NullInt64

	err := row.Scan(&c.ID, &c.Kind, &c.Title, &year, &seriesKey, &season, &episode,
		&episodeTitle, &c.Status, &c.ProgressPercent, &quality, &relPath, &size,
		&genre, &poster, &desc, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan content: %w", err)
	}

	c.Year = intPtr(year)
	c.Season = intPtr(season)
	c.Episode = intPtr(episode)
	c.SeriesKey = strPtr(seriesKey)
	c.EpisodeTitle = strPtr(episodeTitle)
	c.QualityLabel = strPtr(quality)
	c.RelativeFilePath = strPtr(relPath)
	c.Genre = strPtr(genre)
	c.PosterURL = strPtr(poster)
	c.Description = strPtr(desc)
	if size.Valid {
		c.FileSizeBytes = &size.Int64
	}
	return &c, nil
}

func scanJob(row rowScanner) (*DownloadJob, error) {
	var j DownloadJob
	var speed, eta sql.NullInt64
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.ContentID, &j.SourceLocator, &j.SourceKind, &j.Status,
		&j.ProgressPercent, &speed, &eta, &errMsg, &startedAt, &completedAt, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if speed.Valid {
		j.SpeedBytesPerSec = &speed.Int64
	}
	if eta.Valid {
		j.ETASeconds = &eta.Int64
	}
	j.ErrorMessage = strPtr(errMsg)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return &j, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
