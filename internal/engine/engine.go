// Package engine performs the actual byte transfer of a download: streaming
// HTTP fetch, buffered disk writes, throttled progress accounting and
// partial-file cleanup.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	writeBufferSize = 1 << 20 // 1MiB
	readChunkSize   = 64 << 10

	// Partial files above this size are kept on failure for a future
	// resume; smaller ones are deleted.
	keepPartialThreshold = 1 << 20

	progressPercentStep = 10
	progressMinInterval = 10 * time.Second
)

// DownloadErrorKind classifies a failed transfer.
type DownloadErrorKind string

const (
	// KindFetchFailed covers request errors and non-2xx responses before
	// any bytes were streamed.
	KindFetchFailed DownloadErrorKind = "fetch_failed"
	// KindTransferError covers read or write failures mid-stream.
	KindTransferError DownloadErrorKind = "transfer_error"
)

// DownloadError is the terminal outcome of a failed transfer.
type DownloadError struct {
	Kind       DownloadErrorKind
	HTTPStatus int
	Cause      error
}

func (e *DownloadError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: http status %d", e.Kind, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// Completion is the successful outcome of a transfer.
type Completion struct {
	FinalSizeBytes int64
}

// Progress is one throttled progress emission.
type Progress struct {
	Percent          int
	SpeedBytesPerSec int64
	// ETASeconds is nil while speed is zero or total size is unknown.
	ETASeconds *int64
}

// ProgressFunc receives throttled progress updates during a transfer.
type ProgressFunc func(Progress)

// Engine downloads direct URLs to disk. It carries no overall timeout: large
// files may take arbitrarily long, stalls are caught by the transport's
// connect and response header timeouts.
type Engine struct {
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a download engine.
func New(logger zerolog.Logger) *Engine {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Engine{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With().Str("component", "engine").Logger(),
		now:        time.Now,
	}
}

// Download streams sourceURL to destinationPath, emitting throttled progress
// callbacks. On failure the returned error is always a *DownloadError and
// the partial-file cleanup policy has already run.
func (e *Engine) Download(ctx context.Context, jobID, sourceURL, destinationPath string, onProgress ProgressFunc) (*Completion, error) {
	log := e.logger.With().Str("jobId", jobID).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindFetchFailed, Cause: err})
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindFetchFailed, Cause: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindFetchFailed, HTTPStatus: resp.StatusCode})
	}

	totalBytes := resp.ContentLength
	if totalBytes < 0 {
		totalBytes = 0
	}

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
	}
	file, err := os.Create(destinationPath)
	if err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
	}

	log.Info().Str("url", sourceURL).Int64("totalBytes", totalBytes).Msg("transfer started")

	writer := bufio.NewWriterSize(file, writeBufferSize)
	tracker := newProgressTracker(e.now, totalBytes, onProgress)
	buf := make([]byte, readChunkSize)
	var downloaded int64

	for {
		// Pause and shutdown are cooperative: the context is checked
		// between chunks.
		if err := ctx.Err(); err != nil {
			file.Close()
			return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				file.Close()
				return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: writeErr})
			}
			downloaded += int64(n)
			tracker.update(downloaded)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			file.Close()
			return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: readErr})
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
	}
	if err := file.Close(); err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
	}

	info, err := os.Stat(destinationPath)
	if err != nil {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: err})
	}
	if info.Size() == 0 {
		return nil, e.fail(destinationPath, &DownloadError{Kind: KindTransferError, Cause: errors.New("downloaded file is empty")})
	}

	tracker.complete(downloaded)

	log.Info().Int64("bytes", info.Size()).Msg("transfer completed")
	return &Completion{FinalSizeBytes: info.Size()}, nil
}

// fail applies the cleanup policy and passes the error through. Partial
// files above the keep threshold stay on disk, smaller ones are removed.
// Runs on every failure path; a missing file makes deletion a no-op.
func (e *Engine) fail(destinationPath string, derr *DownloadError) *DownloadError {
	info, err := os.Stat(destinationPath)
	if err == nil {
		if info.Size() > keepPartialThreshold {
			e.logger.Debug().Str("path", destinationPath).Int64("bytes", info.Size()).Msg("keeping partial file")
		} else if rmErr := os.Remove(destinationPath); rmErr != nil {
			e.logger.Warn().Err(rmErr).Str("path", destinationPath).Msg("failed to remove partial file")
		}
	}
	return derr
}

// progressTracker throttles and monotonizes progress emissions. An emission
// happens on a >=10 percentage point jump, after 10 seconds of silence, or
// on reaching 100 percent.
type progressTracker struct {
	now         func() time.Time
	totalBytes  int64
	onProgress  ProgressFunc
	startedAt   time.Time
	lastEmitAt  time.Time
	lastPercent int
	emitted100  bool
}

func newProgressTracker(now func() time.Time, totalBytes int64, onProgress ProgressFunc) *progressTracker {
	start := now()
	return &progressTracker{
		now:         now,
		totalBytes:  totalBytes,
		onProgress:  onProgress,
		startedAt:   start,
		lastEmitAt:  start,
		lastPercent: -1,
	}
}

func (t *progressTracker) update(downloaded int64) {
	if t.onProgress == nil {
		return
	}

	percent := t.percent(downloaded)
	nowT := t.now()

	jumped := t.lastPercent < 0 || percent-t.lastPercent >= progressPercentStep
	stale := nowT.Sub(t.lastEmitAt) >= progressMinInterval
	finished := percent == 100 && !t.emitted100

	if !jumped && !stale && !finished {
		return
	}
	t.emit(downloaded, percent, nowT)
}

// complete forces a terminal 100 percent emission, covering transfers with
// unknown total size.
func (t *progressTracker) complete(downloaded int64) {
	if t.onProgress == nil || t.emitted100 {
		return
	}
	t.totalBytes = downloaded
	t.emit(downloaded, 100, t.now())
}

func (t *progressTracker) emit(downloaded int64, percent int, nowT time.Time) {
	// Guard against a rounding blip reporting less than already emitted.
	if percent < t.lastPercent {
		percent = t.lastPercent
	}

	elapsed := nowT.Sub(t.startedAt).Seconds()
	var speed int64
	if elapsed > 0 {
		speed = int64(float64(downloaded) / elapsed)
	}

	var eta *int64
	if speed > 0 && t.totalBytes > 0 && downloaded < t.totalBytes {
		remaining := t.totalBytes - downloaded
		v := int64(math.Round(float64(remaining) / float64(speed)))
		eta = &v
	}

	t.onProgress(Progress{Percent: percent, SpeedBytesPerSec: speed, ETASeconds: eta})
	t.lastEmitAt = nowT
	t.lastPercent = percent
	if percent == 100 {
		t.emitted100 = true
	}
}

func (t *progressTracker) percent(downloaded int64) int {
	if t.totalBytes <= 0 {
		return 0
	}
	return int(math.Round(float64(downloaded) / float64(t.totalBytes) * 100))
}
