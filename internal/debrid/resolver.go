package debrid

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend is the subset of the client API the resolver drives. Narrowed to
// an interface so tests can substitute a fake.
type Backend interface {
	AddMagnet(ctx context.Context, magnetURI string) (*AddedTorrent, error)
	GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error)
	SelectFiles(ctx context.Context, torrentID string, fileIDs []int) error
	Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error)
}

// ResolvedDownload is the successful outcome of a resolution attempt.
type ResolvedDownload struct {
	DirectURL     string
	Filename      string
	FilesizeBytes int64
	TorrentID     string
}

// SleepFunc waits for d or until ctx is done. Injectable so tests can
// simulate the polling clock.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ResolverConfig tunes the resolution state machine.
type ResolverConfig struct {
	// VideoExtensions qualify files for selection, without leading dot.
	VideoExtensions []string
	PollInterval    time.Duration
	PollAttempts    int
}

// Resolver turns a magnet URI into a direct download URL: submit, select
// files when asked, poll until cached, unrestrict. Every failure is terminal
// for the attempt.
type Resolver struct {
	backend Backend
	cfg     ResolverConfig
	sleep   SleepFunc
	logger  zerolog.Logger
}

// NewResolver creates a resolver over the given backend.
func NewResolver(backend Backend, cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	if len(cfg.VideoExtensions) == 0 {
		cfg.VideoExtensions = []string{"mkv", "mp4", "avi"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 40
	}
	return &Resolver{
		backend: backend,
		cfg:     cfg,
		sleep:   defaultSleep,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// SetSleep replaces the polling sleep function.
func (r *Resolver) SetSleep(sleep SleepFunc) {
	r.sleep = sleep
}

// Resolve runs one resolution attempt. On failure the returned error is
// always a *ResolveError.
func (r *Resolver) Resolve(ctx context.Context, magnetURI string) (*ResolvedDownload, error) {
	added, err := r.backend.AddMagnet(ctx, magnetURI)
	if err != nil {
		return nil, classify(err, "failed to submit magnet")
	}
	log := r.logger.With().Str("torrentId", added.ID).Logger()

	info, err := r.backend.GetTorrentInfo(ctx, added.ID)
	if err != nil {
		return nil, classify(err, "failed to fetch torrent info")
	}

	if info.Status == StatusWaitingSelection {
		if err := r.selectLargestFile(ctx, info); err != nil {
			return nil, err
		}
	}

	info, rerr := r.pollUntilDownloaded(ctx, added.ID, info)
	if rerr != nil {
		return nil, rerr
	}

	unrestricted, err := r.backend.Unrestrict(ctx, info.Links[0])
	if err != nil {
		return nil, resolveErr(KindUnrestrictFailed, "failed to unrestrict link", err)
	}

	log.Info().Str("filename", unrestricted.Filename).Int64("size", unrestricted.Filesize).Msg("magnet resolved")
	return &ResolvedDownload{
		DirectURL:     unrestricted.Download,
		Filename:      unrestricted.Filename,
		FilesizeBytes: unrestricted.Filesize,
		TorrentID:     added.ID,
	}, nil
}

// selectLargestFile applies the largest-qualifying-file policy: among files
// with a playable video extension, exactly the largest one is selected.
func (r *Resolver) selectLargestFile(ctx context.Context, info *TorrentInfo) error {
	qualifying := make([]TorrentFile, 0, len(info.Files))
	for _, f := range info.Files {
		if r.isVideoFile(f.Path) {
			qualifying = append(qualifying, f)
		}
	}
	if len(qualifying) == 0 {
		return resolveErr(KindNoPlayableFile, "torrent contains no playable video file", nil)
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].Bytes > qualifying[j].Bytes
	})

	chosen := qualifying[0]
	r.logger.Debug().Str("torrentId", info.ID).Str("file", chosen.Path).Int64("bytes", chosen.Bytes).Msg("selected largest video file")

	if err := r.backend.SelectFiles(ctx, info.ID, []int{chosen.ID}); err != nil {
		return classify(err, "failed to select files")
	}
	return nil
}

// pollUntilDownloaded polls torrent status at a fixed interval until the
// backend reports downloaded with a result link. Terminal statuses fail
// immediately; exhausting the attempt budget is a timeout.
func (r *Resolver) pollUntilDownloaded(ctx context.Context, torrentID string, info *TorrentInfo) (*TorrentInfo, *ResolveError) {
	for attempt := 0; attempt < r.cfg.PollAttempts; attempt++ {
		if info != nil {
			switch info.Status {
			case StatusDownloaded:
				if len(info.Links) > 0 {
					return info, nil
				}
			case StatusMagnetError, StatusError, StatusVirus, StatusDead:
				return nil, resolveErr(KindBackendUnavailable,
					fmt.Sprintf("torrent failed with status %q", info.Status), nil)
			}
			r.logger.Debug().Str("torrentId", torrentID).Str("status", info.Status).
				Float64("progress", info.Progress).Int("attempt", attempt).Msg("torrent not ready")
		}

		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return nil, resolveErr(KindBackendUnavailable, "resolution cancelled", err)
		}

		next, err := r.backend.GetTorrentInfo(ctx, torrentID)
		if err != nil {
			rerr := classify(err, "failed to poll torrent status")
			return nil, rerr
		}
		info = next
	}

	return nil, resolveErr(KindTimeout,
		fmt.Sprintf("torrent not cached after %d polls", r.cfg.PollAttempts), nil)
}

func (r *Resolver) isVideoFile(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, allowed := range r.cfg.VideoExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// classify maps a transport error onto the resolution taxonomy. Credential
// rejections become auth_invalid, everything else backend_unavailable.
func classify(err error, message string) *ResolveError {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsAuthError() {
		return resolveErr(KindAuthInvalid, message, err)
	}
	return resolveErr(KindBackendUnavailable, message, err)
}
