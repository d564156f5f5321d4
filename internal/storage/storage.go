// Package storage owns the local media root: path resolution, file
// existence checks, deletion and usage statistics.
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// Stats describes disk usage under the media root.
type Stats struct {
	TotalFiles     int   `json:"totalFiles"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
}

// Service manages the media storage root.
type Service struct {
	root   string
	logger zerolog.Logger
}

// ResolveRoot picks the storage root: the configured directory when set,
// otherwise a per-OS default under the user's home directory.
func ResolveRoot(configured string) (string, error) {
	if configured != "" {
		return filepath.Clean(configured), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Movies", "Offlinio"), nil
	default:
		return filepath.Join(home, "Videos", "Offlinio"), nil
	}
}

// New creates the storage service and ensures the root directory exists.
func New(root string, logger zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Service{
		root:   root,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Root returns the absolute storage root.
func (s *Service) Root() string {
	return s.root
}

// AbsolutePath resolves a relative media path under the root. Paths that
// escape the root are rejected.
func (s *Service) AbsolutePath(relativePath string) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(relativePath))
	abs = filepath.Clean(abs)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes storage root", relativePath)
	}
	return abs, nil
}

// EnsureParentDir creates the parent directory of an absolute file path.
func (s *Service) EnsureParentDir(absolutePath string) error {
	if err := os.MkdirAll(filepath.Dir(absolutePath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	return nil
}

// FileSize returns the size of a stored file, or an error when it does not
// exist.
func (s *Service) FileSize(relativePath string) (int64, error) {
	abs, err := s.AbsolutePath(relativePath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether a stored file is present on disk.
func (s *Service) Exists(relativePath string) bool {
	_, err := s.FileSize(relativePath)
	return err == nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *Service) Delete(relativePath string) error {
	abs, err := s.AbsolutePath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	s.logger.Debug().Str("path", relativePath).Msg("deleted stored file")
	return nil
}

// Stats walks the root and sums stored files.
func (s *Service) Stats() (*Stats, error) {
	stats := &Stats{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalFiles++
		stats.TotalSizeBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage root: %w", err)
	}
	return stats, nil
}
