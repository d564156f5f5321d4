package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestResolveRootConfigured(t *testing.T) {
	got, err := ResolveRoot("/media/downloads")
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	if got != filepath.Clean("/media/downloads") {
		t.Errorf("ResolveRoot = %q", got)
	}
}

func TestResolveRootDefault(t *testing.T) {
	got, err := ResolveRoot("")
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	home, _ := os.UserHomeDir()
	if !filepath.IsAbs(got) || got == home {
		t.Errorf("default root = %q", got)
	}
}

func TestAbsolutePathRejectsTraversal(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AbsolutePath("../outside.mkv"); err == nil {
		t.Error("expected traversal rejection")
	}
	if _, err := s.AbsolutePath("Movies/../../outside.mkv"); err == nil {
		t.Error("expected nested traversal rejection")
	}
	if _, err := s.AbsolutePath("Movies/Inside (2024).mkv"); err != nil {
		t.Errorf("legitimate path rejected: %v", err)
	}
}

func TestFileLifecycle(t *testing.T) {
	s := newTestService(t)

	rel := "Movies/Test (2024).mkv"
	abs, err := s.AbsolutePath(rel)
	if err != nil {
		t.Fatalf("AbsolutePath: %v", err)
	}
	if err := s.EnsureParentDir(abs); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if err := os.WriteFile(abs, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !s.Exists(rel) {
		t.Error("Exists = false after write")
	}
	size, err := s.FileSize(rel)
	if err != nil || size != 4 {
		t.Errorf("FileSize = %d, %v", size, err)
	}

	if err := s.Delete(rel); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(rel) {
		t.Error("Exists = true after delete")
	}
	// Deleting again is not an error.
	if err := s.Delete(rel); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestService(t)

	paths := map[string]int{
		"Movies/A (2020).mkv":                 100,
		"Series/Show/Season 1/Show S01E01.mp4": 250,
	}
	for rel, size := range paths {
		abs, err := s.AbsolutePath(rel)
		if err != nil {
			t.Fatalf("AbsolutePath: %v", err)
		}
		if err := s.EnsureParentDir(abs); err != nil {
			t.Fatalf("EnsureParentDir: %v", err)
		}
		if err := os.WriteFile(abs, make([]byte, size), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d", stats.TotalFiles)
	}
	if stats.TotalSizeBytes != 350 {
		t.Errorf("TotalSizeBytes = %d", stats.TotalSizeBytes)
	}
}
