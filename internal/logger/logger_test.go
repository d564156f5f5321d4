package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewWithFileOutput(t *testing.T) {
	dir := t.TempDir()

	l := New(Config{Level: "debug", Format: "json", Path: dir})
	defer l.Close()

	l.Info().Str("key", "value").Msg("hello")

	data, err := os.ReadFile(filepath.Join(dir, "offlinio.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestWithComponent(t *testing.T) {
	l := New(Config{Level: "info", Format: "json"})
	cl := l.WithComponent("engine")
	if cl == nil {
		t.Fatal("WithComponent returned nil")
	}
	cl.Info().Msg("component log")
}
