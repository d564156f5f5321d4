package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRegisterTaskRejectsDuplicateID(t *testing.T) {
	s, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	cfg := TaskConfig{
		ID:   "demo",
		Name: "Demo",
		Cron: "@every 1h",
		Func: func(ctx context.Context) error { return nil },
	}
	if err := s.RegisterTask(cfg); err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	if err := s.RegisterTask(cfg); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRunNowExecutesTask(t *testing.T) {
	s, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	var runs atomic.Int32
	err = s.RegisterTask(TaskConfig{
		ID:   "demo",
		Name: "Demo",
		Cron: "@every 1h",
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}

	if err := s.RunNow("demo"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow accepted unknown task")
	}
}

func TestStartRunsOnStartTasks(t *testing.T) {
	s, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	var runs atomic.Int32
	err = s.RegisterTask(TaskConfig{
		ID:         "startup",
		Name:       "Startup",
		Cron:       "@every 1h",
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("run-on-start task never executed")
	}

	infos := s.ListTasks()
	if len(infos) != 1 || infos[0].ID != "startup" {
		t.Errorf("ListTasks = %+v", infos)
	}
}
