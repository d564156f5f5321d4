// Package tasks wires the recurring background jobs into the scheduler.
package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/scheduler"
	"github.com/offlinio/offlinio/internal/store"
)

// StaleJobsTask fails download jobs left in flight by a previous process.
// A job that was queued or transferring when the process died cannot resume
// by itself; marking it failed lets the user retry.
type StaleJobsTask struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewStaleJobsTask creates the stale job sweep task.
func NewStaleJobsTask(st *store.Store, logger zerolog.Logger) *StaleJobsTask {
	return &StaleJobsTask{
		store:  st,
		logger: logger.With().Str("task", "stale-jobs").Logger(),
	}
}

// Run sweeps in-flight jobs into the failed state.
func (t *StaleJobsTask) Run(ctx context.Context) error {
	count, err := t.store.MarkStaleActiveJobsFailed(ctx, "interrupted by restart")
	if err != nil {
		return err
	}
	if count > 0 {
		t.logger.Warn().Int64("count", count).Msg("failed stale download jobs")
	}
	return nil
}

// RegisterStaleJobsTask registers the sweep to run once at startup.
func RegisterStaleJobsTask(sched *scheduler.Scheduler, st *store.Store, logger zerolog.Logger) error {
	task := NewStaleJobsTask(st, logger)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "stale-jobs",
		Name:        "Stale Job Sweep",
		Description: "Fails download jobs left in flight by a previous process",
		Cron:        "@every 24h",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
