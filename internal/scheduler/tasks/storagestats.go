package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/scheduler"
	"github.com/offlinio/offlinio/internal/storage"
	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/websocket"
)

// StorageStatsTask periodically pushes disk usage to connected clients.
type StorageStatsTask struct {
	storage *storage.Service
	store   *store.Store
	hub     *websocket.Hub
	logger  zerolog.Logger
}

// NewStorageStatsTask creates the storage stats broadcast task.
func NewStorageStatsTask(sto *storage.Service, st *store.Store, hub *websocket.Hub, logger zerolog.Logger) *StorageStatsTask {
	return &StorageStatsTask{
		storage: sto,
		store:   st,
		hub:     hub,
		logger:  logger.With().Str("task", "storage-stats").Logger(),
	}
}

// Run collects usage statistics and broadcasts them.
func (t *StorageStatsTask) Run(ctx context.Context) error {
	stats, err := t.storage.Stats()
	if err != nil {
		return err
	}

	movies, episodes, err := t.store.CountCompletedByKind(ctx)
	if err != nil {
		return err
	}

	return t.hub.Broadcast(websocket.EventStorageStats, map[string]any{
		"storageRoot":    t.storage.Root(),
		"totalFiles":     stats.TotalFiles,
		"totalSizeBytes": stats.TotalSizeBytes,
		"totalMovies":    movies,
		"totalEpisodes":  episodes,
	})
}

// RegisterStorageStatsTask registers the hourly stats broadcast.
func RegisterStorageStatsTask(sched *scheduler.Scheduler, sto *storage.Service, st *store.Store, hub *websocket.Hub, logger zerolog.Logger) error {
	task := NewStorageStatsTask(sto, st, hub, logger)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "storage-stats",
		Name:        "Storage Stats Broadcast",
		Description: "Publishes disk usage to connected clients",
		Cron:        "@every 1h",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
