package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/offlinio/offlinio/internal/api"
	"github.com/offlinio/offlinio/internal/config"
	"github.com/offlinio/offlinio/internal/database"
	"github.com/offlinio/offlinio/internal/debrid"
	"github.com/offlinio/offlinio/internal/engine"
	"github.com/offlinio/offlinio/internal/logger"
	"github.com/offlinio/offlinio/internal/notification"
	"github.com/offlinio/offlinio/internal/orchestrator"
	"github.com/offlinio/offlinio/internal/scheduler"
	"github.com/offlinio/offlinio/internal/scheduler/tasks"
	"github.com/offlinio/offlinio/internal/source"
	"github.com/offlinio/offlinio/internal/startup"
	"github.com/offlinio/offlinio/internal/storage"
	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Optional .env file for local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting Offlinio")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	st := store.New(db.Conn(), log.Logger)

	storageRoot, err := storage.ResolveRoot(cfg.Storage.Root)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve storage root")
	}
	sto, err := storage.New(storageRoot, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	log.Info().Str("root", storageRoot).Msg("storage initialized")

	hub := websocket.NewHub()
	go hub.Run()

	debridClient := debrid.NewClient(cfg.Debrid.APIToken, cfg.Debrid.BaseURL, cfg.Debrid.RequestTimeout, log.Logger)
	resolver := debrid.NewResolver(debridClient, debrid.ResolverConfig{
		VideoExtensions: cfg.Debrid.VideoExtensions,
		PollInterval:    cfg.Debrid.PollInterval,
		PollAttempts:    cfg.Debrid.PollAttempts,
	}, log.Logger)

	downloadEngine := engine.New(log.Logger)
	ranker := source.NewRanker(log.Logger)
	comet := source.NewCometClient(cfg.Source.AggregatorURL, cfg.Source.RequestTimeout, log.Logger)

	probeCtx, probeCancel := context.WithCancel(context.Background())
	defer probeCancel()
	go func() {
		err := startup.WithRetry(probeCtx, "source aggregator probe", startup.DefaultRetryConfig(), func() error {
			return comet.Ping(probeCtx)
		}, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("source aggregator unreachable, automatic downloads may fail")
		}
	}()

	orchCfg := orchestrator.Config{PreferredQualities: cfg.Source.PreferredQualities}
	if value, err := st.GetSetting(context.Background(), "max_concurrent_downloads"); err == nil {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			orchCfg.MaxConcurrent = n
		}
	}

	orch := orchestrator.New(st, sto, resolver, downloadEngine, ranker, orchCfg, log.Logger)
	orch.SetDiscovery(comet)
	orch.SetBroadcaster(hub)

	notifier := notification.NewService(log.Logger)
	if cfg.Notifications.WebhookURL != "" {
		notifier.Register(notification.NewWebhookNotifier(notification.WebhookSettings{
			URL: cfg.Notifications.WebhookURL,
		}, nil, log.Logger))
		log.Info().Msg("webhook notifications enabled")
	}
	orch.SetNotifier(notifier)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := tasks.RegisterStaleJobsTask(sched, st, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register stale job sweep")
	}
	if err := tasks.RegisterStorageStatsTask(sched, sto, st, hub, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register storage stats task")
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	server := api.NewServer(st, sto, orch, hub, cfg, log.Logger)

	go func() {
		addr := cfg.Server.Address()
		log.Info().Str("address", addr).Msg("HTTP server listening")
		if err := server.Start(addr); err != nil {
			log.Info().Msg("server stopped")
		}
	}()

	log.Info().
		Str("manifest", "http://"+cfg.Server.Address()+"/manifest.json").
		Msg("addon manifest available")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	// Cancel in-flight pipelines and let them persist their final state.
	orch.Shutdown()

	log.Info().Msg("server stopped")
}
