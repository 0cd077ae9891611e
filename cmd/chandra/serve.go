package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chandra-edu/chandra/internal/config"
	"github.com/chandra-edu/chandra/internal/lessonmanager"
	"github.com/chandra-edu/chandra/internal/observability"
	"github.com/chandra-edu/chandra/internal/orchestrator"
	"github.com/chandra-edu/chandra/internal/script"
	"github.com/chandra-edu/chandra/internal/storage"
	goutils "github.com/jkaninda/go-utils"
	"go.opentelemetry.io/otel/trace"
)

var (
	serveConfigPath string
	serveLessonsDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lesson runtime (discovery, watcher, tick driver, ops endpoints)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `chandra --config path` and `chandra serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveLessonsDir, "lessons", "", "override lessons directory")
	}
}

// runServe wires the runtime together: storage, observability,
// orchestrator, lesson manager, file watcher, and the tick driver.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadOrDefault(goutils.Env("CHANDRA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveLessonsDir != "" {
		cfg.LessonsDir = serveLessonsDir
	}

	logger.Info("starting lesson runtime", slog.String("lessons_dir", cfg.LessonsPath()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (optional).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	var metrics *orchestrator.Metrics
	if reg := obs.MetricsRegistry(); reg != nil {
		metrics = orchestrator.NewMetrics(reg)
	}
	var tracer trace.Tracer
	if obs != nil && obs.Tracer != nil {
		tracer = obs.Tracer.Tracer()
	}

	orch := orchestrator.New(orchestrator.Config{
		TickInterval:      cfg.Engine.TickInterval(),
		EventLogCap:       cfg.Engine.EventLogCap,
		ErrorThreshold:    cfg.Engine.ErrorThreshold,
		MaxExecutionSteps: cfg.Engine.MaxExecutionSteps,
		StateHistoryCap:   cfg.Engine.StateHistoryCap,
	}, metrics, tracer, logger)

	// Event archive (optional).
	var archiver *storage.Archiver
	if cfg.Storage != nil && cfg.Storage.Enabled {
		store, err := storage.Open(storage.Config{
			Path:        cfg.ArchivePath(),
			JournalMode: cfg.Storage.JournalMode,
		}, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("database", store.Ping)
		}

		archiver = storage.NewArchiver(store, orch, cfg.Storage.FlushSchedule, logger)
		if err := archiver.Start(ctx); err != nil {
			return err
		}
		defer archiver.Stop(context.Background())
	}

	// Lesson discovery and hot reload.
	manager, err := lessonmanager.New(cfg.LessonsPath(), orch, logger)
	if err != nil {
		return err
	}
	res, err := manager.DiscoverAll(ctx)
	if err != nil {
		return err
	}
	if len(res.Loaded) == 0 && len(res.Failed) == 0 {
		// Empty directory: seed a starter lesson so there is something
		// to react to gestures out of the box.
		if err := manager.Create(ctx, "counting_fingers", "counting_fingers"); err != nil {
			logger.Warn("seeding starter lesson failed", slog.String("error", err.Error()))
		} else {
			logger.Info("seeded starter lesson", slog.String("lesson_id", "counting_fingers"))
		}
	}
	if err := manager.StartWatcher(ctx); err != nil {
		return err
	}
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("lesson_manager", manager.Health)
	}
	defer manager.Close(context.Background())
	defer orch.StopAll(context.Background())

	// Ops endpoints (optional).
	if cfg.Server != nil {
		srv := observability.NewServer(cfg.Server.ListenAddr(), metricsPath(cfg), obs, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("ops server exited", slog.String("error", err.Error()))
			}
		}()
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	// Tick driver. Sessions left in the loaded phase (fresh discovery
	// or a hot reload) are started here so serve mode keeps lessons
	// live without an external controller.
	ticker := time.NewTicker(cfg.Engine.TickInterval())
	defer ticker.Stop()

	logger.Info("lesson runtime ready",
		slog.Int("lessons", len(res.Loaded)),
		slog.String("tick_interval", cfg.Engine.TickInterval().String()),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			startLoaded(ctx, orch)
			orch.Tick(ctx)
		}
	}
}

// startLoaded starts every session still in the loaded phase.
func startLoaded(ctx context.Context, orch *orchestrator.Orchestrator) {
	for _, id := range orch.Lessons() {
		if info, ok := orch.SessionInfo(id); ok && info.Phase == script.PhaseLoaded.String() {
			orch.Start(ctx, id)
		}
	}
}

func metricsPath(cfg *config.Config) string {
	if cfg.Observability != nil {
		return cfg.Observability.Metrics.MetricsPath()
	}
	return "/metrics"
}
