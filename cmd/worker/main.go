package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/txdecode/service/batch"
	"github.com/brojonat/txdecode/service/config"
	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/metrics"
	natspkg "github.com/brojonat/txdecode/service/nats"
	"github.com/brojonat/txdecode/service/registry"
	"github.com/brojonat/txdecode/service/temporal"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	store := db.NewStore(dbPool).WithMetrics(metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	reg, err := loadRegistries(ctx, cfg, store)
	if err != nil {
		logger.Error("failed to load registries", "error", err)
		os.Exit(1)
	}
	dec, err := decoder.New(reg,
		decoder.WithLogger(logger),
		decoder.WithMetrics(metricsCollector),
	)
	if err != nil {
		logger.Error("failed to create decoder", "error", err)
		os.Exit(1)
	}
	logger.Info("decoder ready",
		"parser_version", decoder.ParserVersion,
		"pools", reg.Pools.Len(),
	)

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	opts := batch.DefaultOptions()
	opts.ChunkSize = cfg.BatchSize
	opts.Workers = cfg.BatchWorkers
	opts.Dumps = enrich.DumpDetector{
		NoiseFloor:       cfg.DumpNoiseFloor,
		MaterialityFloor: cfg.DumpMaterialityFloor,
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		Decoder:           dec,
		Publisher:         natsPublisher,
		Options:           opts,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker",
			"batch_size", opts.ChunkSize,
			"batch_workers", opts.Workers,
		)
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// loadRegistries reads the configured registry files and merges in the pools already
// discovered and stored.
func loadRegistries(ctx context.Context, cfg *config.Config, store *db.Store) (decoder.Registries, error) {
	tokens := registry.DefaultTokenBehaviors()
	if cfg.TokenRegistryPath != "" {
		var err error
		if tokens, err = registry.LoadTokenBehaviors(cfg.TokenRegistryPath); err != nil {
			return decoder.Registries{}, err
		}
	}

	pools, err := registry.LoadPools(cfg.PoolRegistryPath)
	if err != nil {
		return decoder.Registries{}, err
	}
	stored, err := store.ListPools(ctx)
	if err != nil {
		return decoder.Registries{}, fmt.Errorf("failed to load stored pools: %w", err)
	}
	if pools, err = pools.With(stored...); err != nil {
		return decoder.Registries{}, err
	}
	return decoder.Registries{Tokens: tokens, Pools: pools}, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
