package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/brojonat/txdecode/service/config"
	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/metrics"
	"github.com/brojonat/txdecode/service/registry"
	"github.com/brojonat/txdecode/service/server"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
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

	metricsCollector := metrics.NewMetrics(nil)
	store := db.NewStore(dbPool).WithMetrics(metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

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

	// The stream is optional; the API works without NATS.
	eventStream, err := server.NewEventStream(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to connect event stream, streaming disabled",
			"nats_url", cfg.NATSURL,
			"error", err,
		)
		eventStream = nil
	}

	httpServer := server.New(cfg.ServerAddr, store, dec, eventStream, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"parser_version", decoder.ParserVersion,
		"pools", reg.Pools.Len(),
		"nats_url", cfg.NATSURL,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// loadRegistries reads the configured registry files and merges in stored pools.
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
