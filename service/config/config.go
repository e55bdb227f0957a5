package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana RPC configuration. Endpoints are tried in order.
	SolanaRPCURLs   []string
	RPCRequestDelay time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Registries. Empty paths use the embedded defaults.
	TokenRegistryPath string
	PoolRegistryPath  string

	// Batch processing
	BatchSize    int
	BatchWorkers int

	// Dump detection floors, in quote units
	DumpNoiseFloor       float64
	DumpMaterialityFloor float64
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS must name at least one endpoint"))
	}

	delay, err := parseDuration("RPC_REQUEST_DELAY", "600ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestDelay = delay
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "txdecode-reprocess")

	// Registries
	cfg.TokenRegistryPath = os.Getenv("TOKEN_REGISTRY_PATH")
	cfg.PoolRegistryPath = os.Getenv("POOL_REGISTRY_PATH")

	// Batch configuration
	batchSize, err := parseInt("BATCH_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BatchSize = batchSize
	}

	workers, err := parseInt("BATCH_WORKERS", 8)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BatchWorkers = workers
	}

	// Dump detection
	noise, err := parseFloat("DUMP_NOISE_FLOOR", 0.01)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DumpNoiseFloor = noise
	}

	materiality, err := parseFloat("DUMP_MATERIALITY_FLOOR", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DumpMaterialityFloor = materiality
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs must not be empty"))
	}

	if c.RPCRequestDelay < 0 {
		errs = append(errs, fmt.Errorf("RPCRequestDelay cannot be negative"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BatchSize must be at least 1"))
	}

	if c.BatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("BatchWorkers must be at least 1"))
	}

	if c.DumpNoiseFloor < 0 {
		errs = append(errs, fmt.Errorf("DumpNoiseFloor cannot be negative"))
	}

	if c.DumpMaterialityFloor < c.DumpNoiseFloor {
		errs = append(errs, fmt.Errorf("DumpMaterialityFloor (%v) cannot be below DumpNoiseFloor (%v)",
			c.DumpMaterialityFloor, c.DumpNoiseFloor))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
