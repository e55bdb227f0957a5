package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "txdecode",
		Usage: "Solana transaction decoding pipeline CLI",
		Description: `A command-line tool for decoding Solana transactions into enriched events.

Use this CLI to decode payloads, acquire raw transactions, reprocess stored transactions,
inspect database state and follow the published event stream.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			decodeCommand(),
			fetchCommand(),
			reprocessCommand(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listEventsCommand(),
					getTransactionCommand(),
					listDeadLettersCommand(),
					listPoolsCommand(),
					migrateCommand(),
				},
			},
			// Temporal schedule management
			{
				Name:  "temporal",
				Usage: "Temporal schedule management commands",
				Subcommands: []*cli.Command{
					upsertScheduleCommand(dialScheduler),
					deleteScheduleCommand(dialScheduler),
				},
			},
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server commands (HTTP API)
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					streamCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the reprocess worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "txdecode-reprocess",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "txdecode server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint, repeatable; endpoints are tried in order",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.StringFlag{
				Name:    "token-registry",
				Usage:   "Token behaviour registry JSON (embedded defaults when empty)",
				EnvVars: []string{"TOKEN_REGISTRY_PATH"},
			},
			&cli.StringFlag{
				Name:    "pool-registry",
				Usage:   "Pool registry JSON (stored pools are merged in when a database is configured)",
				EnvVars: []string{"POOL_REGISTRY_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
