package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/service/temporal"
)

// schedulerFactory opens a scheduler for a command. The returned func releases it.
type schedulerFactory func(c *cli.Context) (temporal.Scheduler, func(), error)

// dialScheduler connects to Temporal with the global flags.
func dialScheduler(c *cli.Context) (temporal.Scheduler, func(), error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
	if err != nil {
		return nil, nil, err
	}
	return tc, tc.Close, nil
}

func upsertScheduleCommand(open schedulerFactory) *cli.Command {
	return &cli.Command{
		Name:      "upsert-schedule",
		Usage:     "Create or update a recurring reprocess schedule",
		ArgsUsage: "<name>",
		Description: `Run a reprocess workflow on a fixed interval. The schedule id is "reprocess-<name>".
Overlapping runs are skipped.

Examples:
  txdecode temporal upsert-schedule --parser-version-below 2.3.0 --interval 1h upgrade
  txdecode temporal upsert-schedule --dead-letters --interval 15m retry-dead-letters`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "parser-version-below",
				Usage: "Transactions never processed or processed below this parser version",
			},
			&cli.BoolFlag{
				Name:  "dead-letters",
				Usage: "Transactions in the dead-letter store",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Every stored transaction",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions per run (0 means no limit)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Signatures per chunk",
			},
			&cli.DurationFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "How often the reprocess runs (e.g., 15m, 1h)",
				Required: true,
			},
		}, signatureFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule name")
			}
			name := c.Args().First()

			interval := c.Duration("interval")
			if interval < time.Minute {
				return fmt.Errorf("interval must be at least 1m, got %s", interval)
			}

			sel, err := selectorFromFlags(c)
			if err != nil {
				return err
			}

			scheduler, closer, err := open(c)
			if err != nil {
				return err
			}
			defer closer()

			input := temporal.ReprocessInput{
				Selector:  sel,
				ChunkSize: c.Int("batch-size"),
			}
			if err := scheduler.UpsertReprocessSchedule(c.Context, name, input, interval); err != nil {
				return fmt.Errorf("failed to upsert schedule: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, map[string]interface{}{
					"schedule": name,
					"interval": interval.String(),
					"selector": sel,
				})
			}
			fmt.Fprintf(stdout(c), "✓ Schedule %s runs every %s\n", name, interval)
			return nil
		},
	}
}

func deleteScheduleCommand(open schedulerFactory) *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a recurring reprocess schedule",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule name")
			}
			name := c.Args().First()

			scheduler, closer, err := open(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := scheduler.DeleteReprocessSchedule(c.Context, name); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(stdout(c), "✓ Schedule %s deleted\n", name)
			return nil
		},
	}
}
