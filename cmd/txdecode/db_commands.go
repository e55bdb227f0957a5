package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/registry"
)

// eventStore is the read side of the store the db commands use. *db.Store satisfies it.
type eventStore interface {
	GetRaw(ctx context.Context, signature string) (*db.RawTransaction, error)
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.StoredEvent, error)
	ListDeadLetters(ctx context.Context, reason string, limit int) ([]decoder.DeadLetter, error)
	ListPools(ctx context.Context) ([]registry.Pool, error)
}

// storeOpener opens the store for a command; tests substitute it.
var storeOpener = func(c *cli.Context) (eventStore, func(), error) {
	return getStore(c)
}

func listEventsCommand() *cli.Command {
	return &cli.Command{
		Name:    "events",
		Usage:   "List decoded events",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Only events of this transaction",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Filter by event type (SWAP, TRANSFER, LIQUIDITY, ACCOUNT_MANAGEMENT, UNKNOWN)",
			},
			&cli.StringFlag{
				Name:  "qc-status",
				Usage: "Filter by QC status (success, partial, error)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of events",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := storeOpener(c)
			if err != nil {
				return err
			}
			defer closer()

			events, err := store.ListEvents(c.Context, db.EventFilter{
				Signature: c.String("signature"),
				EventType: strings.ToUpper(c.String("type")),
				QCStatus:  strings.ToLower(c.String("qc-status")),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, events)
			}

			w := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EVENT ID\tTYPE\tPROTOCOL\tQC\tPARSER\tBLOCK TIME")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.EventID,
					ev.EventType,
					ev.Protocol,
					ev.QCStatus,
					ev.ParserVersion,
					formatOptionalTime(ev.BlockTime),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d events\n", len(events))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "transaction",
		Usage:     "Show a stored transaction and its events",
		Aliases:   []string{"tx"},
		ArgsUsage: "<signature>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Include the raw payload (JSON output only)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			signature := c.Args().First()

			store, closer, err := storeOpener(c)
			if err != nil {
				return err
			}
			defer closer()

			raw, err := store.GetRaw(c.Context, signature)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			events, err := store.ListEvents(c.Context, db.EventFilter{Signature: signature})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			if c.Bool("json") {
				if !c.Bool("raw") {
					raw.RawJSON = nil
				}
				return outputJSON(c, map[string]interface{}{
					"transaction": raw,
					"events":      events,
				})
			}

			out := stdout(c)
			parser := "(unprocessed)"
			if raw.ParserVersion != nil {
				parser = *raw.ParserVersion
			}
			fmt.Fprintf(out, "Signature:      %s\n", raw.Signature)
			fmt.Fprintf(out, "Slot:           %d\n", raw.Slot)
			fmt.Fprintf(out, "Block Time:     %s\n", formatOptionalTime(raw.BlockTime))
			fmt.Fprintf(out, "Parser Version: %s\n", parser)
			fmt.Fprintf(out, "Processed:      %s\n", formatOptionalTime(raw.ProcessedAt))
			fmt.Fprintf(out, "Fetched:        %s\n", raw.FetchedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Events:         %d\n", len(events))
			for _, ev := range events {
				fmt.Fprintf(out, "  %s  %s/%s  %s\n", ev.EventID, ev.EventType, ev.Protocol, ev.QCStatus)
			}
			return nil
		},
	}
}

func listDeadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:    "dead-letters",
		Usage:   "List dead-lettered transactions",
		Aliases: []string{"dl"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "reason",
				Aliases: []string{"r"},
				Usage:   "Filter by reason (normalization_error, fetch_error, storage_error, unknown_error)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of dead letters",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := storeOpener(c)
			if err != nil {
				return err
			}
			defer closer()

			letters, err := store.ListDeadLetters(c.Context, c.String("reason"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, letters)
			}

			w := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
			for _, dl := range letters {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					dl.Signature,
					dl.Reason,
					dl.Attempts,
					dl.FailedAt.Format(time.RFC3339),
					truncate(dl.Error, 80),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d dead letters\n", len(letters))
			return nil
		},
	}
}

func listPoolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "pools",
		Usage: "List discovered liquidity pools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dex",
				Usage: "Filter by DEX name",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := storeOpener(c)
			if err != nil {
				return err
			}
			defer closer()

			pools, err := store.ListPools(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list pools: %w", err)
			}

			if dex := c.String("dex"); dex != "" {
				filtered := make([]registry.Pool, 0, len(pools))
				for _, p := range pools {
					if strings.EqualFold(p.DEX, dex) {
						filtered = append(filtered, p)
					}
				}
				pools = filtered
			}

			if c.Bool("json") {
				return outputJSON(c, pools)
			}

			w := tabwriter.NewWriter(stdout(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POOL\tDEX\tMINT A\tMINT B\tUPDATED")
			for _, p := range pools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.Address,
					p.DEX,
					p.MintA,
					p.MintB,
					p.LastUpdated.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d pools\n", len(pools))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(stdout(c), "✓ Schema is up to date")
			return nil
		},
	}
}

// Helper function to format an optional timestamp
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
