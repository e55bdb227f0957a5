package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/service/batch"
	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder/enrich"
	natspkg "github.com/brojonat/txdecode/service/nats"
	"github.com/brojonat/txdecode/service/solana"
	"github.com/brojonat/txdecode/service/temporal"
)

func signatureFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "signatures",
			Aliases: []string{"s"},
			Usage:   "Transaction signatures, repeatable or comma separated",
		},
		&cli.StringFlag{
			Name:  "signatures-file",
			Usage: "File with one signature per line (blank lines and # comments are skipped)",
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch raw transactions from Solana RPC into the database",
		Description: `Acquire getTransaction payloads and store them as raw transactions.
Signatures already stored are skipped unless --refetch is set. Fetch failures are
dead-lettered with reason fetch_error.

Examples:
  txdecode fetch --signatures SIG1,SIG2
  txdecode fetch --address 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 --limit 200`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Fetch the latest signatures touching this address",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of address signatures to fetch (max 1000)",
				Value:   100,
			},
			&cli.StringFlag{
				Name:  "before",
				Usage: "Only address signatures older than this one",
			},
			&cli.BoolFlag{
				Name:  "refetch",
				Usage: "Fetch signatures that are already stored",
			},
			&cli.DurationFlag{
				Name:    "rpc-delay",
				Usage:   "Pause before each getTransaction call",
				EnvVars: []string{"RPC_REQUEST_DELAY"},
				Value:   600 * time.Millisecond,
			},
		}, signatureFlags()...),
		Action: func(c *cli.Context) error {
			logger := newLogger(c)

			urls := c.StringSlice("rpc-url")
			if len(urls) == 0 {
				return fmt.Errorf("at least one --rpc-url is required")
			}
			fetcher := solana.NewClient(solana.NewEndpoints(urls), c.Duration("rpc-delay"), nil, logger)

			sigs, err := readSignatures(c)
			if err != nil {
				return err
			}
			if address := c.String("address"); address != "" {
				found, err := fetcher.SignaturesForAddress(c.Context, address, c.Int("limit"), c.String("before"))
				if err != nil {
					return err
				}
				sigs = append(sigs, found...)
			}
			if len(sigs) == 0 {
				return fmt.Errorf("nothing to fetch: use --signatures, --signatures-file or --address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			summary, err := batch.Acquire(c.Context, fetcher, store, dedupe(sigs), c.Bool("refetch"), logger)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, summary)
			}
			fmt.Fprintf(stdout(c), "Requested: %d\nSkipped:   %d\nStored:    %d\nFailed:    %d\n",
				summary.Requested, summary.Skipped, summary.Stored, summary.DeadLettered)
			return nil
		},
	}
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:  "reprocess",
		Usage: "Decode stored raw transactions again",
		Description: `Reprocess stored raw transactions with the current parser. Choose exactly one source:
--signatures / --signatures-file, --parser-version-below, --dead-letters or --all.

Runs in process by default; --temporal hands the run to the reprocess worker and waits
for its result.

Examples:
  txdecode reprocess --parser-version-below 2.3.0 --limit 5000
  txdecode --json reprocess --dead-letters --dry-run
  txdecode reprocess --all --temporal`,
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
				Usage:   "Maximum number of transactions (0 means no limit)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Decode without writing, publishing or dead-lettering",
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Signatures per chunk",
				EnvVars: []string{"BATCH_SIZE"},
				Value:   batch.DefaultOptions().ChunkSize,
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent decoders per chunk",
				EnvVars: []string{"BATCH_WORKERS"},
				Value:   batch.DefaultOptions().Workers,
			},
			&cli.Float64Flag{
				Name:    "dump-noise-floor",
				Usage:   "Price observations below this quote amount are ignored",
				EnvVars: []string{"DUMP_NOISE_FLOOR"},
				Value:   enrich.DefaultDumpDetector().NoiseFloor,
			},
			&cli.Float64Flag{
				Name:    "dump-materiality-floor",
				Usage:   "Dumps below this quote amount are not reported",
				EnvVars: []string{"DUMP_MATERIALITY_FLOOR"},
				Value:   enrich.DefaultDumpDetector().MaterialityFloor,
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish decoded events to NATS (in-process runs only)",
			},
			&cli.BoolFlag{
				Name:  "temporal",
				Usage: "Run as a Temporal workflow on the reprocess worker",
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "With --temporal, print the workflow id and return",
			},
		}, signatureFlags()...),
		Action: func(c *cli.Context) error {
			sel, err := selectorFromFlags(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			if c.Bool("temporal") {
				return reprocessOnTemporal(c, sel)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			dec, err := newDecoder(c, store, logger)
			if err != nil {
				return err
			}

			var publisher natspkg.Publisher
			if c.Bool("publish") && !c.Bool("dry-run") {
				p, err := natspkg.NewPublisher(c.String("nats-url"), nil, logger)
				if err != nil {
					return err
				}
				defer p.Close()
				publisher = p
			}

			runner := batch.NewRunner(store, dec, publisher, batchOptions(c), nil, logger)
			summary, err := runner.Run(c.Context, sel)
			if summary != nil {
				if outErr := printSummary(c, summary); outErr != nil && err == nil {
					err = outErr
				}
			}
			if err != nil {
				return fmt.Errorf("reprocess failed: %w", err)
			}
			return nil
		},
	}
}

// reprocessOnTemporal starts the reprocess workflow and, unless --no-wait, waits for it.
func reprocessOnTemporal(c *cli.Context, sel db.Selector) error {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
	if err != nil {
		return err
	}
	defer tc.Close()

	id, err := tc.StartReprocess(c.Context, "", temporal.ReprocessInput{
		Selector:  sel,
		ChunkSize: c.Int("batch-size"),
		DryRun:    c.Bool("dry-run"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Started workflow %s\n", id)
	if c.Bool("no-wait") {
		if c.Bool("json") {
			return outputJSON(c, map[string]string{"workflow_id": id})
		}
		return nil
	}

	res, err := tc.WaitReprocess(c.Context, id)
	if err != nil {
		return err
	}
	if err := printSummary(c, &res.Summary); err != nil {
		return err
	}
	if len(res.FailedSignatures) > 0 && !c.Bool("json") {
		fmt.Fprintf(os.Stderr, "\nFailed signatures: %d (see db dead-letters)\n", len(res.FailedSignatures))
	}
	return nil
}

// selectorFromFlags builds the reprocess selector; exactly one source must be chosen.
func selectorFromFlags(c *cli.Context) (db.Selector, error) {
	sigs, err := readSignatures(c)
	if err != nil {
		return db.Selector{}, err
	}
	sel := db.Selector{
		Signatures:         dedupe(sigs),
		ParserVersionBelow: c.String("parser-version-below"),
		DeadLetters:        c.Bool("dead-letters"),
		All:                c.Bool("all"),
		Limit:              c.Int("limit"),
	}
	if err := sel.Validate(); err != nil {
		return db.Selector{}, err
	}
	return sel, nil
}

// batchOptions maps the batch flags onto runner options.
func batchOptions(c *cli.Context) batch.Options {
	opts := batch.DefaultOptions()
	opts.ChunkSize = c.Int("batch-size")
	opts.Workers = c.Int("workers")
	opts.DryRun = c.Bool("dry-run")
	opts.Dumps = enrich.DumpDetector{
		NoiseFloor:       c.Float64("dump-noise-floor"),
		MaterialityFloor: c.Float64("dump-materiality-floor"),
	}
	return opts
}

func printSummary(c *cli.Context, s *batch.Summary) error {
	if c.Bool("json") {
		return outputJSON(c, s)
	}
	out := stdout(c)
	fmt.Fprintf(out, "Selected:      %d\n", s.Selected)
	fmt.Fprintf(out, "Chunks:        %d\n", s.Chunks)
	fmt.Fprintf(out, "Processed:     %d\n", s.Processed)
	fmt.Fprintf(out, "Events:        %d\n", s.Events)
	fmt.Fprintf(out, "Dumps:         %d\n", s.Dumps)
	fmt.Fprintf(out, "Dead Lettered: %d\n", s.DeadLettered)
	fmt.Fprintf(out, "Missing:       %d\n", s.Missing)
	fmt.Fprintf(out, "Dry Run:       %v\n", s.DryRun)
	fmt.Fprintf(out, "Duration:      %s\n", s.Duration.Round(time.Millisecond))
	return nil
}

// readSignatures collects --signatures and --signatures-file.
func readSignatures(c *cli.Context) ([]string, error) {
	var sigs []string
	for _, s := range c.StringSlice("signatures") {
		sigs = append(sigs, splitSignatures(s)...)
	}

	if path := c.String("signatures-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open signatures file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			sigs = append(sigs, splitSignatures(line)...)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read signatures file: %w", err)
		}
	}
	return sigs, nil
}

func splitSignatures(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}

// dedupe drops repeated signatures, keeping first occurrences in order.
func dedupe(sigs []string) []string {
	seen := make(map[string]struct{}, len(sigs))
	out := make([]string, 0, len(sigs))
	for _, s := range sigs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
