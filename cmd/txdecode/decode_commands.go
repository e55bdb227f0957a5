package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/client"
	"github.com/brojonat/txdecode/service/decoder"
)

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a getTransaction payload into enriched events",
		ArgsUsage: "[FILE]",
		Description: `Decode one raw transaction payload (a getTransaction result or the full RPC
envelope) read from FILE, or from stdin when FILE is "-" or missing. Nothing is stored.

Examples:
  txdecode --json decode tx.json
  cat tx.json | txdecode decode --jq '.enriched_events[] | select(.event_type == "SWAP")'
  txdecode decode --remote tx.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the decode result (implies JSON output)",
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Decode through the server at --server-url instead of locally",
			},
			&cli.BoolFlag{
				Name:  "with-db",
				Usage: "Merge stored pools into the pool registry (requires --database-url)",
			},
		},
		Action: func(c *cli.Context) error {
			raw, err := readInput(c)
			if err != nil {
				return err
			}

			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			logger := newLogger(c)

			if c.Bool("remote") {
				cl := client.NewClient(c.String("server-url"), nil, logger)
				res, err := cl.Decode(c.Context, raw)
				if err != nil {
					return fmt.Errorf("remote decode failed: %w", err)
				}
				return emit(stdout(c), filter, res)
			}

			var store poolLister
			if c.Bool("with-db") {
				s, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				store = s
			}

			dec, err := newDecoder(c, store, logger)
			if err != nil {
				return err
			}

			res, err := dec.Decode(raw)
			if err != nil {
				return fmt.Errorf("decode failed (%s): %w", decoder.ReasonOf(err), err)
			}

			if filter != nil || c.Bool("json") {
				return emit(stdout(c), filter, res)
			}
			printResult(stdout(c), res)
			return nil
		},
	}
}

// readInput reads the payload named by the first argument, or stdin.
func readInput(c *cli.Context) ([]byte, error) {
	path := c.Args().First()
	if c.NArg() > 1 {
		return nil, fmt.Errorf("requires at most one argument: payload file")
	}

	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		reader := c.App.Reader
		if reader == nil {
			reader = os.Stdin
		}
		raw, err = io.ReadAll(reader)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	return raw, nil
}

// printResult renders a decode result as a table.
func printResult(out io.Writer, res *decoder.Result) {
	fmt.Fprintf(out, "Signature:      %s\n", res.Signature)
	fmt.Fprintf(out, "Slot:           %d\n", res.Slot)
	if res.BlockTime != nil {
		fmt.Fprintf(out, "Block Time:     %s\n", res.BlockTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Parser Version: %s\n\n", res.ParserVersion)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tPROTOCOL\tINSTRUCTION\tQC\tTAGS")
	for _, ev := range res.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			ev.EventID,
			ev.Type,
			ev.Protocol,
			ev.InstructionType,
			ev.QCStatus,
			len(ev.Tags),
		)
	}
	w.Flush()

	if len(res.Pools) > 0 {
		fmt.Fprintf(out, "\nDiscovered pools: %d\n", len(res.Pools))
	}
	fmt.Fprintf(out, "\nTotal: %d events\n", len(res.Events))
}
