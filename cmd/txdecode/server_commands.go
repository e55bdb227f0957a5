package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/client"
	"github.com/brojonat/txdecode/service/decoder"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(stdout(c), "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(stdout(c), "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Follow the server's event stream (SSE)",
		ArgsUsage: "[event_type]",
		Description: `Stream decoded events as the server relays them. Each event is printed as one
JSON line.

Examples:
  txdecode server stream swap
  txdecode server stream --jq 'select(.qc_status == "error") | .event_id'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to each event",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Stop after this many events (0 means never)",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			limit := c.Int("count")
			out := stdout(c)
			seen := 0

			var emitErr error
			err = cl.StreamEvents(c.Context, c.Args().First(), func(ev client.StreamedEvent) bool {
				if emitErr = emit(out, filter, ev.Data); emitErr != nil {
					return false
				}
				seen++
				return limit == 0 || seen < limit
			})
			if emitErr != nil {
				return emitErr
			}
			return err
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(c, map[string]string{
					"version":        version,
					"commit":         commit,
					"built":          date,
					"parser_version": decoder.ParserVersion,
				})
			}
			out := stdout(c)
			fmt.Fprintf(out, "txdecode CLI\n")
			fmt.Fprintf(out, "  Version: %s\n", version)
			fmt.Fprintf(out, "  Commit:  %s\n", commit)
			fmt.Fprintf(out, "  Built:   %s\n", date)
			fmt.Fprintf(out, "  Parser:  %s\n", decoder.ParserVersion)
			return nil
		},
	}
}
