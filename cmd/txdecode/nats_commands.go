package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/txdecode/service/nats"
)

// subscribeCommand subscribes to published events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to decoded events published to NATS",
		ArgsUsage: "[event_type]",
		Description: `Subscribe to enriched events published to NATS JetStream.

Events are published to the subject events.{event_type} (lower case). Without an event
type every event is received. --jq drops events for which the filter is false or null.

Examples:
  txdecode --json nats subscribe swap
  txdecode nats subscribe --jq '.qc_status != "success"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "txdecode-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Start from the first retained event instead of new ones",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Only show events matching this jq filter",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: event type")
			}

			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if eventType := c.Args().First(); eventType != "" {
				subject = natspkg.SubjectFor(eventType)
			}

			return streamEvents(c, subject, filter)
		},
	}
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(c *cli.Context, subject string, filter *jqFilter) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")
	durable := c.Bool("durable")
	consumerName := c.String("consumer-name")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("all") {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	out := stdout(c)
	count := 0
	for {
		select {
		case msg := <-msgChan:
			shown, err := printEventMessage(out, msg.Data(), filter, jsonOutput)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			if shown {
				count++
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

// eventView is the part of a published event the CLI prints.
type eventView struct {
	EventID         string          `json:"event_id"`
	Type            string          `json:"event_type"`
	Protocol        string          `json:"protocol"`
	InstructionType string          `json:"instruction_type"`
	QCStatus        string          `json:"qc_status"`
	Tags            []interface{}   `json:"qc_tags"`
	Slot            uint64          `json:"slot"`
	BlockTime       *time.Time      `json:"block_time"`
	Dump            json.RawMessage `json:"dump"`
	PublishedAt     time.Time       `json:"published_at"`
}

// printEventMessage renders one published event. It reports whether the event passed the
// filter and was written.
func printEventMessage(out io.Writer, data []byte, filter *jqFilter, jsonOutput bool) (bool, error) {
	var event eventView
	if err := json.Unmarshal(data, &event); err != nil {
		return false, err
	}
	if filter != nil && !filter.Match(json.RawMessage(data)) {
		return false, nil
	}

	if jsonOutput {
		fmt.Fprintln(out, string(data))
		return true, nil
	}

	fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(out, "Event:        %s\n", event.EventID)
	fmt.Fprintf(out, "Type:         %s (%s)\n", event.Type, event.Protocol)
	fmt.Fprintf(out, "Instruction:  %s\n", event.InstructionType)
	fmt.Fprintf(out, "QC:           %s (%d tags)\n", event.QCStatus, len(event.Tags))
	fmt.Fprintf(out, "Slot:         %d\n", event.Slot)
	fmt.Fprintf(out, "Block Time:   %s\n", formatOptionalTime(event.BlockTime))
	if len(event.Dump) > 0 && string(event.Dump) != "null" {
		fmt.Fprintf(out, "Dump:         yes\n")
	}
	fmt.Fprintf(out, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return true, nil
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the events JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, info)
			}

			out := stdout(c)
			fmt.Fprintf(out, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(out, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(out, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(out, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(out, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(out, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(out, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(out, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(out, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
