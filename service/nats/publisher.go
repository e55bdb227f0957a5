package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/metrics"
)

// Publisher defines the interface for publishing enriched events to NATS.
type Publisher interface {
	// PublishEvent publishes a single event to JetStream on "events.{event_type}".
	PublishEvent(ctx context.Context, msg *EventMessage) error

	// PublishResult publishes every event of a decode result.
	PublishResult(ctx context.Context, res *decoder.Result) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes enriched events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

const (
	// StreamName is the name of the JetStream stream for decoded events.
	StreamName = "DECODED_EVENTS"

	// SubjectPrefix prefixes every event subject.
	SubjectPrefix = "events."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "events.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long JetStream dedupes republished event ids.
	DuplicateWindow = 10 * time.Minute
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("txdecode-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Enriched events decoded from Solana transactions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishEvent publishes a single event. The event id doubles as the JetStream message id,
// so a reprocess inside the duplicate window does not publish twice.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, msg *EventMessage) error {
	subject := msg.Subject()
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = p.now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", msg.EventID, err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.EventID))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", msg.EventID, err)
	}

	p.logger.Debug("published event",
		"subject", subject,
		"event_id", msg.EventID,
		"signature", msg.Signature,
	)

	return nil
}

// PublishResult publishes every event of res. A failed event does not stop the others;
// the failures are joined into the returned error.
func (p *JetStreamPublisher) PublishResult(ctx context.Context, res *decoder.Result) error {
	if len(res.Events) == 0 {
		return nil
	}

	var errs []error
	for _, msg := range FromResult(res) {
		if err := p.PublishEvent(ctx, msg); err != nil {
			p.logger.Error("failed to publish event in result",
				"signature", res.Signature,
				"event_id", msg.EventID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	p.logger.Debug("published result",
		"signature", res.Signature,
		"count", len(res.Events),
		"failed", len(errs),
	)

	return errors.Join(errs...)
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
