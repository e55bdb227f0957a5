package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	natspkg "github.com/brojonat/txdecode/service/nats"
)

// EventStream relays decoded events from JetStream to Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for SSE relaying.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("txdecode-event-stream"),
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

	logger.Info("event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *EventStream) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("event stream closed")
	}
	return nil
}

// streamSubject maps the optional {type} path value to a subject filter.
func streamSubject(eventType string) string {
	if eventType == "" {
		return natspkg.StreamSubjects
	}
	return natspkg.SubjectFor(eventType)
}

// handleStreamEvents handles SSE streaming of decoded events.
// Without a {type} path value every event type is streamed.
func handleStreamEvents(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType := r.PathValue("type")
		if err := validateLabel("type", eventType); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		subject := streamSubject(eventType)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"subject", subject,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer, deleted after the connection goes away
		cons, err := stream.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"subject\":%q}\n\n", subject)
		flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				// Messages are already JSON encoded events; relay them as is.
				fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n",
					eventNameFromSubject(msg.Subject()),
					msg.Headers().Get(jetstream.MsgIDHeader),
					msg.Data(),
				)
				flush()
				msg.Ack()

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subject", subject,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}

// eventNameFromSubject turns "events.swap" into "swap".
func eventNameFromSubject(subject string) string {
	if name, ok := strings.CutPrefix(subject, natspkg.SubjectPrefix); ok && name != "" {
		return name
	}
	return "event"
}
