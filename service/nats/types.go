package nats

import (
	"strings"
	"time"

	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/enrich"
)

// EventMessage is one enriched event published to NATS.
// It is published to the subject "events.{event_type}" in JetStream.
type EventMessage struct {
	enrich.Event

	// PublishedAt is when the message left the publisher.
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the message is published to.
func (m *EventMessage) Subject() string {
	return SubjectFor(string(m.Type))
}

// SubjectFor returns the subject of an event type, e.g. "events.swap".
func SubjectFor(eventType string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	return SubjectPrefix + strings.ToLower(eventType)
}

// FromResult converts the events of a decode result into messages.
func FromResult(res *decoder.Result) []*EventMessage {
	msgs := make([]*EventMessage, 0, len(res.Events))
	for _, ev := range res.Events {
		msgs = append(msgs, &EventMessage{Event: ev})
	}
	return msgs
}
