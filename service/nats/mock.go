package nats

import (
	"context"
	"sync"

	"github.com/brojonat/txdecode/service/decoder"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	published    []*EventMessage
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		published: make([]*EventMessage, 0),
	}
}

// PublishEvent records the message and returns any configured error.
func (m *MockPublisher) PublishEvent(ctx context.Context, msg *EventMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.published = append(m.published, msg)
	return nil
}

// PublishResult records the messages of res and returns any configured error.
func (m *MockPublisher) PublishResult(ctx context.Context, res *decoder.Result) error {
	for _, msg := range FromResult(res) {
		if err := m.PublishEvent(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublished returns all published messages (for testing).
func (m *MockPublisher) GetPublished() []*EventMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*EventMessage, len(m.published))
	copy(msgs, m.published)
	return msgs
}

// GetPublishedCount returns the number of published messages.
func (m *MockPublisher) GetPublishedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.published)
}

// GetPublishedForSignature returns messages published for one transaction.
func (m *MockPublisher) GetPublishedForSignature(signature string) []*EventMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*EventMessage, 0)
	for _, msg := range m.published {
		if msg.Signature == signature {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published messages and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = make([]*EventMessage, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
