package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/decoder/resolve"
)

func testResult() *decoder.Result {
	event := func(t resolve.EventType, outer int) enrich.Event {
		return enrich.Event{
			Event:     resolve.Event{Type: t},
			EventID:   decoder.EventID("sig-1", outer, 0),
			Signature: "sig-1",
		}
	}
	return &decoder.Result{
		Signature: "sig-1",
		Events: []enrich.Event{
			event(resolve.EventSwap, 0),
			event(resolve.EventTransfer, 1),
		},
	}
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"SWAP", "events.swap"},
		{"ACCOUNT_MANAGEMENT", "events.account_management"},
		{"", "events.unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectFor(tt.eventType))
		})
	}
}

func TestFromResult(t *testing.T) {
	msgs := FromResult(testResult())
	require.Len(t, msgs, 2)
	assert.Equal(t, "events.swap", msgs[0].Subject())
	assert.Equal(t, "sig-1:1:0", msgs[1].EventID)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	pub := NewMockPublisher()

	require.NoError(t, pub.PublishResult(ctx, testResult()))
	assert.Equal(t, 2, pub.GetPublishedCount())
	assert.Len(t, pub.GetPublishedForSignature("sig-1"), 2)
	assert.Empty(t, pub.GetPublishedForSignature("other"))

	pub.SetPublishError(errors.New("nats down"))
	assert.Error(t, pub.PublishResult(ctx, testResult()))
	assert.Equal(t, 2, pub.GetPublishedCount())

	pub.Reset()
	assert.Zero(t, pub.GetPublishedCount())
	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())
}
