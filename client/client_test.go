package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

func TestDecode_Success(t *testing.T) {
	raw := `{"slot":1,"transaction":{},"meta":{}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/decode", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, raw, string(body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"signature":%q,"slot":1,"parser_version":"1.4.0","enriched_events":[{"type":"transfer"}]}`, testSig)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	res, err := client.Decode(context.Background(), []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, testSig, res.Signature)
	assert.Equal(t, "1.4.0", res.ParserVersion)
	require.Len(t, res.Events, 1)
	assert.JSONEq(t, `{"type":"transfer"}`, string(res.Events[0]))
}

func TestDecode_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "normalize: meta: missing",
			"reason": "normalization_error",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Decode(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalize: meta: missing")
}

func TestListEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "swap", r.URL.Query().Get("type"))
		assert.Equal(t, "success", r.URL.Query().Get("qc_status"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("signature"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"events": []map[string]interface{}{
				{"event_id": testSig + ":0:0", "signature": testSig, "event_type": "swap", "qc_status": "success", "payload": map[string]string{"type": "swap"}},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	events, err := client.ListEvents(context.Background(), EventQuery{Type: "swap", QCStatus: "success", Limit: 50})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, testSig+":0:0", events[0].EventID)
	assert.Equal(t, "swap", events[0].EventType)
}

func TestGetTransaction(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/transactions/"+testSig, r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("raw"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"signature":%q,"slot":7,"fetched_at":"2025-01-01T00:00:00Z","raw":{"slot":7},"events":[]}`, testSig)
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		tx, err := client.GetTransaction(context.Background(), testSig, true)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), tx.Slot)
		assert.JSONEq(t, `{"slot":7}`, string(tx.Raw))
		assert.Empty(t, tx.Events)
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "transaction not found"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		_, err := client.GetTransaction(context.Background(), testSig, false)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "transaction not found")
	})
}

func TestListDeadLetters(t *testing.T) {
	failedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dead-letters", r.URL.Path)
		assert.Equal(t, "fetch_error", r.URL.Query().Get("reason"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dead_letters": []DeadLetter{{Signature: testSig, FailedAt: failedAt, Reason: "fetch_error", Error: "timeout", Attempts: 2}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	letters, err := client.ListDeadLetters(context.Background(), "fetch_error", 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Attempts)
	assert.Equal(t, failedAt, letters[0].FailedAt)
}

func TestListPools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pools", r.URL.Path)
		assert.Equal(t, "raydium_amm_v4", r.URL.Query().Get("dex"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pools":[{"pool":"P1","dex":"raydium_amm_v4","mint_a":"A","mint_b":"B","vault_a":"VA","vault_b":"VB","last_updated":"2025-01-01T00:00:00Z"}],"count":1}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	pools, err := client.ListPools(context.Background(), "raydium_amm_v4")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "P1", pools[0].Address)
	assert.Nil(t, pools[0].LPMint)
}

func TestStreamEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/events/swap", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		fmt.Fprint(w, "event: connected\ndata: {\"subject\":\"events.swap\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: swap\nid: sig1:0:0\ndata: {\"event_id\":\"sig1:0:0\"}\n\n")
		fmt.Fprint(w, "event: swap\nid: sig2:0:0\ndata: {\"event_id\":\"sig2:0:0\"}\n\n")
		fmt.Fprint(w, "event: swap\nid: sig3:0:0\ndata: {\"event_id\":\"sig3:0:0\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var got []StreamedEvent
	err := client.StreamEvents(context.Background(), "swap", func(ev StreamedEvent) bool {
		got = append(got, ev)
		return len(got) < 2
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "connected and keepalive frames are skipped, stop after the second event")
	assert.Equal(t, "swap", got[0].Type)
	assert.Equal(t, "sig1:0:0", got[0].ID)
	assert.JSONEq(t, `{"event_id":"sig2:0:0"}`, string(got[1].Data))
}
