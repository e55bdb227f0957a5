package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/registry"
)

// memStore is an in-memory eventStore.
type memStore struct {
	raws        map[string]*db.RawTransaction
	events      []db.StoredEvent
	deadLetters []decoder.DeadLetter
	pools       []registry.Pool
	lastFilter  db.EventFilter
	lastReason  string
}

func (m *memStore) GetRaw(ctx context.Context, signature string) (*db.RawTransaction, error) {
	raw, ok := m.raws[signature]
	if !ok {
		return nil, fmt.Errorf("raw transaction %s: %w", signature, db.ErrNotFound)
	}
	cp := *raw
	return &cp, nil
}

func (m *memStore) ListEvents(ctx context.Context, f db.EventFilter) ([]db.StoredEvent, error) {
	m.lastFilter = f
	var out []db.StoredEvent
	for _, ev := range m.events {
		if f.Signature != "" && ev.Signature != f.Signature {
			continue
		}
		if f.EventType != "" && ev.EventType != f.EventType {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memStore) ListDeadLetters(ctx context.Context, reason string, limit int) ([]decoder.DeadLetter, error) {
	m.lastReason = reason
	return m.deadLetters, nil
}

func (m *memStore) ListPools(ctx context.Context) ([]registry.Pool, error) {
	return m.pools, nil
}

// useStore points the db commands at store for the duration of the test.
func useStore(t *testing.T, store eventStore) {
	t.Helper()
	prev := storeOpener
	storeOpener = func(c *cli.Context) (eventStore, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { storeOpener = prev })
}

func newMemStore() *memStore {
	blockTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	version := decoder.ParserVersion
	return &memStore{
		raws: map[string]*db.RawTransaction{
			fixtureSig: {
				Signature:     fixtureSig,
				Slot:          250000123,
				BlockTime:     &blockTime,
				RawJSON:       json.RawMessage(`{"slot":250000123}`),
				ParserVersion: &version,
				FetchedAt:     blockTime,
			},
		},
		events: []db.StoredEvent{
			{EventID: fixtureSig + ":0:0", Signature: fixtureSig, EventType: "TRANSFER", Protocol: "system", QCStatus: "success", ParserVersion: version, BlockTime: &blockTime},
			{EventID: fixtureSig + ":1:0", Signature: fixtureSig, EventType: "TRANSFER", Protocol: "spl_token", QCStatus: "success", ParserVersion: version, BlockTime: &blockTime},
			{EventID: "other:0:0", Signature: "other", EventType: "SWAP", Protocol: "raydium_amm_v4", QCStatus: "partial", ParserVersion: version},
		},
		deadLetters: []decoder.DeadLetter{
			{Signature: "deadsig", FailedAt: blockTime, Reason: decoder.ReasonFetch, Error: "rpc timeout", Attempts: 2},
		},
		pools: []registry.Pool{
			{Address: solana.NewWallet().PublicKey(), DEX: "raydium_amm_v4", LastUpdated: blockTime},
			{Address: solana.NewWallet().PublicKey(), DEX: "raydium_cpmm", LastUpdated: blockTime},
		},
	}
}

func TestListEventsCommand(t *testing.T) {
	store := newMemStore()
	useStore(t, store)

	tests := []struct {
		name      string
		args      []string
		checkFunc func(t *testing.T, output string)
	}{
		{
			name: "all events",
			args: []string{"db", "events"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, fixtureSig+":0:0")
				assert.Contains(t, output, "other:0:0")
				assert.Equal(t, 50, store.lastFilter.Limit)
			},
		},
		{
			name: "type filter is upper cased",
			args: []string{"db", "events", "--type", "swap", "--limit", "5"},
			checkFunc: func(t *testing.T, output string) {
				assert.Equal(t, "SWAP", store.lastFilter.EventType)
				assert.Equal(t, 5, store.lastFilter.Limit)
				assert.Contains(t, output, "other:0:0")
				assert.NotContains(t, output, fixtureSig)
			},
		},
		{
			name: "json output",
			args: []string{"--json", "db", "events", "--signature", fixtureSig},
			checkFunc: func(t *testing.T, output string) {
				var events []db.StoredEvent
				require.NoError(t, json.Unmarshal([]byte(output), &events))
				assert.Len(t, events, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := runApp(t, "", tt.args...)
			require.NoError(t, err)
			tt.checkFunc(t, output)
		})
	}
}

func TestGetTransactionCommand(t *testing.T) {
	useStore(t, newMemStore())

	output, err := runApp(t, "", "db", "transaction", fixtureSig)
	require.NoError(t, err)
	assert.Contains(t, output, "Slot:           250000123")
	assert.Contains(t, output, "Parser Version: "+decoder.ParserVersion)
	assert.Contains(t, output, "Events:         2")

	output, err = runApp(t, "", "--json", "db", "transaction", fixtureSig)
	require.NoError(t, err)
	var withoutRaw struct {
		Transaction db.RawTransaction `json:"transaction"`
		Events      []db.StoredEvent  `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &withoutRaw))
	assert.Equal(t, fixtureSig, withoutRaw.Transaction.Signature)
	assert.Contains(t, output, `"raw_json": null`)
	assert.Len(t, withoutRaw.Events, 2)

	output, err = runApp(t, "", "--json", "db", "transaction", "--raw", fixtureSig)
	require.NoError(t, err)
	assert.Contains(t, output, `"raw_json": {`)

	_, err = runApp(t, "", "db", "transaction", "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = runApp(t, "", "db", "transaction")
	assert.ErrorContains(t, err, "exactly one argument")
}

func TestListDeadLettersCommand(t *testing.T) {
	store := newMemStore()
	useStore(t, store)

	output, err := runApp(t, "", "db", "dead-letters", "--reason", decoder.ReasonFetch)
	require.NoError(t, err)
	assert.Equal(t, decoder.ReasonFetch, store.lastReason)
	assert.Contains(t, output, "deadsig")
	assert.Contains(t, output, "rpc timeout")
}

func TestListPoolsCommand(t *testing.T) {
	useStore(t, newMemStore())

	output, err := runApp(t, "", "--json", "db", "pools", "--dex", "RAYDIUM_CPMM")
	require.NoError(t, err)
	var pools []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &pools))
	require.Len(t, pools, 1)
	assert.Equal(t, "raydium_cpmm", pools[0]["dex"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
