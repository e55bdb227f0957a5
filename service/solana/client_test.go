package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder"
)

const testSig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

// mockRPCClient implements RPCClient for testing.
// It returns the queued responses in order, then the last one forever.
type mockRPCClient struct {
	mu         sync.Mutex
	responses  []mockResponse
	calls      int
	signatures []*rpc.TransactionSignature
	sigOpts    *rpc.GetSignaturesForAddressOpts
	err        error
}

type mockResponse struct {
	raw string
	err error
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.sigOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetRawTransaction(
	ctx context.Context,
	signature solana.Signature,
	commitment rpc.CommitmentType,
) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := min(m.calls, len(m.responses)-1)
	m.calls++
	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.raw), nil
}

func newTestClient(endpoints ...Endpoint) (*Client, *[]time.Duration) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(endpoints, 600*time.Millisecond, nil, logger)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

const okResult = `{"slot":250000000,"blockTime":1700000000,"transaction":{},"meta":{}}`

func TestFetchTransaction_Success(t *testing.T) {
	mock := &mockRPCClient{responses: []mockResponse{{raw: okResult}}}
	c, slept := newTestClient(Endpoint{Name: "primary", RPC: mock})

	f, err := c.FetchTransaction(context.Background(), testSig)
	require.NoError(t, err)
	assert.Equal(t, testSig, f.Signature)
	assert.Equal(t, uint64(250000000), f.Slot)
	require.NotNil(t, f.BlockTime)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *f.BlockTime)
	assert.JSONEq(t, okResult, string(f.Raw))
	assert.Equal(t, []time.Duration{600 * time.Millisecond}, *slept)
}

func TestFetchTransaction_Retries(t *testing.T) {
	tests := []struct {
		name      string
		responses []mockResponse
		wantCalls int
		wantSleep []time.Duration
	}{
		{
			name:      "rate limited then ok",
			responses: []mockResponse{{err: errors.New("HTTP 429 Too Many Requests")}, {raw: okResult}},
			wantCalls: 2,
			wantSleep: []time.Duration{600 * time.Millisecond, 2 * time.Second, 600 * time.Millisecond},
		},
		{
			name:      "timeout then ok",
			responses: []mockResponse{{err: errors.New("i/o timeout")}, {raw: okResult}},
			wantCalls: 2,
			wantSleep: []time.Duration{600 * time.Millisecond, time.Second, 600 * time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockRPCClient{responses: tt.responses}
			c, slept := newTestClient(Endpoint{Name: "primary", RPC: mock})

			_, err := c.FetchTransaction(context.Background(), testSig)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, mock.calls)
			assert.Equal(t, tt.wantSleep, *slept)
		})
	}
}

func TestFetchTransaction_FallsBackToNextEndpoint(t *testing.T) {
	pruned := &mockRPCClient{responses: []mockResponse{{raw: "null"}}}
	archive := &mockRPCClient{responses: []mockResponse{{raw: okResult}}}
	c, _ := newTestClient(Endpoint{Name: "pruned", RPC: pruned}, Endpoint{Name: "archive", RPC: archive})

	f, err := c.FetchTransaction(context.Background(), testSig)
	require.NoError(t, err)
	assert.Equal(t, uint64(250000000), f.Slot)
	assert.Equal(t, 1, pruned.calls, "not found is not retried on the same endpoint")
	assert.Equal(t, 1, archive.calls)
}

func TestFetchTransaction_Failures(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		c, _ := newTestClient(Endpoint{Name: "primary", RPC: &mockRPCClient{}})
		_, err := c.FetchTransaction(context.Background(), "not-a-signature")
		var fe *decoder.FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, decoder.ReasonFetch, decoder.ReasonOf(err))
	})

	t.Run("exhausted attempts", func(t *testing.T) {
		mock := &mockRPCClient{responses: []mockResponse{{err: errors.New("connection refused")}}}
		c, _ := newTestClient(Endpoint{Name: "primary", RPC: mock})
		_, err := c.FetchTransaction(context.Background(), testSig)
		require.Error(t, err)
		assert.Equal(t, 3, mock.calls)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("not found anywhere", func(t *testing.T) {
		mock := &mockRPCClient{responses: []mockResponse{{raw: "null"}}}
		c, _ := newTestClient(Endpoint{Name: "primary", RPC: mock})
		_, err := c.FetchTransaction(context.Background(), testSig)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestFetchTransactions_CollectsFailures(t *testing.T) {
	mock := &mockRPCClient{responses: []mockResponse{{raw: okResult}}}
	c, _ := newTestClient(Endpoint{Name: "primary", RPC: mock})

	fetched, failures := c.FetchTransactions(context.Background(), []string{testSig, "bogus"})
	require.Len(t, fetched, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, "bogus", failures[0].Signature)
}

func TestSignaturesForAddress(t *testing.T) {
	sig := solana.MustSignatureFromBase58(testSig)
	mock := &mockRPCClient{signatures: []*rpc.TransactionSignature{{Signature: sig, Slot: 100}}}
	c, _ := newTestClient(Endpoint{Name: "primary", RPC: mock})

	sigs, err := c.SignaturesForAddress(context.Background(), "So11111111111111111111111111111111111111112", 10, testSig)
	require.NoError(t, err)
	assert.Equal(t, []string{testSig}, sigs)
	require.NotNil(t, mock.sigOpts.Limit)
	assert.Equal(t, 10, *mock.sigOpts.Limit)
	assert.Equal(t, sig, mock.sigOpts.Before)

	_, err = c.SignaturesForAddress(context.Background(), "nope", 10, "")
	assert.Error(t, err)
}

func TestEndpointName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://mainnet.helius-rpc.com/?api-key=abc", "helius"},
		{"https://x.solana-mainnet.quiknode.pro/key/", "quiknode"},
		{"https://rpc.example.org", "rpc.example.org"},
		{"::", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, EndpointName(tt.url))
		})
	}
}
