package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/metrics"
)

// ErrTransactionNotFound is returned when no endpoint knows the signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	// GetRawTransaction returns the getTransaction result object as sent by the node, or
	// null when the node does not have the transaction.
	GetRawTransaction(
		ctx context.Context,
		signature solana.Signature,
		commitment rpc.CommitmentType,
	) (json.RawMessage, error)
}

// Endpoint is one RPC node. Name labels its metrics.
type Endpoint struct {
	Name string
	RPC  RPCClient
}

// Client fetches raw transactions, falling back through its endpoints in order.
type Client struct {
	endpoints   []Endpoint
	delay       time.Duration
	maxAttempts int
	commitment  rpc.CommitmentType
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// Fetched is one acquired transaction.
type Fetched struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Raw       json.RawMessage
}

// NewClient creates a new Solana client over endpoints.
// delay is the pause before each getTransaction call, to respect RPC rate limits.
// If metrics is nil, no metrics will be recorded.
func NewClient(endpoints []Endpoint, delay time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints:   endpoints,
		delay:       delay,
		maxAttempts: 3,
		commitment:  rpc.CommitmentConfirmed,
		logger:      logger.With("component", "solana"),
		metrics:     m,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchTransaction fetches the raw getTransaction result of one signature. Every endpoint
// is tried in order; each gets up to three attempts with exponential backoff, longer on
// rate limiting. Failures are returned as *decoder.FetchError.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*Fetched, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, &decoder.FetchError{Signature: signature, Err: fmt.Errorf("invalid signature: %w", err)}
	}
	if len(c.endpoints) == 0 {
		return nil, &decoder.FetchError{Signature: signature, Err: errors.New("no RPC endpoints configured")}
	}

	var lastErr error
	for _, ep := range c.endpoints {
		raw, err := c.fetchFrom(ctx, ep, sig)
		if err == nil {
			return fetchedFrom(signature, raw)
		}
		if ctx.Err() != nil {
			return nil, &decoder.FetchError{Signature: signature, Err: ctx.Err()}
		}
		c.logger.WarnContext(ctx, "endpoint failed, trying next",
			"signature", signature,
			"endpoint", ep.Name,
			"error", err,
		)
		lastErr = err
	}
	return nil, &decoder.FetchError{Signature: signature, Err: lastErr}
}

// fetchFrom runs the retry loop against one endpoint.
func (c *Client) fetchFrom(ctx context.Context, ep Endpoint, sig solana.Signature) (json.RawMessage, error) {
	var err error
	for attempt := range c.maxAttempts {
		if err := c.sleep(ctx, c.delay); err != nil {
			return nil, err
		}

		start := time.Now()
		var raw json.RawMessage
		raw, err = ep.RPC.GetRawTransaction(ctx, sig, c.commitment)
		if err == nil && isNull(raw) {
			err = ErrTransactionNotFound
		}
		c.recordCall(ep.Name, start, err)

		if err == nil {
			return raw, nil
		}
		if errors.Is(err, ErrTransactionNotFound) {
			// Pruned or unknown here; another endpoint may have it.
			return nil, err
		}

		// Rate limited (429 Too Many Requests): longer backoff
		if strings.Contains(err.Error(), "429") {
			backoff := time.Duration(2<<uint(attempt)) * time.Second // 2s, 4s, 8s
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"signature", sig.String(),
				"endpoint", ep.Name,
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
			)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(ep.Name)
				c.metrics.RecordRPCRetry("getTransaction", "rate_limit")
			}
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", sig.String(),
			"endpoint", ep.Name,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("getTransaction", "timeout_or_error")
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, err
}

func (c *Client) recordCall(endpoint string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	c.metrics.RecordRPCCall("getTransaction", status, endpoint, time.Since(start).Seconds())
}

// FetchTransactions fetches signatures one by one. Failures do not stop the run; they are
// returned next to the successes for dead-lettering.
func (c *Client) FetchTransactions(ctx context.Context, signatures []string) ([]*Fetched, []*decoder.FetchError) {
	var (
		fetched  []*Fetched
		failures []*decoder.FetchError
	)
	for _, sig := range signatures {
		if ctx.Err() != nil {
			failures = append(failures, &decoder.FetchError{Signature: sig, Err: ctx.Err()})
			continue
		}
		f, err := c.FetchTransaction(ctx, sig)
		if err != nil {
			var fe *decoder.FetchError
			if !errors.As(err, &fe) {
				fe = &decoder.FetchError{Signature: sig, Err: err}
			}
			failures = append(failures, fe)
			continue
		}
		fetched = append(fetched, f)
	}

	c.logger.InfoContext(ctx, "fetched transactions",
		"requested", len(signatures),
		"fetched", len(fetched),
		"failed", len(failures),
	)
	return fetched, failures
}

// SignaturesForAddress lists up to limit signatures touching address, newest first,
// starting before the given signature when it is not empty. Failed transactions are kept;
// the decoder handles them.
func (c *Client) SignaturesForAddress(ctx context.Context, address string, limit int, before string) ([]string, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(c.endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}

	opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment}
	if limit > 0 {
		opts.Limit = &limit
	}
	if before != "" {
		b, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid before signature %q: %w", before, err)
		}
		opts.Before = b
	}

	ep := c.endpoints[0]
	start := time.Now()
	sigs, err := ep.RPC.GetSignaturesForAddress(ctx, key, opts)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall("getSignaturesForAddress", status, ep.Name, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", address, err)
	}

	out := make([]string, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, s.Signature.String())
	}
	return out, nil
}

func fetchedFrom(signature string, raw json.RawMessage) (*Fetched, error) {
	var head struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &decoder.FetchError{Signature: signature, Err: fmt.Errorf("unreadable result: %w", err)}
	}
	f := &Fetched{Signature: signature, Slot: head.Slot, Raw: raw}
	if head.BlockTime != nil {
		bt := time.Unix(*head.BlockTime, 0).UTC()
		f.BlockTime = &bt
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
