// Package client is the HTTP client for the txdecode server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no such record.
var ErrNotFound = errors.New("not found")

// DecodeResult is the outcome of decoding one transaction. Events are returned as JSON
// objects since their payload depends on the event type.
type DecodeResult struct {
	Signature     string            `json:"signature"`
	Slot          uint64            `json:"slot"`
	BlockTime     *time.Time        `json:"block_time,omitempty"`
	ParserVersion string            `json:"parser_version"`
	Events        []json.RawMessage `json:"enriched_events"`
	Pools         []Pool            `json:"discovered_pools,omitempty"`
}

// Event is one stored decoded event.
type Event struct {
	EventID       string          `json:"event_id"`
	Signature     string          `json:"signature"`
	EventType     string          `json:"event_type"`
	Protocol      string          `json:"protocol"`
	QCStatus      string          `json:"qc_status"`
	ParserVersion string          `json:"parser_version"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Transaction is a stored transaction with its events.
type Transaction struct {
	Signature     string          `json:"signature"`
	Slot          uint64          `json:"slot"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	ParserVersion *string         `json:"parser_version,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FetchedAt     time.Time       `json:"fetched_at"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	Events        []Event         `json:"events"`
}

// DeadLetter is a transaction that could not be decoded or stored.
type DeadLetter struct {
	Signature string    `json:"signature"`
	FailedAt  time.Time `json:"failed_at"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload,omitempty"`
	Attempts  int       `json:"attempts"`
}

// Pool is a discovered liquidity pool.
type Pool struct {
	Address         string    `json:"pool"`
	DEX             string    `json:"dex"`
	MintA           string    `json:"mint_a"`
	MintB           string    `json:"mint_b"`
	VaultA          string    `json:"vault_a"`
	VaultB          string    `json:"vault_b"`
	LPMint          *string   `json:"lp_mint,omitempty"`
	InitialProvider *string   `json:"initial_liquidity_provider,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// EventQuery narrows ListEvents. Empty fields match everything.
type EventQuery struct {
	Signature string
	Type      string
	QCStatus  string
	Limit     int
}

// StreamedEvent is one event received from the SSE stream.
type StreamedEvent struct {
	Type string
	ID   string
	Data json.RawMessage
}

// Client is the HTTP client for the txdecode server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new txdecode server client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Decode asks the server to decode a raw getTransaction payload without storing it.
func (c *Client) Decode(ctx context.Context, raw []byte) (*DecodeResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/decode", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res DecodeResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction decoded", "signature", res.Signature, "events", len(res.Events))
	return &res, nil
}

// ListEvents retrieves stored events.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	params := url.Values{}
	if q.Signature != "" {
		params.Set("signature", q.Signature)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.QCStatus != "" {
		params.Set("qc_status", q.QCStatus)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var response struct {
		Events []Event `json:"events"`
	}
	if err := c.get(ctx, "/api/v1/events", params, &response); err != nil {
		return nil, err
	}
	return response.Events, nil
}

// GetTransaction retrieves a stored transaction and its events. withRaw includes the raw payload.
func (c *Client) GetTransaction(ctx context.Context, signature string, withRaw bool) (*Transaction, error) {
	params := url.Values{}
	if withRaw {
		params.Set("raw", "true")
	}

	var tx Transaction
	if err := c.get(ctx, "/api/v1/transactions/"+url.PathEscape(signature), params, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListDeadLetters retrieves dead letters, optionally filtered by reason.
func (c *Client) ListDeadLetters(ctx context.Context, reason string, limit int) ([]DeadLetter, error) {
	params := url.Values{}
	if reason != "" {
		params.Set("reason", reason)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		DeadLetters []DeadLetter `json:"dead_letters"`
	}
	if err := c.get(ctx, "/api/v1/dead-letters", params, &response); err != nil {
		return nil, err
	}
	return response.DeadLetters, nil
}

// GetDeadLetter retrieves one dead letter including its payload.
func (c *Client) GetDeadLetter(ctx context.Context, signature string) (*DeadLetter, error) {
	var dl DeadLetter
	if err := c.get(ctx, "/api/v1/dead-letters/"+url.PathEscape(signature), nil, &dl); err != nil {
		return nil, err
	}
	return &dl, nil
}

// ListPools retrieves the discovered pools, optionally for one DEX.
func (c *Client) ListPools(ctx context.Context, dex string) ([]Pool, error) {
	params := url.Values{}
	if dex != "" {
		params.Set("dex", dex)
	}

	var response struct {
		Pools []Pool `json:"pools"`
	}
	if err := c.get(ctx, "/api/v1/pools", params, &response); err != nil {
		return nil, err
	}
	return response.Pools, nil
}

// StreamEvents follows the server's SSE stream of decoded events and calls fn for each one
// until fn returns false, the stream ends or ctx is done. An empty eventType streams all types.
func (c *Client) StreamEvents(ctx context.Context, eventType string, fn func(StreamedEvent) bool) error {
	u := c.baseURL + "/api/v1/stream/events"
	if eventType != "" {
		u += "/" + url.PathEscape(eventType)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default request timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	var ev StreamedEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 && ev.Type != "connected" {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				if !fn(ev) {
					return nil
				}
			}
			ev, data = StreamedEvent{}, nil
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return ctx.Err()
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		errResp.Error = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", errResp.Error, ErrNotFound)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
