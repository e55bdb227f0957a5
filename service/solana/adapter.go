package solana

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// GetRawTransaction calls getTransaction with JSON encoding and keeps the result untouched,
// so the decoder sees exactly what the node returned.
func (r *realRPCClient) GetRawTransaction(
	ctx context.Context,
	signature solana.Signature,
	commitment rpc.CommitmentType,
) (json.RawMessage, error) {
	var out json.RawMessage
	params := []any{
		signature.String(),
		map[string]any{
			"encoding":                       "json",
			"commitment":                     commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := r.client.RPCCallForInto(ctx, &out, "getTransaction", params); err != nil {
		return nil, err
	}
	return out, nil
}

// NewEndpoints builds one endpoint per RPC URL, labeled for metrics.
func NewEndpoints(urls []string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		endpoints = append(endpoints, Endpoint{
			Name: EndpointName(u),
			RPC:  NewRPCClient(u),
		})
	}
	return endpoints
}

// EndpointName extracts a short identifier from a Solana RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://some-endpoint.quiknode.pro/..." -> "quiknode"
func EndpointName(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	providers := []struct {
		match string
		name  string
	}{
		{"helius", "helius"},
		{"quiknode", "quiknode"},
		{"quicknode", "quiknode"},
		{"alchemy", "alchemy"},
		{"triton", "triton"},
		{"rpcpool", "rpcpool"},
		{"mainnet", "mainnet"},
		{"devnet", "devnet"},
		{"testnet", "testnet"},
	}
	for _, p := range providers {
		if strings.Contains(host, p.match) {
			return p.name
		}
	}
	return host
}
