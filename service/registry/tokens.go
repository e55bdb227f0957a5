// Package registry holds the read-only lookup tables the decoder consults: how a token mint
// behaves on transfer, and which vaults belong to which AMM pool. Registries are built once
// at start-up and never mutated; they are safe for concurrent readers.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Behavior describes how a mint's balances move relative to its transfer instructions.
type Behavior string

const (
	BehaviorStandard      Behavior = "standard"
	BehaviorFeeOnTransfer Behavior = "fee_on_transfer"
	BehaviorRebase        Behavior = "rebase"
	BehaviorDeflationary  Behavior = "deflationary"
)

// Validate checks if the behavior is one of the known values.
func (b Behavior) Validate() error {
	switch b {
	case BehaviorStandard, BehaviorFeeOnTransfer, BehaviorRebase, BehaviorDeflationary:
		return nil
	}
	return fmt.Errorf("invalid token behavior %q", string(b))
}

// BalanceBased reports whether net changes for the mint must come from balance snapshots
// rather than from instruction amounts.
func (b Behavior) BalanceBased() bool {
	return b == BehaviorFeeOnTransfer || b == BehaviorRebase || b == BehaviorDeflationary
}

// Token is one registry entry.
type Token struct {
	Mint        solana.PublicKey `json:"mint"`
	Symbol      string           `json:"symbol,omitempty"`
	Behavior    Behavior         `json:"behavior"`
	Decimals    uint8            `json:"decimals"`
	Description string           `json:"description,omitempty"`
}

// TokenBehaviors maps mints to their behavior. Mints not in the registry are standard.
type TokenBehaviors struct {
	tokens map[solana.PublicKey]Token
}

//go:embed tokens.json
var defaultTokens []byte

// NewTokenBehaviors builds a registry from explicit entries. Later entries for the same mint
// replace earlier ones.
func NewTokenBehaviors(tokens ...Token) (*TokenBehaviors, error) {
	r := &TokenBehaviors{tokens: make(map[solana.PublicKey]Token, len(tokens))}
	for _, t := range tokens {
		if t.Mint.IsZero() {
			return nil, fmt.Errorf("token entry without mint")
		}
		if t.Behavior == "" {
			t.Behavior = BehaviorStandard
		}
		if err := t.Behavior.Validate(); err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Mint, err)
		}
		r.tokens[t.Mint] = t
	}
	return r, nil
}

// DefaultTokenBehaviors returns the built-in registry of well-known mints.
func DefaultTokenBehaviors() *TokenBehaviors {
	tokens, err := parseTokens(defaultTokens)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded tokens.json: %v", err))
	}
	r, err := NewTokenBehaviors(tokens...)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded tokens.json: %v", err))
	}
	return r
}

// LoadTokenBehaviors reads a JSON array of tokens from path and layers it over the built-in
// defaults. An empty path returns the defaults.
func LoadTokenBehaviors(path string) (*TokenBehaviors, error) {
	base, err := parseTokens(defaultTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded tokens: %w", err)
	}
	if path == "" {
		return NewTokenBehaviors(base...)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token registry: %w", err)
	}
	extra, err := parseTokens(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token registry %s: %w", path, err)
	}
	return NewTokenBehaviors(append(base, extra...)...)
}

func parseTokens(data []byte) ([]Token, error) {
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Lookup returns the registry entry for a mint.
func (r *TokenBehaviors) Lookup(mint solana.PublicKey) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	t, ok := r.tokens[mint]
	return t, ok
}

// Behavior returns the mint's behavior, standard when unknown.
func (r *TokenBehaviors) Behavior(mint solana.PublicKey) Behavior {
	if t, ok := r.Lookup(mint); ok {
		return t.Behavior
	}
	return BehaviorStandard
}

// BalanceBased reports whether the mint's net changes come from balance snapshots.
func (r *TokenBehaviors) BalanceBased(mint solana.PublicKey) bool {
	return r.Behavior(mint).BalanceBased()
}

func (r *TokenBehaviors) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

// All returns the entries ordered by mint.
func (r *TokenBehaviors) All() []Token {
	if r == nil {
		return nil
	}
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint.String() < out[j].Mint.String() })
	return out
}
