package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
)

// Pool is the canonical identity of one AMM pool.
type Pool struct {
	Address solana.PublicKey  `json:"pool"`
	DEX     string            `json:"dex"`
	MintA   solana.PublicKey  `json:"mint_a"`
	MintB   solana.PublicKey  `json:"mint_b"`
	VaultA  solana.PublicKey  `json:"vault_a"`
	VaultB  solana.PublicKey  `json:"vault_b"`
	LPMint  *solana.PublicKey `json:"lp_mint,omitempty"`
	// InitialProvider is the wallet that created the pool, when discovered on chain.
	InitialProvider *solana.PublicKey `json:"initial_liquidity_provider,omitempty"`
	LastUpdated     time.Time         `json:"last_updated,omitempty"`
}

// HasVault reports whether v is one of the pool's vaults.
func (p Pool) HasVault(v solana.PublicKey) bool {
	return p.VaultA.Equals(v) || p.VaultB.Equals(v)
}

// MintOfVault returns the mint held by one of the pool's vaults.
func (p Pool) MintOfVault(v solana.PublicKey) (solana.PublicKey, bool) {
	switch {
	case p.VaultA.Equals(v):
		return p.MintA, true
	case p.VaultB.Equals(v):
		return p.MintB, true
	}
	return solana.PublicKey{}, false
}

// Verdict is the outcome of checking a pool and vault pair against the registry.
type Verdict int

const (
	// PoolUnknown means neither the pool nor its vaults are registered.
	PoolUnknown Verdict = iota
	PoolVerified
	// PoolMismatch means the registry knows the pool or a vault but the pairing differs.
	PoolMismatch
)

func (v Verdict) String() string {
	switch v {
	case PoolVerified:
		return "verified"
	case PoolMismatch:
		return "mismatch"
	}
	return "unknown"
}

// Pools indexes pools by address and by vault.
type Pools struct {
	byAddress map[solana.PublicKey]Pool
	byVault   map[solana.PublicKey]solana.PublicKey
}

// NewPools builds a pool registry. Later entries for the same address replace earlier ones.
func NewPools(pools ...Pool) (*Pools, error) {
	r := &Pools{
		byAddress: make(map[solana.PublicKey]Pool, len(pools)),
		byVault:   make(map[solana.PublicKey]solana.PublicKey, 2*len(pools)),
	}
	for _, p := range pools {
		if p.Address.IsZero() {
			return nil, fmt.Errorf("pool entry without address")
		}
		if p.VaultA.IsZero() || p.VaultB.IsZero() {
			return nil, fmt.Errorf("pool %s: both vaults are required", p.Address)
		}
		if old, ok := r.byAddress[p.Address]; ok {
			delete(r.byVault, old.VaultA)
			delete(r.byVault, old.VaultB)
		}
		r.byAddress[p.Address] = p
		r.byVault[p.VaultA] = p.Address
		r.byVault[p.VaultB] = p.Address
	}
	return r, nil
}

// LoadPools reads a JSON array of pools. An empty path returns an empty registry.
func LoadPools(path string) (*Pools, error) {
	if path == "" {
		return NewPools()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool registry: %w", err)
	}
	var pools []Pool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("failed to parse pool registry %s: %w", path, err)
	}
	return NewPools(pools...)
}

// With returns a new registry holding r's pools plus the given ones. r is left unchanged.
func (r *Pools) With(pools ...Pool) (*Pools, error) {
	return NewPools(append(r.All(), pools...)...)
}

// Lookup returns a pool by address.
func (r *Pools) Lookup(addr solana.PublicKey) (Pool, bool) {
	if r == nil {
		return Pool{}, false
	}
	p, ok := r.byAddress[addr]
	return p, ok
}

// ByVault returns the pool owning a vault.
func (r *Pools) ByVault(vault solana.PublicKey) (Pool, bool) {
	if r == nil {
		return Pool{}, false
	}
	addr, ok := r.byVault[vault]
	if !ok {
		return Pool{}, false
	}
	return r.byAddress[addr], true
}

// Verify checks a swap's pool and vault pair. A zero pool address is checked through the
// vaults alone.
func (r *Pools) Verify(pool solana.PublicKey, vaults [2]solana.PublicKey) (Pool, Verdict) {
	if p, ok := r.Lookup(pool); ok {
		if p.HasVault(vaults[0]) && p.HasVault(vaults[1]) && !vaults[0].Equals(vaults[1]) {
			return p, PoolVerified
		}
		return p, PoolMismatch
	}

	p0, ok0 := r.ByVault(vaults[0])
	p1, ok1 := r.ByVault(vaults[1])
	switch {
	case !ok0 && !ok1:
		return Pool{}, PoolUnknown
	case ok0 && ok1 && p0.Address.Equals(p1.Address) && (pool.IsZero() || pool.Equals(p0.Address)):
		return p0, PoolVerified
	case ok0:
		return p0, PoolMismatch
	}
	return p1, PoolMismatch
}

func (r *Pools) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byAddress)
}

// All returns the pools ordered by address.
func (r *Pools) All() []Pool {
	if r == nil {
		return nil
	}
	out := make([]Pool, 0, len(r.byAddress))
	for _, p := range r.byAddress {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// PoolFromLiquidity derives a registry entry from a pool-creation instruction. It reports
// false unless the instruction names the pool, both mints and both vaults.
func PoolFromLiquidity(program programs.Program, l programs.Liquidity) (Pool, bool) {
	if l.Change != programs.LiquidityCreate || l.Pool.IsZero() {
		return Pool{}, false
	}
	if l.MintA == nil || l.MintB == nil || l.VaultA == nil || l.VaultB == nil {
		return Pool{}, false
	}
	p := Pool{
		Address: l.Pool,
		DEX:     program.String(),
		MintA:   *l.MintA,
		MintB:   *l.MintB,
		VaultA:  *l.VaultA,
		VaultB:  *l.VaultB,
		LPMint:  l.LPMint,
	}
	if !l.User.IsZero() {
		user := l.User
		p.InitialProvider = &user
	}
	return p, true
}
