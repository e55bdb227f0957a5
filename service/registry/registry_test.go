package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/txn/txntest"
)

var key = txntest.Key

func TestDefaultTokenBehaviors(t *testing.T) {
	r := DefaultTokenBehaviors()

	tests := []struct {
		name     string
		mint     string
		behavior Behavior
		balance  bool
	}{
		{"mSOL rebases", "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So", BehaviorRebase, true},
		{"stSOL rebases", "7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj", BehaviorRebase, true},
		{"RAY is deflationary", "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R", BehaviorDeflationary, true},
		{"USDT is standard", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", BehaviorStandard, false},
		{"USDC is standard", programs.USDCMint.String(), BehaviorStandard, false},
		{"unknown mint defaults to standard", "11111111111111111111111111111111", BehaviorStandard, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mint := solana.MustPublicKeyFromBase58(tt.mint)
			assert.Equal(t, tt.behavior, r.Behavior(mint))
			assert.Equal(t, tt.balance, r.BalanceBased(mint))
		})
	}

	tok, ok := r.Lookup(programs.WrappedSOLMint)
	require.True(t, ok)
	assert.Equal(t, uint8(9), tok.Decimals)
	assert.Len(t, r.All(), r.Len())
}

func TestNewTokenBehaviors_Validation(t *testing.T) {
	_, err := NewTokenBehaviors(Token{Mint: key("m"), Behavior: "sticky"})
	assert.ErrorContains(t, err, "invalid token behavior")

	_, err = NewTokenBehaviors(Token{Behavior: BehaviorRebase})
	assert.Error(t, err)

	r, err := NewTokenBehaviors(Token{Mint: key("m")})
	require.NoError(t, err)
	assert.Equal(t, BehaviorStandard, r.Behavior(key("m")))
}

func TestLoadTokenBehaviors_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	content := `[
		{"mint": "` + key("taxed").String() + `", "behavior": "fee_on_transfer", "decimals": 6},
		{"mint": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", "behavior": "fee_on_transfer", "decimals": 6}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadTokenBehaviors(path)
	require.NoError(t, err)
	assert.True(t, r.BalanceBased(key("taxed")))
	assert.True(t, r.BalanceBased(programs.USDTMint), "file entries replace defaults")
	assert.True(t, r.BalanceBased(solana.MustPublicKeyFromBase58("mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So")))

	_, err = LoadTokenBehaviors(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read token registry")

	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0o600))
	_, err = LoadTokenBehaviors(path)
	assert.ErrorContains(t, err, "failed to parse token registry")

	defaults, err := LoadTokenBehaviors("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenBehaviors().Len(), defaults.Len())
}

func testPool(label string) Pool {
	return Pool{
		Address: key(label),
		DEX:     "raydium_amm_v4",
		MintA:   key(label + "-mint-a"),
		MintB:   key(label + "-mint-b"),
		VaultA:  key(label + "-vault-a"),
		VaultB:  key(label + "-vault-b"),
	}
}

func TestPools_Verify(t *testing.T) {
	p, q := testPool("p"), testPool("q")
	r, err := NewPools(p, q)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pool    solana.PublicKey
		vaults  [2]solana.PublicKey
		verdict Verdict
	}{
		{"registered pool and vaults", p.Address, [2]solana.PublicKey{p.VaultA, p.VaultB}, PoolVerified},
		{"vault order does not matter", p.Address, [2]solana.PublicKey{p.VaultB, p.VaultA}, PoolVerified},
		{"vaults alone", solana.PublicKey{}, [2]solana.PublicKey{p.VaultA, p.VaultB}, PoolVerified},
		{"foreign vault", p.Address, [2]solana.PublicKey{p.VaultA, q.VaultB}, PoolMismatch},
		{"same vault twice", p.Address, [2]solana.PublicKey{p.VaultA, p.VaultA}, PoolMismatch},
		{"unknown pool with registered vault", key("z"), [2]solana.PublicKey{key("x"), q.VaultA}, PoolMismatch},
		{"vaults of two pools", solana.PublicKey{}, [2]solana.PublicKey{p.VaultA, q.VaultB}, PoolMismatch},
		{"nothing registered", key("z"), [2]solana.PublicKey{key("x"), key("y")}, PoolUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verdict := r.Verify(tt.pool, tt.vaults)
			assert.Equal(t, tt.verdict, verdict, "got %s", verdict)
		})
	}
}

func TestPools_IndexAndReplace(t *testing.T) {
	p := testPool("p")
	moved := p
	moved.VaultB = key("p-vault-b2")

	r, err := NewPools(p, moved)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	_, ok := r.ByVault(p.VaultB)
	assert.False(t, ok, "replaced vault is unindexed")
	got, ok := r.ByVault(moved.VaultB)
	require.True(t, ok)
	assert.Equal(t, p.Address, got.Address)

	mint, ok := got.MintOfVault(p.VaultA)
	require.True(t, ok)
	assert.Equal(t, p.MintA, mint)

	extended, err := r.With(testPool("q"))
	require.NoError(t, err)
	assert.Equal(t, 2, extended.Len())
	assert.Equal(t, 1, r.Len(), "With leaves the receiver unchanged")

	_, err = NewPools(Pool{Address: key("bad"), VaultA: key("v")})
	assert.ErrorContains(t, err, "both vaults are required")
}

func TestLoadPools(t *testing.T) {
	p := testPool("file")
	path := filepath.Join(t.TempDir(), "pools.json")
	content := `[{"pool":"` + p.Address.String() + `","dex":"orca_whirlpool","mint_a":"` + p.MintA.String() +
		`","mint_b":"` + p.MintB.String() + `","vault_a":"` + p.VaultA.String() + `","vault_b":"` + p.VaultB.String() + `"}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadPools(path)
	require.NoError(t, err)
	got, ok := r.Lookup(p.Address)
	require.True(t, ok)
	assert.Equal(t, "orca_whirlpool", got.DEX)
	assert.Nil(t, got.LPMint)

	empty, err := LoadPools("")
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestPoolFromLiquidity(t *testing.T) {
	mintA, mintB, vaultA, vaultB, lp := key("a"), key("b"), key("va"), key("vb"), key("lp")
	create := programs.Liquidity{
		Change: programs.LiquidityCreate,
		Pool:   key("pool"),
		User:   key("creator"),
		LPMint: &lp,
		MintA:  &mintA,
		MintB:  &mintB,
		VaultA: &vaultA,
		VaultB: &vaultB,
	}

	p, ok := PoolFromLiquidity(programs.ProgramRaydiumCPMM, create)
	require.True(t, ok)
	assert.Equal(t, "raydium_cpmm", p.DEX)
	assert.Equal(t, vaultB, p.VaultB)
	require.NotNil(t, p.InitialProvider)
	assert.Equal(t, key("creator"), *p.InitialProvider)

	add := create
	add.Change = programs.LiquidityAdd
	_, ok = PoolFromLiquidity(programs.ProgramRaydiumCPMM, add)
	assert.False(t, ok)

	partial := create
	partial.VaultB = nil
	_, ok = PoolFromLiquidity(programs.ProgramRaydiumCPMM, partial)
	assert.False(t, ok)
}
