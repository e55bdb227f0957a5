package enrich_test

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
	"github.com/brojonat/txdecode/service/decoder/resolve"
	"github.com/brojonat/txdecode/service/decoder/txn/txntest"
	"github.com/brojonat/txdecode/service/registry"
)

var key = txntest.Key

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mustTokens(t *testing.T, tokens ...registry.Token) *registry.TokenBehaviors {
	t.Helper()
	r, err := registry.NewTokenBehaviors(tokens...)
	require.NoError(t, err)
	return r
}

func mustPools(t *testing.T, pools ...registry.Pool) *registry.Pools {
	t.Helper()
	r, err := registry.NewPools(pools...)
	require.NoError(t, err)
	return r
}

// enrichTx runs the whole pipeline after normalization over a built transaction.
func enrichTx(t *testing.T, b *txntest.Builder, tokens *registry.TokenBehaviors, pools *registry.Pools) []enrich.Event {
	t.Helper()
	tx := b.Build(t)
	parsed := programs.DefaultCatalog().ParseAll(tx)
	c := enrich.NewContext(tx, parsed, tokens, pools)
	chain := enrich.DefaultChain(nil)

	var out []enrich.Event
	for _, r := range resolve.Resolve(tx, parsed) {
		ev := enrich.Event{Event: r}
		chain.Run(c, &ev)
		out = append(out, ev)
	}
	return out
}

func TestNetTokenChanges_AmountBased(t *testing.T) {
	alice, bob := key("alice"), key("bob")
	aliceATA, bobATA, mint := key("alice-ata"), key("bob-ata"), key("mint")

	b := txntest.New(alice)
	b.Instruction(solana.TokenProgramID, cat([]byte{3}, le64(100)), aliceATA, bobATA, alice)
	b.TokenBalance(aliceATA, mint, alice, 1_000, 900, 6)
	b.TokenBalance(bobATA, mint, bob, 0, 100, 6)

	events := enrichTx(t, b, mustTokens(t), mustPools(t))
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, map[string]map[string]int64{
		alice.String(): {mint.String(): -100},
		bob.String():   {mint.String(): 100},
	}, ev.NetTokenChanges)
	require.Len(t, ev.TokenFlows, 2)
	assert.Equal(t, enrich.DirectionOut, ev.TokenFlows[0].Direction)
	assert.Equal(t, bob, ev.TokenFlows[1].Owner)
	assert.Equal(t, uint8(6), ev.TokenDecimals[mint.String()])
	assert.False(t, ev.Tags.Has(qc.BalanceBasedAmounts))
}

func TestNetTokenChanges_NativeTransfer(t *testing.T) {
	alice, bob := key("alice"), key("bob")
	b := txntest.New(alice)
	b.Instruction(solana.SystemProgramID, cat(le32(2), le64(5_000)), alice, bob)

	events := enrichTx(t, b, mustTokens(t), mustPools(t))
	require.Len(t, events, 1)
	wsol := programs.WrappedSOLMint.String()
	assert.Equal(t, map[string]map[string]int64{
		alice.String(): {wsol: -5_000},
		bob.String():   {wsol: 5_000},
	}, events[0].NetTokenChanges)
}

func TestNetTokenChanges_SelfTransferNetsToNothing(t *testing.T) {
	alice := key("alice")
	a, b2, mint := key("alice-1"), key("alice-2"), key("mint")
	b := txntest.New(alice)
	b.Instruction(solana.TokenProgramID, cat([]byte{3}, le64(7)), a, b2, alice)
	b.TokenBalance(a, mint, alice, 7, 0, 0)
	b.TokenBalance(b2, mint, alice, 0, 7, 0)

	events := enrichTx(t, b, mustTokens(t), mustPools(t))
	require.Len(t, events, 1)
	assert.Empty(t, events[0].NetTokenChanges)
}

func TestNetTokenChanges_FeeOnTransferUsesBalances(t *testing.T) {
	alice, bob := key("alice"), key("bob")
	aliceATA, bobATA, taxed := key("alice-ata"), key("bob-ata"), key("taxed")
	tokens := mustTokens(t, registry.Token{Mint: taxed, Behavior: registry.BehaviorFeeOnTransfer, Decimals: 6})

	b := txntest.New(alice)
	b.Instruction(solana.TokenProgramID, cat([]byte{3}, le64(100)), aliceATA, bobATA, alice)
	b.TokenBalance(aliceATA, taxed, alice, 1_000, 900, 6)
	b.TokenBalance(bobATA, taxed, bob, 0, 98, 6)

	events := enrichTx(t, b, tokens, mustPools(t))
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, map[string]map[string]int64{
		alice.String(): {taxed.String(): -100},
		bob.String():   {taxed.String(): 98},
	}, ev.NetTokenChanges)
	assert.True(t, ev.Tags.Has(qc.BalanceBasedAmounts))
	assert.Equal(t, qc.StatusSuccess, ev.QCStatus)
}

func TestNetTokenChanges_BalanceBasedWithoutSnapshots(t *testing.T) {
	alice := key("alice")
	rebasing := key("rebasing")
	tokens := mustTokens(t, registry.Token{Mint: rebasing, Behavior: registry.BehaviorRebase})

	b := txntest.New(alice)
	b.Instruction(solana.TokenProgramID, cat([]byte{12}, le64(100), []byte{9}), key("src"), rebasing, key("dst"), alice)

	events := enrichTx(t, b, tokens, mustPools(t))
	require.Len(t, events, 1)
	ev := events[0]
	assert.Empty(t, ev.NetTokenChanges)
	assert.True(t, ev.Tags.Has(qc.MissingTokenBalances))
	assert.Equal(t, qc.StatusPartial, ev.QCStatus)
}

func TestNetTokenChanges_UnknownMint(t *testing.T) {
	alice := key("alice")
	b := txntest.New(alice)
	b.Instruction(solana.TokenProgramID, cat([]byte{3}, le64(1)), key("src"), key("dst"), alice)

	events := enrichTx(t, b, mustTokens(t), mustPools(t))
	require.Len(t, events, 1)
	assert.True(t, events[0].Tags.Has(qc.MissingTokenBalances))
	assert.Empty(t, events[0].TokenFlows)
}

type priceCase struct {
	name       string
	pools      []registry.Pool
	balances   func(b *txntest.Builder)
	status     qc.Status
	tag        qc.Tag
	prePoolIn  uint64
	prePoolOut uint64
	amountIn   int64
	amountOut  int64
	hasValue   bool
}

func TestPriceImpact(t *testing.T) {
	payer, owner := key("payer"), key("pool-authority")
	pool, vaultA, vaultB := key("pool"), key("vault-a"), key("vault-b")
	mintA, mintB := key("mint-a"), key("mint-b")
	registered := registry.Pool{Address: pool, DEX: "raydium_amm_v4", MintA: mintA, MintB: mintB, VaultA: vaultA, VaultB: vaultB}

	standard := func(b *txntest.Builder) {
		b.TokenBalance(vaultA, mintA, owner, 1_000_000, 1_100_000, 6)
		b.TokenBalance(vaultB, mintB, owner, 2_000_000, 1_900_000, 6)
	}

	tests := []priceCase{
		{
			name:      "standard swap",
			pools:     []registry.Pool{registered},
			balances:  standard,
			status:    qc.StatusSuccess,
			prePoolIn: 1_000_000, prePoolOut: 2_000_000, amountIn: 100_000, amountOut: 100_000,
			hasValue: true,
		},
		{
			name:  "mint mismatch",
			pools: []registry.Pool{registered},
			balances: func(b *txntest.Builder) {
				b.TokenBalance(vaultA, key("mint-x"), owner, 1_000_000, 900_000, 6)
				b.TokenBalance(vaultB, key("mint-y"), owner, 2_000_000, 2_100_000, 6)
			},
			status: qc.StatusError,
			tag:    qc.MintMismatch,
		},
		{
			name:  "both vaults grew",
			pools: []registry.Pool{registered},
			balances: func(b *txntest.Builder) {
				b.TokenBalance(vaultA, mintA, owner, 1_000_000, 1_100_000, 6)
				b.TokenBalance(vaultB, mintB, owner, 2_000_000, 2_100_000, 6)
			},
			status:    qc.StatusError,
			tag:       qc.BalanceChangeMismatch,
			prePoolIn: 1_000_000, prePoolOut: 2_000_000, amountIn: 100_000, amountOut: -100_000,
		},
		{
			name: "registry pairs the pool with another vault",
			pools: []registry.Pool{{
				Address: pool, DEX: "raydium_amm_v4", MintA: mintA, MintB: mintB, VaultA: vaultA, VaultB: key("vault-c"),
			}},
			balances:  standard,
			status:    qc.StatusPartial,
			tag:       qc.VaultMismatch,
			prePoolIn: 1_000_000, prePoolOut: 2_000_000, amountIn: 100_000, amountOut: 100_000,
			hasValue: true,
		},
		{
			name:      "pool not in registry",
			balances:  standard,
			status:    qc.StatusPartial,
			tag:       qc.PoolUnverified,
			prePoolIn: 1_000_000, prePoolOut: 2_000_000, amountIn: 100_000, amountOut: 100_000,
			hasValue: true,
		},
		{
			name:   "missing pre balances",
			pools:  []registry.Pool{registered},
			status: qc.StatusError,
			tag:    qc.MissingPreBalances,
		},
		{
			name:  "missing post balance",
			pools: []registry.Pool{registered},
			balances: func(b *txntest.Builder) {
				b.TokenBalance(vaultA, mintA, owner, 1_000_000, 1_100_000, 6)
				b.PreTokenBalance(vaultB, mintB, owner, 2_000_000, 6)
			},
			status: qc.StatusError,
			tag:    qc.MissingPostBalances,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := txntest.New(payer)
			if tt.balances != nil {
				tt.balances(b)
			}
			tx := b.Build(t)
			c := enrich.NewContext(tx, nil, mustTokens(t), mustPools(t, tt.pools...))

			ev := &enrich.Event{Event: resolve.Event{
				Type: resolve.EventSwap,
				Hops: []resolve.Hop{{Pool: pool, Vaults: [2]solana.PublicKey{vaultA, vaultB}, InputMint: mintA, OutputMint: mintB}},
			}}
			enrich.PriceImpacts{}.Enrich(c, ev)

			require.Len(t, ev.PriceImpact, 1)
			pi := ev.PriceImpact[0]
			assert.Equal(t, tt.status, pi.Status)
			if tt.tag != "" {
				assert.True(t, pi.Tags.Has(tt.tag), "tags %v", pi.Tags)
				assert.True(t, ev.Tags.Has(tt.tag), "event carries the hop tags")
			} else {
				assert.Empty(t, pi.Tags)
			}
			assert.Equal(t, tt.prePoolIn, pi.PrePoolIn)
			assert.Equal(t, tt.prePoolOut, pi.PrePoolOut)
			assert.Equal(t, tt.amountIn, pi.AmountIn)
			assert.Equal(t, tt.amountOut, pi.AmountOut)
			if tt.hasValue {
				require.NotNil(t, pi.Value)
				assert.InDelta(t, 100_000.0/2_000_000-100_000.0/1_000_000, *pi.Value, 1e-12)
			} else {
				assert.Nil(t, pi.Value)
			}
		})
	}
}

func TestPriceImpact_CLMMReversedVaultOrder(t *testing.T) {
	owner := key("pool-authority")
	pool, v1, v2 := key("clmm"), key("clmm-vault-1"), key("clmm-vault-2")
	mintA, mintB := key("mint-a"), key("mint-b")

	b := txntest.New(key("payer"))
	b.TokenBalance(v1, mintA, owner, 5_000_000, 5_200_000, 6)
	b.TokenBalance(v2, mintB, owner, 8_000_000, 7_800_000, 6)
	tx := b.Build(t)
	pools := mustPools(t, registry.Pool{Address: pool, DEX: "raydium_clmm", MintA: mintB, MintB: mintA, VaultA: v2, VaultB: v1})
	c := enrich.NewContext(tx, nil, mustTokens(t), pools)

	ev := &enrich.Event{Event: resolve.Event{
		Type: resolve.EventSwap,
		Hops: []resolve.Hop{
			{Pool: pool, Vaults: [2]solana.PublicKey{v1, v2}, InputMint: mintA, OutputMint: mintB},
			{Pool: key("pumpfun-curve"), InputMint: mintB, OutputMint: programs.WrappedSOLMint},
		},
	}}
	enrich.PriceImpacts{}.Enrich(c, ev)

	require.Len(t, ev.PriceImpact, 1, "hops without vaults are skipped")
	pi := ev.PriceImpact[0]
	assert.Equal(t, qc.StatusSuccess, pi.Status)
	assert.Equal(t, uint64(5_000_000), pi.PrePoolIn)
	assert.Equal(t, uint64(8_000_000), pi.PrePoolOut)
	assert.Equal(t, int64(200_000), pi.AmountIn)
	assert.Equal(t, int64(200_000), pi.AmountOut)
	assert.Equal(t, v1, pi.InputVault)
	require.NotNil(t, pi.Value)
}

func TestPriceImpact_EndToEndSwap(t *testing.T) {
	user := key("user")
	src, dst := key("user-a"), key("user-b")
	accts := make([]solana.PublicKey, 18)
	for i := range accts {
		accts[i] = key("ray-" + string(rune('a'+i)))
	}
	accts[15], accts[16], accts[17] = src, dst, user
	mintA, mintB := key("mint-a"), key("mint-b")

	b := txntest.New(user)
	swap := b.Instruction(programs.RaydiumAMMProgramID, cat([]byte{9}, le64(100), le64(90)), accts...)
	b.Inner(swap, solana.TokenProgramID, cat([]byte{3}, le64(100)), src, accts[5], user)
	b.Inner(swap, solana.TokenProgramID, cat([]byte{3}, le64(95)), accts[6], dst, accts[2])
	b.TokenBalance(src, mintA, user, 100, 0, 6)
	b.TokenBalance(dst, mintB, user, 0, 95, 6)
	b.TokenBalance(accts[5], mintA, accts[2], 10_000, 10_100, 6)
	b.TokenBalance(accts[6], mintB, accts[2], 20_000, 19_905, 6)
	pools := mustPools(t, registry.Pool{
		Address: accts[1], DEX: "raydium_amm_v4", MintA: mintA, MintB: mintB, VaultA: accts[5], VaultB: accts[6],
	})

	events := enrichTx(t, b, mustTokens(t), pools)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, resolve.EventSwap, ev.Type)
	require.Len(t, ev.PriceImpact, 1)
	assert.Equal(t, qc.StatusSuccess, ev.PriceImpact[0].Status)
	assert.Equal(t, int64(95), ev.PriceImpact[0].AmountOut)
	assert.Equal(t, int64(-100), ev.NetTokenChanges[user.String()][mintA.String()])
	assert.Equal(t, int64(95), ev.NetTokenChanges[user.String()][mintB.String()])
	assert.Equal(t, qc.StatusSuccess, ev.QCStatus)
}

func TestNetTokenChanges_TempWrappedSOLSwap(t *testing.T) {
	tests := []struct {
		name         string
		tempSnapshot bool
	}{
		{name: "temp account in snapshots", tempSnapshot: true},
		{name: "temp account only in its create", tempSnapshot: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := key("user")
			temp, usdcATA := key("temp-wsol"), key("user-usdc")
			ray := make([]solana.PublicKey, 18)
			for i := range ray {
				ray[i] = key("ray-" + string(rune('a'+i)))
			}
			ray[15], ray[16], ray[17] = temp, usdcATA, user

			b := txntest.New(user)
			b.Instruction(programs.AssociatedTokenID, []byte{1}, user, temp, user, programs.WrappedSOLMint, solana.SystemProgramID, solana.TokenProgramID)
			b.Instruction(solana.SystemProgramID, cat(le32(2), le64(1_000_000_000)), user, temp)
			b.Instruction(solana.TokenProgramID, []byte{17}, temp)
			swap := b.Instruction(programs.RaydiumAMMProgramID, cat([]byte{9}, le64(1_000_000_000), le64(1)), ray...)
			b.Inner(swap, solana.TokenProgramID, cat([]byte{3}, le64(1_000_000_000)), temp, ray[5], user)
			b.Inner(swap, solana.TokenProgramID, cat([]byte{3}, le64(150_000_000)), ray[6], usdcATA, ray[2])
			b.Instruction(solana.TokenProgramID, []byte{9}, temp, user, user)
			if tt.tempSnapshot {
				b.TokenBalance(temp, programs.WrappedSOLMint, user, 0, 0, 9)
			}
			b.TokenBalance(usdcATA, programs.USDCMint, user, 0, 150_000_000, 6)

			events := enrichTx(t, b, mustTokens(t), mustPools(t))
			require.Len(t, events, 1)
			ev := events[0]
			require.Equal(t, resolve.PatternTempATASwap, ev.Pattern)

			wsol, usdc := programs.WrappedSOLMint.String(), programs.USDCMint.String()
			assert.Equal(t, map[string]int64{wsol: -1_000_000_000, usdc: 150_000_000}, ev.NetTokenChanges[user.String()])
			assert.NotContains(t, ev.NetTokenChanges, temp.String())
			for _, l := range ev.Legs {
				if l.Mint.Equals(programs.WrappedSOLMint) {
					assert.Equal(t, l.AmountChange, ev.NetTokenChanges[user.String()][wsol])
				}
			}
		})
	}
}

func TestComputeUnits(t *testing.T) {
	payer := key("payer")

	t.Run("limit and price", func(t *testing.T) {
		b := txntest.New(payer).ComputeUnits(150_000)
		b.Instruction(programs.ComputeBudgetProgramID, cat([]byte{2}, le32(200_000)))
		b.Instruction(programs.ComputeBudgetProgramID, cat([]byte{3}, le64(10_000)))
		b.Instruction(solana.SystemProgramID, cat(le32(2), le64(1)), payer, key("to"))

		events := enrichTx(t, b, mustTokens(t), mustPools(t))
		require.Len(t, events, 1)
		ev := events[0]
		require.NotNil(t, ev.ComputeUnitsConsumed)
		assert.Equal(t, uint64(150_000), *ev.ComputeUnitsConsumed)
		require.NotNil(t, ev.ComputeUnitLimit)
		assert.Equal(t, uint32(200_000), *ev.ComputeUnitLimit)
		require.NotNil(t, ev.PriorityFeeLamports)
		assert.Equal(t, uint64(2_000), *ev.PriorityFeeLamports)
		assert.False(t, ev.Tags.Has(qc.ComputeUnitsUnavailable))
	})

	t.Run("price without limit uses consumed", func(t *testing.T) {
		b := txntest.New(payer).ComputeUnits(3)
		b.Instruction(programs.ComputeBudgetProgramID, cat([]byte{3}, le64(500_000)))
		b.Instruction(solana.SystemProgramID, cat(le32(2), le64(1)), payer, key("to"))

		events := enrichTx(t, b, mustTokens(t), mustPools(t))
		require.NotNil(t, events[0].PriorityFeeLamports)
		assert.Equal(t, uint64(2), *events[0].PriorityFeeLamports, "rounded up")
	})

	t.Run("no metadata", func(t *testing.T) {
		b := txntest.New(payer)
		b.Instruction(solana.SystemProgramID, cat(le32(2), le64(1)), payer, key("to"))

		events := enrichTx(t, b, mustTokens(t), mustPools(t))
		ev := events[0]
		assert.Nil(t, ev.ComputeUnitsConsumed)
		assert.Nil(t, ev.PriorityFeeLamports)
		assert.True(t, ev.Tags.Has(qc.ComputeUnitsUnavailable))
		assert.Equal(t, qc.StatusSuccess, ev.QCStatus, "info tags do not degrade status")
	})
}

func TestPriorityFee(t *testing.T) {
	assert.Equal(t, uint64(0), enrich.PriorityFee(0, 1_000))
	assert.Equal(t, uint64(1), enrich.PriorityFee(1, 1))
	assert.Equal(t, uint64(1_400), enrich.PriorityFee(1_400_000, 1_000))
	assert.Equal(t, ^uint64(0), enrich.PriorityFee(^uint64(0), ^uint64(0)))
}

type explodingEnricher struct{}

func (explodingEnricher) Name() string { return "exploding" }

func (explodingEnricher) Enrich(*enrich.Context, *enrich.Event) { panic("kaboom") }

func TestChain_ContainsPanics(t *testing.T) {
	payer := key("payer")
	b := txntest.New(payer).ComputeUnits(10)
	b.Instruction(solana.SystemProgramID, cat(le32(2), le64(1)), payer, key("to"))
	tx := b.Build(t)
	parsed := programs.DefaultCatalog().ParseAll(tx)
	resolved := resolve.Resolve(tx, parsed)
	require.Len(t, resolved, 1)

	chain := enrich.NewChain(nil, explodingEnricher{}, enrich.ComputeUnits{})
	assert.Equal(t, []string{"exploding", "compute_units"}, chain.Names())

	ev := enrich.Event{Event: resolved[0]}
	chain.Run(enrich.NewContext(tx, parsed, mustTokens(t), mustPools(t)), &ev)

	assert.True(t, ev.Tags.Has(qc.EnricherPanic))
	assert.Contains(t, ev.Details["enricher_panic"], "exploding: kaboom")
	require.NotNil(t, ev.ComputeUnitsConsumed, "later enrichers still run")
	assert.Equal(t, qc.StatusError, ev.QCStatus)
}
