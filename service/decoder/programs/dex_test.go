package programs_test

import (
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder/programs"
)

// numbered returns n distinct keys labelled prefix0..prefixN-1.
func numbered(prefix string, n int) []solana.PublicKey {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return keys(labels...)
}

func swapPayload(t *testing.T, pi programs.ParsedInstruction) programs.Swap {
	t.Helper()
	require.Empty(t, pi.ParseError)
	s, ok := pi.Payload.(programs.Swap)
	require.True(t, ok, "payload is %T", pi.Payload)
	return s
}

func TestRaydiumAMM_SwapLayouts(t *testing.T) {
	data := cat([]byte{9}, le64(1_000), le64(950))

	t.Run("18 accounts", func(t *testing.T) {
		accts := numbered("ray", 18)
		pi := parseOne(t, programs.RaydiumAMMProgramID, data, accts...)
		assert.Equal(t, "SwapBaseIn", pi.Name)
		s := swapPayload(t, pi)
		assert.Equal(t, accts[1], s.Pool)
		assert.Equal(t, [2]solana.PublicKey{accts[5], accts[6]}, s.Vaults)
		assert.Equal(t, accts[15], s.UserSource)
		assert.Equal(t, accts[16], s.UserDestination)
		assert.Equal(t, accts[17], s.User)
		assert.True(t, s.ExactIn)
		assert.Equal(t, uint64(1_000), s.Amount)
		assert.Equal(t, uint64(950), s.Threshold)

		owner, ok := pi.Account("user_owner")
		require.True(t, ok)
		assert.Equal(t, accts[17], owner)
	})

	t.Run("17 accounts", func(t *testing.T) {
		accts := numbered("ray", 17)
		pi := parseOne(t, programs.RaydiumAMMProgramID, data, accts...)
		s := swapPayload(t, pi)
		assert.Equal(t, [2]solana.PublicKey{accts[4], accts[5]}, s.Vaults)
		assert.Equal(t, accts[14], s.UserSource)
		assert.Equal(t, accts[16], s.User)

		_, ok := pi.Account("amm_target_orders")
		assert.False(t, ok)
		vault, ok := pi.Account("pool_coin_vault")
		require.True(t, ok)
		assert.Equal(t, accts[4], vault)
	})

	t.Run("swap base out", func(t *testing.T) {
		accts := numbered("ray", 18)
		pi := parseOne(t, programs.RaydiumAMMProgramID, cat([]byte{11}, le64(10), le64(500)), accts...)
		assert.Equal(t, "SwapBaseOut", pi.Name)
		assert.False(t, swapPayload(t, pi).ExactIn)
	})
}

func TestRaydiumAMM_Initialize2(t *testing.T) {
	accts := numbered("init", 21)
	data := cat([]byte{1}, []byte{254}, le64(1_700_000_000), le64(5_000), le64(7_000))
	pi := parseOne(t, programs.RaydiumAMMProgramID, data, accts...)

	assert.Equal(t, "Initialize2", pi.Name)
	assert.Equal(t, programs.KindPoolCreate, pi.Kind())
	l := pi.Payload.(programs.Liquidity)
	assert.Equal(t, programs.LiquidityCreate, l.Change)
	assert.Equal(t, accts[4], l.Pool)
	assert.Equal(t, accts[17], l.User)
	assert.Equal(t, accts[8], *l.MintA)
	assert.Equal(t, accts[9], *l.MintB)
	assert.Equal(t, uint64(7_000), l.AmountA, "coin amount")
	assert.Equal(t, uint64(5_000), l.AmountB, "pc amount")
}

func TestRaydiumCPMM(t *testing.T) {
	accts := numbered("cpmm", 13)

	pi := parseOne(t, programs.RaydiumCPMMProgramID, cat(programs.AnchorDiscriminator("swap_base_input"), le64(100), le64(90)), accts...)
	s := swapPayload(t, pi)
	assert.Equal(t, accts[3], s.Pool)
	assert.Equal(t, accts[0], s.User)
	assert.Equal(t, accts[10], *s.InputMint)
	assert.Equal(t, accts[11], *s.OutputMint)
	assert.Equal(t, [2]solana.PublicKey{accts[6], accts[7]}, s.Vaults)

	init := numbered("cpmm-init", 20)
	pi = parseOne(t, programs.RaydiumCPMMProgramID, cat(programs.AnchorDiscriminator("initialize"), le64(1), le64(2), le64(0)), init...)
	l := pi.Payload.(programs.Liquidity)
	assert.Equal(t, programs.LiquidityCreate, l.Change)
	assert.Equal(t, init[6], *l.LPMint)
	assert.Equal(t, init[10], *l.VaultA)

	pi = parseOne(t, programs.RaydiumCPMMProgramID, cat(programs.AnchorDiscriminator("withdraw"), le64(50), le64(3), le64(4)), accts...)
	l = pi.Payload.(programs.Liquidity)
	assert.Equal(t, programs.LiquidityRemove, l.Change)
	assert.Equal(t, uint64(50), l.LPAmount)
	assert.Equal(t, accts[2], l.Pool)
}

func TestRaydiumCLMM_SwapV2(t *testing.T) {
	accts := numbered("clmm", 13)
	data := cat(programs.AnchorDiscriminator("swap_v2"), le64(500), le64(1), make([]byte, 16), []byte{0})
	s := swapPayload(t, parseOne(t, programs.RaydiumCLMMProgramID, data, accts...))

	assert.False(t, s.ExactIn)
	assert.Equal(t, accts[2], s.Pool)
	assert.Equal(t, accts[11], *s.InputMint)
	assert.Equal(t, accts[12], *s.OutputMint)
}

func TestOrcaWhirlpool_Direction(t *testing.T) {
	accts := numbered("whirl", 11)
	args := func(isInput, aToB byte) []byte {
		return cat(programs.AnchorDiscriminator("swap"), le64(1_000), le64(1), make([]byte, 16), []byte{isInput, aToB})
	}

	s := swapPayload(t, parseOne(t, programs.OrcaWhirlpoolProgramID, args(1, 1), accts...))
	assert.Equal(t, accts[2], s.Pool)
	assert.Equal(t, accts[1], s.User)
	assert.Equal(t, accts[3], s.UserSource)
	assert.Equal(t, accts[5], s.UserDestination)
	assert.True(t, s.ExactIn)

	s = swapPayload(t, parseOne(t, programs.OrcaWhirlpoolProgramID, args(0, 0), accts...))
	assert.Equal(t, accts[5], s.UserSource, "b to a swaps source and destination")
	assert.Equal(t, accts[3], s.UserDestination)
	assert.False(t, s.ExactIn)
	assert.Equal(t, [2]solana.PublicKey{accts[4], accts[6]}, s.Vaults, "vaults keep layout order")

	v2 := numbered("whirl-v2", 15)
	data := cat(programs.AnchorDiscriminator("swap_v2"), le64(1_000), le64(1), make([]byte, 16), []byte{1, 0})
	s = swapPayload(t, parseOne(t, programs.OrcaWhirlpoolProgramID, data, v2...))
	assert.Equal(t, v2[6], *s.InputMint)
	assert.Equal(t, v2[5], *s.OutputMint)
}

func TestMeteoraDLMM_Swap(t *testing.T) {
	accts := numbered("dlmm", 15)
	s := swapPayload(t, parseOne(t, programs.MeteoraDLMMProgramID, cat(programs.AnchorDiscriminator("swap"), le64(10), le64(9)), accts...))
	assert.Equal(t, accts[0], s.Pool)
	assert.Equal(t, accts[10], s.User)
	assert.Equal(t, accts[4], s.UserSource)
	assert.Equal(t, accts[5], s.UserDestination)

	short := parseOne(t, programs.MeteoraDLMMProgramID, cat(programs.AnchorDiscriminator("swap"), le64(10), le64(9)), accts[:9]...)
	assert.Contains(t, short.ParseError, "not enough accounts")
}

func anchorString(s string) []byte {
	return cat(le32(uint32(len(s))), []byte(s))
}

func TestPumpFun(t *testing.T) {
	accts := numbered("pump", 12)

	pi := parseOne(t, programs.PumpFunProgramID, cat(programs.AnchorDiscriminator("buy"), le64(1_000_000), le64(20_000_000)), accts...)
	assert.Equal(t, programs.KindSwap, pi.Kind())
	assert.Equal(t, programs.PumpTrade{
		Mint:                   accts[2],
		BondingCurve:           accts[3],
		AssociatedBondingCurve: accts[4],
		AssociatedUser:         accts[5],
		User:                   accts[6],
		IsBuy:                  true,
		TokenAmount:            1_000_000,
		SolLimit:               20_000_000,
	}, pi.Payload)

	create := numbered("pump-create", 14)
	data := cat(programs.AnchorDiscriminator("create"), anchorString("Dog"), anchorString("DOG"), anchorString("https://x"))
	pi = parseOne(t, programs.PumpFunProgramID, data, create...)
	assert.Equal(t, programs.PumpCreate{
		Mint: create[0], BondingCurve: create[2], User: create[7],
		Name: "Dog", Symbol: "DOG", URI: "https://x",
	}, pi.Payload)
}

func TestPumpFun_TradeEvent(t *testing.T) {
	mint, user := keys("mint")[0], keys("trader")[0]
	event := cat(
		programs.AnchorEventTag,
		programs.EventDiscriminator("TradeEvent"),
		mint[:], le64(2_000_000), le64(5_000_000), []byte{0}, user[:],
		le64(1_700_000_000), le64(30_000_000_000), le64(1_000_000_000_000),
	)
	pi := parseOne(t, programs.PumpFunProgramID, event, keys("event-authority")...)
	assert.Equal(t, "TradeEvent", pi.Name)
	assert.Equal(t, programs.SwapEvent{
		AMM:                  programs.PumpFunProgramID,
		User:                 user,
		InputMint:            mint,
		InputAmount:          5_000_000,
		OutputMint:           programs.WrappedSOLMint,
		OutputAmount:         2_000_000,
		Timestamp:            1_700_000_000,
		VirtualSolReserves:   30_000_000_000,
		VirtualTokenReserves: 1_000_000_000_000,
	}, pi.Payload)

	other := cat(programs.AnchorEventTag, programs.EventDiscriminator("CreateEvent"), make([]byte, 40))
	pi = parseOne(t, programs.PumpFunProgramID, other, keys("event-authority")...)
	assert.True(t, pi.IsUnparsed())
	assert.Empty(t, pi.ParseError)
}

func TestJupiter_Route(t *testing.T) {
	accts := numbered("jup", 9)
	// one-step route plan: vec len, swap variant, percent, input index, output index
	plan := cat(le32(1), []byte{7, 100, 0, 1})
	data := cat(programs.AnchorDiscriminator("route"), plan, le64(1_000_000), le64(24_000_000), le16(50), []byte{0})

	pi := parseOne(t, programs.JupiterV6ProgramID, data, accts...)
	assert.Equal(t, programs.KindRoute, pi.Kind())
	r := pi.Payload.(programs.Route)
	assert.Equal(t, accts[1], r.User)
	assert.Equal(t, accts[2], r.UserSource)
	assert.Equal(t, accts[3], r.UserDestination)
	assert.Nil(t, r.SourceMint)
	assert.Equal(t, accts[5], *r.DestinationMint)
	assert.Equal(t, uint64(1_000_000), r.Amount)
	assert.Equal(t, uint64(24_000_000), r.QuotedAmount)
	assert.Equal(t, uint16(50), r.SlippageBps)
	assert.False(t, r.ExactOut)

	shared := numbered("jup-shared", 13)
	data = cat(programs.AnchorDiscriminator("shared_accounts_exact_out_route"), []byte{3}, plan, le64(5), le64(6), le16(100), []byte{20})
	r = parseOne(t, programs.JupiterV6ProgramID, data, shared...).Payload.(programs.Route)
	assert.True(t, r.ExactOut)
	assert.Equal(t, shared[2], r.User)
	assert.Equal(t, shared[7], *r.SourceMint)
	assert.Equal(t, uint8(20), r.PlatformFeeBps)

	short := parseOne(t, programs.JupiterV6ProgramID, cat(programs.AnchorDiscriminator("route"), le64(1)), accts...)
	assert.Contains(t, short.ParseError, "route arguments")
}

func TestJupiter_SwapEvent(t *testing.T) {
	amm, in, out := keys("amm")[0], keys("in-mint")[0], keys("out-mint")[0]
	data := cat(programs.AnchorEventTag, programs.EventDiscriminator("SwapEvent"), amm[:], in[:], le64(10), out[:], le64(20))

	pi := parseOne(t, programs.JupiterV6ProgramID, data, keys("event-authority")...)
	assert.Equal(t, programs.KindSwapEvent, pi.Kind())
	assert.Equal(t, programs.SwapEvent{AMM: amm, InputMint: in, InputAmount: 10, OutputMint: out, OutputAmount: 20}, pi.Payload)
}
