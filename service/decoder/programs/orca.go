package programs

import (
	bin "github.com/gagliardetto/binary"
)

var (
	whirlpoolSwapRoles = []string{
		"token_program", "token_authority", "whirlpool", "token_owner_account_a", "token_vault_a",
		"token_owner_account_b", "token_vault_b", "tick_array_0", "tick_array_1", "tick_array_2", "oracle",
	}
	whirlpoolSwapV2Roles = []string{
		"token_program_a", "token_program_b", "memo_program", "token_authority", "whirlpool",
		"token_mint_a", "token_mint_b", "token_owner_account_a", "token_vault_a",
		"token_owner_account_b", "token_vault_b", "tick_array_0", "tick_array_1", "tick_array_2", "oracle",
	}
	whirlpoolLiquidityRoles = []string{
		"whirlpool", "token_program", "position_authority", "position", "position_token_account",
		"token_owner_account_a", "token_owner_account_b", "token_vault_a", "token_vault_b",
		"tick_array_lower", "tick_array_upper",
	}
)

// whirlpool account positions; owner and vault pairs are in (a, b) order.
type whirlpoolLayout struct {
	authority, pool int
	ownerA, vaultA  int
	ownerB, vaultB  int
	mintA, mintB    int
}

// OrcaWhirlpoolParser decodes Orca's concentrated-liquidity program.
func OrcaWhirlpoolParser() Parser {
	v1 := whirlpoolLayout{authority: 1, pool: 2, ownerA: 3, vaultA: 4, ownerB: 5, vaultB: 6, mintA: -1, mintB: -1}
	v2 := whirlpoolLayout{authority: 3, pool: 4, ownerA: 7, vaultA: 8, ownerB: 9, vaultB: 10, mintA: 5, mintB: 6}
	return newTable(ProgramOrcaWhirlpool, 8, OrcaWhirlpoolProgramID).
		on(AnchorDiscriminator("swap"), whirlpoolSwap("swap", whirlpoolSwapRoles, v1)).
		on(AnchorDiscriminator("swap_v2"), whirlpoolSwap("swap_v2", whirlpoolSwapV2Roles, v2)).
		on(AnchorDiscriminator("increase_liquidity"), whirlpoolLiquidity("increase_liquidity", LiquidityAdd)).
		on(AnchorDiscriminator("decrease_liquidity"), whirlpoolLiquidity("decrease_liquidity", LiquidityRemove))
}

// amount u64, other_amount_threshold u64, sqrt_price_limit u128,
// amount_specified_is_input bool, a_to_b bool
func whirlpoolSwap(name string, roles []string, l whirlpoolLayout) handler {
	h := swapHandler(name, roles, swapLayout{
		pool: l.pool, user: l.authority, source: l.ownerA, destination: l.ownerB,
		vaultA: l.vaultA, vaultB: l.vaultB, inputMint: l.mintA, outputMint: l.mintB,
	}, true, nil)
	base := h.decode
	h.decode = func(c *call) (Payload, error) {
		p, err := base(c)
		if err != nil {
			return nil, err
		}
		s := p.(Swap)
		d := bin.NewBorshDecoder(c.args)
		if err := skip(d, 8+8+16); err != nil {
			return nil, err
		}
		isInput, err := d.ReadBool()
		if err != nil {
			return nil, err
		}
		aToB, err := d.ReadBool()
		if err != nil {
			return nil, err
		}
		s.ExactIn = isInput
		if !aToB {
			s.UserSource, s.UserDestination = s.UserDestination, s.UserSource
			s.InputMint, s.OutputMint = s.OutputMint, s.InputMint
		}
		return s, nil
	}
	return h
}

// liquidity_amount u128, token_a bound u64, token_b bound u64
func whirlpoolLiquidity(name string, change LiquidityChange) handler {
	layout := liquidityLayout{pool: 0, user: 2, lpMint: -1, mintA: -1, mintB: -1, vaultA: 7, vaultB: 8}
	return handler{
		name:  name,
		roles: whirlpoolLiquidityRoles,
		decode: func(c *call) (Payload, error) {
			l := layout.bind(c, change)
			if err := liquidityU128(c, &l); err != nil {
				return nil, err
			}
			return l, nil
		},
	}
}
