package programs

var (
	dlmmSwapRoles = []string{
		"lb_pair", "bin_array_bitmap_extension", "reserve_x", "reserve_y", "user_token_in",
		"user_token_out", "token_x_mint", "token_y_mint", "oracle", "host_fee_in", "user",
		"token_x_program", "token_y_program", "event_authority", "program",
	}
	dlmmLiquidityRoles = []string{
		"position", "lb_pair", "bin_array_bitmap_extension", "user_token_x", "user_token_y",
		"reserve_x", "reserve_y", "token_x_mint", "token_y_mint", "bin_array_lower",
		"bin_array_upper", "sender",
	}
)

// MeteoraDLMMParser decodes Meteora's dynamic liquidity market maker.
func MeteoraDLMMParser() Parser {
	swap := swapHandler("swap", dlmmSwapRoles, swapLayout{
		pool: 0, user: 10, source: 4, destination: 5, vaultA: 2, vaultB: 3, inputMint: -1, outputMint: -1,
	}, true, nil)
	swap.minAccounts = 11
	layout := liquidityLayout{pool: 1, user: 11, lpMint: -1, mintA: 7, mintB: 8, vaultA: 5, vaultB: 6}
	return newTable(ProgramMeteoraDLMM, 8, MeteoraDLMMProgramID).
		// amount_in u64, min_amount_out u64
		on(AnchorDiscriminator("swap"), swap).
		// LiquidityParameter { amount_x u64, amount_y u64, bin_liquidity_dist vec }
		on(AnchorDiscriminator("add_liquidity"), handler{
			name:  "add_liquidity",
			roles: dlmmLiquidityRoles,
			decode: func(c *call) (Payload, error) {
				x, y, err := twoU64(c)
				if err != nil {
					return nil, err
				}
				l := layout.bind(c, LiquidityAdd)
				l.AmountA, l.AmountB = x, y
				return l, nil
			},
		}).
		// removal amounts are per-bin basis points; the token amounts only show in transfers
		on(AnchorDiscriminator("remove_liquidity"), handler{
			name:  "remove_liquidity",
			roles: dlmmLiquidityRoles,
			decode: func(c *call) (Payload, error) {
				return layout.bind(c, LiquidityRemove), nil
			},
		})
}
