package programs

// Raydium AMM v4 instruction discriminators (one byte).
const (
	raydiumInitialize2 = 1
	raydiumDeposit     = 3
	raydiumWithdraw    = 4
	raydiumSwapBaseIn  = 9
	raydiumSwapBaseOut = 11
)

var (
	raydiumSwapRoles18 = []string{
		"token_program", "amm", "amm_authority", "amm_open_orders", "amm_target_orders",
		"pool_coin_vault", "pool_pc_vault", "serum_program", "serum_market", "serum_bids",
		"serum_asks", "serum_event_queue", "serum_coin_vault", "serum_pc_vault",
		"serum_vault_signer", "user_source", "user_destination", "user_owner",
	}
	// Without amm_target_orders.
	raydiumSwapRoles17 = append(append([]string{}, raydiumSwapRoles18[:4]...), raydiumSwapRoles18[5:]...)

	raydiumInitialize2Roles = []string{
		"token_program", "associated_token_program", "system_program", "rent", "amm",
		"amm_authority", "amm_open_orders", "lp_mint", "coin_mint", "pc_mint",
		"pool_coin_vault", "pool_pc_vault", "pool_withdraw_queue", "amm_target_orders",
		"pool_temp_lp", "serum_program", "serum_market", "user_wallet", "user_coin",
		"user_pc", "user_lp",
	}
	raydiumDepositRoles = []string{
		"token_program", "amm", "amm_authority", "amm_open_orders", "amm_target_orders",
		"lp_mint", "pool_coin_vault", "pool_pc_vault", "serum_market", "user_coin",
		"user_pc", "user_lp", "user_owner", "serum_event_queue",
	}
	raydiumWithdrawRoles = []string{
		"token_program", "amm", "amm_authority", "amm_open_orders", "amm_target_orders",
		"lp_mint", "pool_coin_vault", "pool_pc_vault", "pool_withdraw_queue", "pool_temp_lp",
		"serum_program", "serum_market", "serum_coin_vault", "serum_pc_vault",
		"serum_vault_signer", "user_lp", "user_coin", "user_pc", "user_owner",
	}
)

// RaydiumAMMParser decodes Raydium's constant-product AMM (v4).
func RaydiumAMMParser() Parser {
	return newTable(ProgramRaydiumAMM, 1, RaydiumAMMProgramID).
		on(u8Disc(raydiumSwapBaseIn), raydiumSwap("SwapBaseIn", true)).
		on(u8Disc(raydiumSwapBaseOut), raydiumSwap("SwapBaseOut", false)).
		// nonce u8, open_time u64, init_pc_amount u64, init_coin_amount u64
		on(u8Disc(raydiumInitialize2), handler{
			name:        "Initialize2",
			roles:       raydiumInitialize2Roles,
			minAccounts: 18,
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				if _, err := d.ReadUint8(); err != nil {
					return nil, err
				}
				if _, err := readU64(d); err != nil {
					return nil, err
				}
				pc, err := readU64(d)
				if err != nil {
					return nil, err
				}
				coin, err := readU64(d)
				if err != nil {
					return nil, err
				}
				l := liquidityLayout{pool: 4, user: 17, lpMint: 7, mintA: 8, mintB: 9, vaultA: 10, vaultB: 11}.bind(c, LiquidityCreate)
				l.AmountA, l.AmountB = coin, pc
				return l, nil
			},
		}).
		// max_coin_amount u64, max_pc_amount u64, base_side u64
		on(u8Disc(raydiumDeposit), handler{
			name:        "Deposit",
			roles:       raydiumDepositRoles,
			minAccounts: 13,
			decode: func(c *call) (Payload, error) {
				coin, pc, err := twoU64(c)
				if err != nil {
					return nil, err
				}
				l := liquidityLayout{pool: 1, user: 12, lpMint: 5, mintA: -1, mintB: -1, vaultA: 6, vaultB: 7}.bind(c, LiquidityAdd)
				l.AmountA, l.AmountB = coin, pc
				return l, nil
			},
		}).
		// amount u64 (lp tokens)
		on(u8Disc(raydiumWithdraw), handler{
			name:  "Withdraw",
			roles: raydiumWithdrawRoles,
			decode: func(c *call) (Payload, error) {
				lp, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				l := liquidityLayout{pool: 1, user: 18, lpMint: 5, mintA: -1, mintB: -1, vaultA: 6, vaultB: 7}.bind(c, LiquidityRemove)
				l.LPAmount = lp
				return l, nil
			},
		})
}

// raydiumSwap handles both account layouts. The user accounts are always the last three.
func raydiumSwap(name string, exactIn bool) handler {
	h := handler{
		name:        name,
		roles:       raydiumSwapRoles18,
		layouts:     map[int][]string{17: raydiumSwapRoles17},
		minAccounts: 17,
	}
	h.decode = func(c *call) (Payload, error) {
		n := len(c.keys)
		l := swapLayout{pool: 1, user: n - 1, source: n - 3, destination: n - 2, vaultA: 5, vaultB: 6, inputMint: -1, outputMint: -1}
		if n == 17 {
			l.vaultA, l.vaultB = 4, 5
		}
		return swapHandler(name, nil, l, exactIn, nil).decode(c)
	}
	return h
}

var (
	cpmmSwapRoles = []string{
		"payer", "authority", "amm_config", "pool_state", "input_token_account",
		"output_token_account", "input_vault", "output_vault", "input_token_program",
		"output_token_program", "input_token_mint", "output_token_mint", "observation_state",
	}
	cpmmInitializeRoles = []string{
		"creator", "amm_config", "authority", "pool_state", "token_0_mint", "token_1_mint",
		"lp_mint", "creator_token_0", "creator_token_1", "creator_lp_token", "token_0_vault",
		"token_1_vault", "create_pool_fee", "observation_state", "token_program",
		"token_0_program", "token_1_program", "associated_token_program", "system_program", "rent",
	}
	cpmmLiquidityRoles = []string{
		"owner", "authority", "pool_state", "owner_lp_token", "token_0_account",
		"token_1_account", "token_0_vault", "token_1_vault", "token_program",
		"token_program_2022", "vault_0_mint", "vault_1_mint", "lp_mint",
	}
	cpmmSwapLayout      = swapLayout{pool: 3, user: 0, source: 4, destination: 5, vaultA: 6, vaultB: 7, inputMint: 10, outputMint: 11}
	cpmmLiquidityLayout = liquidityLayout{pool: 2, user: 0, lpMint: 12, mintA: 10, mintB: 11, vaultA: 6, vaultB: 7}
)

// RaydiumCPMMParser decodes Raydium's Anchor constant-product program.
func RaydiumCPMMParser() Parser {
	return newTable(ProgramRaydiumCPMM, 8, RaydiumCPMMProgramID).
		on(AnchorDiscriminator("swap_base_input"), swapHandler("swap_base_input", cpmmSwapRoles, cpmmSwapLayout, true, nil)).
		on(AnchorDiscriminator("swap_base_output"), swapHandler("swap_base_output", cpmmSwapRoles, cpmmSwapLayout, false, nil)).
		// init_amount_0 u64, init_amount_1 u64, open_time u64
		on(AnchorDiscriminator("initialize"), handler{
			name:        "initialize",
			roles:       cpmmInitializeRoles,
			minAccounts: 12,
			decode: func(c *call) (Payload, error) {
				a, b, err := twoU64(c)
				if err != nil {
					return nil, err
				}
				l := liquidityLayout{pool: 3, user: 0, lpMint: 6, mintA: 4, mintB: 5, vaultA: 10, vaultB: 11}.bind(c, LiquidityCreate)
				l.AmountA, l.AmountB = a, b
				return l, nil
			},
		}).
		on(AnchorDiscriminator("deposit"), cpmmLiquidity("deposit", LiquidityAdd)).
		on(AnchorDiscriminator("withdraw"), cpmmLiquidity("withdraw", LiquidityRemove))
}

// lp_token_amount u64, token_0 bound u64, token_1 bound u64
func cpmmLiquidity(name string, change LiquidityChange) handler {
	return handler{
		name:  name,
		roles: cpmmLiquidityRoles,
		decode: func(c *call) (Payload, error) {
			d := c.borsh()
			lp, err := readU64(d)
			if err != nil {
				return nil, err
			}
			a, err := readU64(d)
			if err != nil {
				return nil, err
			}
			b, err := readU64(d)
			if err != nil {
				return nil, err
			}
			l := cpmmLiquidityLayout.bind(c, change)
			l.LPAmount, l.AmountA, l.AmountB = lp, a, b
			return l, nil
		},
	}
}

var (
	clmmSwapRoles = []string{
		"payer", "amm_config", "pool_state", "input_token_account", "output_token_account",
		"input_vault", "output_vault", "observation_state", "token_program", "tick_array",
	}
	clmmSwapV2Roles = []string{
		"payer", "amm_config", "pool_state", "input_token_account", "output_token_account",
		"input_vault", "output_vault", "observation_state", "token_program",
		"token_program_2022", "memo_program", "input_vault_mint", "output_vault_mint",
	}
	clmmIncreaseRoles = []string{
		"nft_owner", "nft_account", "pool_state", "protocol_position", "personal_position",
		"tick_array_lower", "tick_array_upper", "token_account_0", "token_account_1",
		"token_vault_0", "token_vault_1", "token_program", "token_program_2022",
		"vault_0_mint", "vault_1_mint",
	}
	clmmDecreaseRoles = []string{
		"nft_owner", "nft_account", "personal_position", "pool_state", "protocol_position",
		"token_vault_0", "token_vault_1", "tick_array_lower", "tick_array_upper",
		"recipient_token_account_0", "recipient_token_account_1", "token_program",
		"token_program_2022", "memo_program", "vault_0_mint", "vault_1_mint",
	}
	clmmSwapLayout = swapLayout{pool: 2, user: 0, source: 3, destination: 4, vaultA: 5, vaultB: 6, inputMint: -1, outputMint: -1}
)

// RaydiumCLMMParser decodes Raydium's concentrated-liquidity program.
func RaydiumCLMMParser() Parser {
	v2 := clmmSwapLayout
	v2.inputMint, v2.outputMint = 11, 12
	return newTable(ProgramRaydiumCLMM, 8, RaydiumCLMMProgramID).
		// amount u64, other_amount_threshold u64, sqrt_price_limit_x64 u128, is_base_input bool
		on(AnchorDiscriminator("swap"), swapHandler("swap", clmmSwapRoles, clmmSwapLayout, true, clmmExtra)).
		on(AnchorDiscriminator("swap_v2"), swapHandler("swap_v2", clmmSwapV2Roles, v2, true, clmmExtra)).
		on(AnchorDiscriminator("increase_liquidity"), clmmLiquidity("increase_liquidity", clmmIncreaseRoles[:11], LiquidityAdd,
			liquidityLayout{pool: 2, user: 0, lpMint: -1, mintA: -1, mintB: -1, vaultA: 9, vaultB: 10})).
		on(AnchorDiscriminator("increase_liquidity_v2"), clmmLiquidity("increase_liquidity_v2", clmmIncreaseRoles, LiquidityAdd,
			liquidityLayout{pool: 2, user: 0, lpMint: -1, mintA: 13, mintB: 14, vaultA: 9, vaultB: 10})).
		on(AnchorDiscriminator("decrease_liquidity"), clmmLiquidity("decrease_liquidity", clmmDecreaseRoles[:11], LiquidityRemove,
			liquidityLayout{pool: 3, user: 0, lpMint: -1, mintA: -1, mintB: -1, vaultA: 5, vaultB: 6})).
		on(AnchorDiscriminator("decrease_liquidity_v2"), clmmLiquidity("decrease_liquidity_v2", clmmDecreaseRoles, LiquidityRemove,
			liquidityLayout{pool: 3, user: 0, lpMint: -1, mintA: 14, mintB: 15, vaultA: 5, vaultB: 6}))
}

// liquidity u128, amount_0 bound u64, amount_1 bound u64
func clmmLiquidity(name string, roles []string, change LiquidityChange, layout liquidityLayout) handler {
	return handler{
		name:        name,
		roles:       roles,
		minAccounts: 11,
		decode: func(c *call) (Payload, error) {
			l := layout.bind(c, change)
			if err := liquidityU128(c, &l); err != nil {
				return nil, err
			}
			return l, nil
		},
	}
}
