package programs

import (
	"github.com/gagliardetto/solana-go"
)

// SPL token instruction discriminators (one byte).
const (
	tokenInitializeMint     = 0
	tokenInitializeAccount  = 1
	tokenTransfer           = 3
	tokenApprove            = 4
	tokenRevoke             = 5
	tokenSetAuthority       = 6
	tokenMintTo             = 7
	tokenBurn               = 8
	tokenCloseAccount       = 9
	tokenFreezeAccount      = 10
	tokenThawAccount        = 11
	tokenTransferChecked    = 12
	tokenApproveChecked     = 13
	tokenMintToChecked      = 14
	tokenBurnChecked        = 15
	tokenInitializeAccount2 = 16
	tokenSyncNative         = 17
	tokenInitializeAccount3 = 18
	tokenInitializeMint2    = 20
)

func TokenParser() Parser     { return tokenTable(ProgramToken, TokenProgramID) }
func Token2022Parser() Parser { return tokenTable(ProgramToken2022, Token2022ProgramID) }

// IsTokenProgram reports whether p is one of the two SPL token programs.
func IsTokenProgram(p Program) bool {
	return p == ProgramToken || p == ProgramToken2022
}

func tokenTable(program Program, id solana.PublicKey) *table {
	return newTable(program, 1, id).
		on(u8Disc(tokenInitializeMint), initializeMintHandler("InitializeMint", []string{"mint", "rent"})).
		on(u8Disc(tokenInitializeMint2), initializeMintHandler("InitializeMint2", []string{"mint"})).
		on(u8Disc(tokenInitializeAccount), handler{
			name:        "InitializeAccount",
			roles:       []string{"account", "mint", "owner", "rent"},
			minAccounts: 3,
			decode: func(c *call) (Payload, error) {
				return TokenInitializeAccount{Account: c.at(0), Mint: c.at(1), Owner: c.at(2)}, nil
			},
		}).
		on(u8Disc(tokenInitializeAccount2), initializeAccountWithOwner("InitializeAccount2", []string{"account", "mint", "rent"})).
		on(u8Disc(tokenInitializeAccount3), initializeAccountWithOwner("InitializeAccount3", []string{"account", "mint"})).
		// [1..9] amount u64
		on(u8Disc(tokenTransfer), handler{
			name:  "Transfer",
			roles: []string{"source", "destination", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return TokenTransfer{Source: c.at(0), Destination: c.at(1), Authority: c.at(2), Amount: amount}, nil
			},
		}).
		// [1..9] amount u64, [9] decimals u8
		on(u8Disc(tokenTransferChecked), handler{
			name:  "TransferChecked",
			roles: []string{"source", "mint", "destination", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, decimals, err := amountDecimals(c)
				if err != nil {
					return nil, err
				}
				mint := c.at(1)
				return TokenTransfer{
					Source: c.at(0), Destination: c.at(2), Authority: c.at(3),
					Amount: amount, Mint: &mint, Decimals: &decimals,
				}, nil
			},
		}).
		on(u8Disc(tokenApprove), handler{
			name:  "Approve",
			roles: []string{"source", "delegate", "owner"},
			decode: func(c *call) (Payload, error) {
				amount, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return TokenApprove{Source: c.at(0), Delegate: c.at(1), Owner: c.at(2), Amount: amount}, nil
			},
		}).
		on(u8Disc(tokenApproveChecked), handler{
			name:  "ApproveChecked",
			roles: []string{"source", "mint", "delegate", "owner"},
			decode: func(c *call) (Payload, error) {
				amount, _, err := amountDecimals(c)
				if err != nil {
					return nil, err
				}
				return TokenApprove{Source: c.at(0), Delegate: c.at(2), Owner: c.at(3), Amount: amount}, nil
			},
		}).
		on(u8Disc(tokenRevoke), handler{
			name:  "Revoke",
			roles: []string{"source", "owner"},
			decode: func(c *call) (Payload, error) {
				return TokenRevoke{Source: c.at(0), Owner: c.at(1)}, nil
			},
		}).
		// [1] authority type u8, [2] option tag, [3..35] new authority
		on(u8Disc(tokenSetAuthority), handler{
			name:  "SetAuthority",
			roles: []string{"account", "current_authority"},
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				kind, err := d.ReadUint8()
				if err != nil {
					return nil, err
				}
				next, err := readCOptionPubkey(d)
				if err != nil {
					return nil, err
				}
				return TokenSetAuthority{Account: c.at(0), AuthorityType: kind, NewAuthority: next}, nil
			},
		}).
		on(u8Disc(tokenMintTo), handler{
			name:  "MintTo",
			roles: []string{"mint", "account", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return TokenMintTo{Mint: c.at(0), Account: c.at(1), Authority: c.at(2), Amount: amount}, nil
			},
		}).
		on(u8Disc(tokenMintToChecked), handler{
			name:  "MintToChecked",
			roles: []string{"mint", "account", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, decimals, err := amountDecimals(c)
				if err != nil {
					return nil, err
				}
				return TokenMintTo{Mint: c.at(0), Account: c.at(1), Authority: c.at(2), Amount: amount, Decimals: &decimals}, nil
			},
		}).
		on(u8Disc(tokenBurn), handler{
			name:  "Burn",
			roles: []string{"account", "mint", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return TokenBurn{Account: c.at(0), Mint: c.at(1), Authority: c.at(2), Amount: amount}, nil
			},
		}).
		on(u8Disc(tokenBurnChecked), handler{
			name:  "BurnChecked",
			roles: []string{"account", "mint", "authority"},
			decode: func(c *call) (Payload, error) {
				amount, decimals, err := amountDecimals(c)
				if err != nil {
					return nil, err
				}
				return TokenBurn{Account: c.at(0), Mint: c.at(1), Authority: c.at(2), Amount: amount, Decimals: &decimals}, nil
			},
		}).
		on(u8Disc(tokenCloseAccount), handler{
			name:  "CloseAccount",
			roles: []string{"account", "destination", "owner"},
			decode: func(c *call) (Payload, error) {
				return TokenCloseAccount{Account: c.at(0), Destination: c.at(1), Owner: c.at(2)}, nil
			},
		}).
		on(u8Disc(tokenFreezeAccount), freezeHandler("FreezeAccount", false)).
		on(u8Disc(tokenThawAccount), freezeHandler("ThawAccount", true)).
		on(u8Disc(tokenSyncNative), handler{
			name:  "SyncNative",
			roles: []string{"account"},
			decode: func(c *call) (Payload, error) {
				return TokenSyncNative{Account: c.at(0)}, nil
			},
		})
}

// [1] decimals u8, [2..34] mint authority, [34] option tag, [35..67] freeze authority
func initializeMintHandler(name string, roles []string) handler {
	return handler{
		name:  name,
		roles: roles,
		decode: func(c *call) (Payload, error) {
			d := c.borsh()
			decimals, err := d.ReadUint8()
			if err != nil {
				return nil, err
			}
			authority, err := readPubkey(d)
			if err != nil {
				return nil, err
			}
			freeze, err := readCOptionPubkey(d)
			if err != nil {
				return nil, err
			}
			return TokenInitializeMint{Mint: c.at(0), Decimals: decimals, MintAuthority: authority, FreezeAuthority: freeze}, nil
		},
	}
}

func initializeAccountWithOwner(name string, roles []string) handler {
	return handler{
		name:  name,
		roles: roles,
		decode: func(c *call) (Payload, error) {
			owner, err := readPubkey(c.borsh())
			if err != nil {
				return nil, err
			}
			return TokenInitializeAccount{Account: c.at(0), Mint: c.at(1), Owner: owner}, nil
		},
	}
}

func freezeHandler(name string, thaw bool) handler {
	return handler{
		name:  name,
		roles: []string{"account", "mint", "authority"},
		decode: func(c *call) (Payload, error) {
			return TokenFreeze{Account: c.at(0), Mint: c.at(1), Authority: c.at(2), Thaw: thaw}, nil
		},
	}
}

func amountDecimals(c *call) (uint64, uint8, error) {
	d := c.borsh()
	amount, err := readU64(d)
	if err != nil {
		return 0, 0, err
	}
	decimals, err := d.ReadUint8()
	if err != nil {
		return 0, 0, err
	}
	return amount, decimals, nil
}
