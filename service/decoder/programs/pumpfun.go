package programs

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

var (
	pumpTradeRoles = []string{
		"global", "fee_recipient", "mint", "bonding_curve", "associated_bonding_curve",
		"associated_user", "user", "system_program", "token_program", "creator_vault",
		"event_authority", "program",
	}
	pumpCreateRoles = []string{
		"mint", "mint_authority", "bonding_curve", "associated_bonding_curve", "global",
		"mpl_token_metadata", "metadata", "user", "system_program", "token_program",
		"associated_token_program", "rent", "event_authority", "program",
	}
	pumpTradeEvent = EventDiscriminator("TradeEvent")
)

// PumpFunParser decodes the Pump.fun bonding-curve program and its TradeEvent self-CPI.
func PumpFunParser() Parser {
	return newTable(ProgramPumpFun, 8, PumpFunProgramID).
		// amount u64 (tokens), max_sol_cost u64
		on(AnchorDiscriminator("buy"), pumpTrade("buy", true)).
		// amount u64 (tokens), min_sol_output u64
		on(AnchorDiscriminator("sell"), pumpTrade("sell", false)).
		// name string, symbol string, uri string
		on(AnchorDiscriminator("create"), handler{
			name:        "create",
			roles:       pumpCreateRoles,
			minAccounts: 8,
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				name, err := readString(d)
				if err != nil {
					return nil, err
				}
				symbol, err := readString(d)
				if err != nil {
					return nil, err
				}
				uri, err := readString(d)
				if err != nil {
					return nil, err
				}
				return PumpCreate{
					Mint: c.at(0), BondingCurve: c.at(2), User: c.at(7),
					Name: name, Symbol: symbol, URI: uri,
				}, nil
			},
		}).
		on(AnchorEventTag, handler{
			name:  "TradeEvent",
			roles: []string{"event_authority"},
			decode: func(c *call) (Payload, error) {
				if len(c.args) < 8 || !bytes.Equal(c.args[:8], pumpTradeEvent) {
					return nil, fmt.Errorf("%w: pumpfun event", ErrUnknownDiscriminator)
				}
				return decodePumpTradeEvent(bin.NewBorshDecoder(c.args[8:]))
			},
		})
}

func pumpTrade(name string, isBuy bool) handler {
	return handler{
		name:        name,
		roles:       pumpTradeRoles,
		minAccounts: 7,
		decode: func(c *call) (Payload, error) {
			amount, limit, err := twoU64(c)
			if err != nil {
				return nil, err
			}
			return PumpTrade{
				Mint:                   c.at(2),
				BondingCurve:           c.at(3),
				AssociatedBondingCurve: c.at(4),
				AssociatedUser:         c.at(5),
				User:                   c.at(6),
				IsBuy:                  isBuy,
				TokenAmount:            amount,
				SolLimit:               limit,
			}, nil
		},
	}
}

// TradeEvent: mint, sol_amount u64, token_amount u64, is_buy bool, user, timestamp i64,
// virtual_sol_reserves u64, virtual_token_reserves u64, then fields added by later versions.
func decodePumpTradeEvent(d *bin.Decoder) (Payload, error) {
	mint, err := readPubkey(d)
	if err != nil {
		return nil, err
	}
	sol, err := readU64(d)
	if err != nil {
		return nil, err
	}
	tokens, err := readU64(d)
	if err != nil {
		return nil, err
	}
	isBuy, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	user, err := readPubkey(d)
	if err != nil {
		return nil, err
	}
	ts, err := d.ReadInt64(bin.LE)
	if err != nil {
		return nil, err
	}
	vSol, err := readU64(d)
	if err != nil {
		return nil, err
	}
	vToken, err := readU64(d)
	if err != nil {
		return nil, err
	}

	ev := SwapEvent{
		AMM:                  PumpFunProgramID,
		User:                 user,
		Timestamp:            ts,
		VirtualSolReserves:   vSol,
		VirtualTokenReserves: vToken,
	}
	if isBuy {
		ev.InputMint, ev.InputAmount = WrappedSOLMint, sol
		ev.OutputMint, ev.OutputAmount = mint, tokens
	} else {
		ev.InputMint, ev.InputAmount = mint, tokens
		ev.OutputMint, ev.OutputAmount = WrappedSOLMint, sol
	}
	return ev, nil
}
