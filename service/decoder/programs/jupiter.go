package programs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// routeTailSize is the fixed argument tail that follows the variable-length route plan:
// amount u64, quoted_amount u64, slippage_bps u16, platform_fee_bps u8.
const routeTailSize = 8 + 8 + 2 + 1

var (
	jupiterRouteRoles = []string{
		"token_program", "user_transfer_authority", "user_source_token_account",
		"user_destination_token_account", "destination_token_account", "destination_mint",
		"platform_fee_account", "event_authority", "program",
	}
	jupiterExactOutRoles = []string{
		"token_program", "user_transfer_authority", "user_source_token_account",
		"user_destination_token_account", "destination_token_account", "source_mint",
		"destination_mint", "platform_fee_account", "token_2022_program", "event_authority", "program",
	}
	jupiterSharedRoles = []string{
		"token_program", "program_authority", "user_transfer_authority", "source_token_account",
		"program_source_token_account", "program_destination_token_account",
		"destination_token_account", "source_mint", "destination_mint", "platform_fee_account",
		"token_2022_program", "event_authority", "program",
	}
	jupiterSwapEvent = EventDiscriminator("SwapEvent")
)

// routeLayout gives the account positions of a Jupiter route instruction.
type routeLayout struct {
	user, source, destination int
	sourceMint, destMint      int
}

// JupiterParser decodes the Jupiter v6 aggregator's route instructions and SwapEvent.
func JupiterParser() Parser {
	plain := routeLayout{user: 1, source: 2, destination: 3, sourceMint: -1, destMint: 5}
	exactOut := routeLayout{user: 1, source: 2, destination: 3, sourceMint: 5, destMint: 6}
	shared := routeLayout{user: 2, source: 3, destination: 6, sourceMint: 7, destMint: 8}
	return newTable(ProgramJupiter, 8, JupiterV6ProgramID).
		on(AnchorDiscriminator("route"), jupiterRoute("route", jupiterRouteRoles, plain, false)).
		on(AnchorDiscriminator("exact_out_route"), jupiterRoute("exact_out_route", jupiterExactOutRoles, exactOut, true)).
		on(AnchorDiscriminator("shared_accounts_route"), jupiterRoute("shared_accounts_route", jupiterSharedRoles, shared, false)).
		on(AnchorDiscriminator("shared_accounts_exact_out_route"), jupiterRoute("shared_accounts_exact_out_route", jupiterSharedRoles, shared, true)).
		// amm, input_mint, input_amount u64, output_mint, output_amount u64
		on(AnchorEventTag, handler{
			name:  "SwapEvent",
			roles: []string{"event_authority"},
			decode: func(c *call) (Payload, error) {
				if len(c.args) < 8 || !bytes.Equal(c.args[:8], jupiterSwapEvent) {
					return nil, fmt.Errorf("%w: jupiter event", ErrUnknownDiscriminator)
				}
				return decodeJupiterSwapEvent(bin.NewBorshDecoder(c.args[8:]))
			},
		})
}

func jupiterRoute(name string, roles []string, l routeLayout, exactOut bool) handler {
	return handler{
		name:        name,
		roles:       roles,
		minAccounts: l.destMint + 1,
		decode: func(c *call) (Payload, error) {
			if len(c.args) < routeTailSize {
				return nil, fmt.Errorf("route arguments are %d bytes, need at least %d", len(c.args), routeTailSize)
			}
			tail := c.args[len(c.args)-routeTailSize:]
			return Route{
				User:            c.at(l.user),
				UserSource:      c.at(l.source),
				UserDestination: c.at(l.destination),
				SourceMint:      c.opt(l.sourceMint),
				DestinationMint: c.opt(l.destMint),
				ExactOut:        exactOut,
				Amount:          binary.LittleEndian.Uint64(tail[0:8]),
				QuotedAmount:    binary.LittleEndian.Uint64(tail[8:16]),
				SlippageBps:     binary.LittleEndian.Uint16(tail[16:18]),
				PlatformFeeBps:  tail[18],
			}, nil
		},
	}
}

func decodeJupiterSwapEvent(d *bin.Decoder) (Payload, error) {
	amm, err := readPubkey(d)
	if err != nil {
		return nil, err
	}
	inMint, err := readPubkey(d)
	if err != nil {
		return nil, err
	}
	inAmount, err := readU64(d)
	if err != nil {
		return nil, err
	}
	outMint, err := readPubkey(d)
	if err != nil {
		return nil, err
	}
	outAmount, err := readU64(d)
	if err != nil {
		return nil, err
	}
	return SwapEvent{
		AMM:          amm,
		InputMint:    inMint,
		InputAmount:  inAmount,
		OutputMint:   outMint,
		OutputAmount: outAmount,
	}, nil
}
