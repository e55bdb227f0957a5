// Package resolve groups parsed instructions into semantic events.
package resolve

import (
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
)

// EventType is the semantic class of a resolved event.
type EventType string

const (
	EventSwap              EventType = "SWAP"
	EventTransfer          EventType = "TRANSFER"
	EventLiquidity         EventType = "LIQUIDITY"
	EventAccountManagement EventType = "ACCOUNT_MANAGEMENT"
	EventUnknown           EventType = "UNKNOWN"
)

// Pattern names reported in Event.Pattern.
const (
	PatternTempATASwap     = "temp_ata_swap"
	PatternManagedTransfer = "managed_transfer"
	PatternBundledTransfer = "bundled_transfer"
	PatternMultiHop        = "multi_hop_route"
)

// Leg is one side of a swap or liquidity change. AmountChange is signed from the initiator's
// point of view: negative for tokens given up.
type Leg struct {
	Mint         solana.PublicKey `json:"mint"`
	AmountChange int64            `json:"amount_change"`
}

// Hop is one pool swap inside an event. The price-impact enricher reads vault balances
// through it.
type Hop struct {
	Ref        programs.Ref        `json:"ref"`
	Program    programs.Program    `json:"program"`
	ProgramID  solana.PublicKey    `json:"program_id"`
	Pool       solana.PublicKey    `json:"pool"`
	Vaults     [2]solana.PublicKey `json:"vaults"`
	User       solana.PublicKey    `json:"user"`
	InputMint  solana.PublicKey    `json:"input_mint"`
	OutputMint solana.PublicKey    `json:"output_mint"`
	AmountIn   uint64              `json:"amount_in"`
	AmountOut  uint64              `json:"amount_out"`
	// Declared is set when the amounts come from instruction arguments.
	Declared bool `json:"declared,omitempty"`
}

// HasVaults reports whether the hop names both pool vaults.
func (h Hop) HasVaults() bool {
	return !h.Vaults[0].IsZero() && !h.Vaults[1].IsZero()
}

// Event is one semantic action of a transaction.
type Event struct {
	Type            EventType                `json:"event_type"`
	Protocol        string                   `json:"protocol"`
	ProgramID       solana.PublicKey         `json:"program_id"`
	InstructionType string                   `json:"instruction_type"`
	Initiator       solana.PublicKey         `json:"initiator"`
	Involved        []solana.PublicKey       `json:"involved_accounts"`
	Legs            []Leg                    `json:"legs,omitempty"`
	LiquidityChange programs.LiquidityChange `json:"liquidity_change_type,omitempty"`
	Details         map[string]any           `json:"details,omitempty"`
	Pattern         string                   `json:"pattern,omitempty"`
	// Anchor is the first covered instruction; the event id derives from it.
	Anchor programs.Ref `json:"anchor"`
	// Instructions are the covered instruction refs in execution order.
	Instructions []programs.Ref               `json:"instructions"`
	Hops         []Hop                        `json:"hops,omitempty"`
	Raw          []programs.ParsedInstruction `json:"raw,omitempty"`
	Tags         qc.Tags                      `json:"qc_tags"`
}

// SetDetail records one entry of the details bag.
func (e *Event) SetDetail(key string, value any) {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
}

// gave and got turn unsigned amounts into signed leg changes, saturating at MaxInt64.
func gave(v uint64) int64 { return -clamp(v) }
func got(v uint64) int64  { return clamp(v) }

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
