// Package enrich annotates resolved events with computed financial fields and data-quality
// tags. Enrichers are independent: each reads the transaction and the event, writes its own
// fields, and never sees the output of a failed sibling.
package enrich

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
	"github.com/brojonat/txdecode/service/decoder/resolve"
	"github.com/brojonat/txdecode/service/decoder/txn"
	"github.com/brojonat/txdecode/service/registry"
)

// Direction of a token flow relative to its owner.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TokenFlow is one movement of a mint into or out of an owner's account.
type TokenFlow struct {
	Mint      solana.PublicKey `json:"mint"`
	Owner     solana.PublicKey `json:"owner"`
	Account   solana.PublicKey `json:"account"`
	Direction Direction        `json:"direction"`
	Amount    uint64           `json:"amount"`
}

// Event is a resolved event plus everything the enrichers computed for it.
type Event struct {
	resolve.Event

	EventID   string     `json:"event_id"`
	Signature string     `json:"signature"`
	Slot      uint64     `json:"slot"`
	BlockTime *time.Time `json:"block_time,omitempty"`

	TokenFlows []TokenFlow `json:"token_flows"`
	// NetTokenChanges maps wallet -> mint -> signed amount. Zero entries are omitted.
	NetTokenChanges map[string]map[string]int64 `json:"net_token_changes"`
	TokenDecimals   map[string]uint8            `json:"token_decimals,omitempty"`
	PriceImpact     []PriceImpact               `json:"price_impact,omitempty"`

	ComputeUnitsConsumed *uint64 `json:"compute_units_consumed,omitempty"`
	ComputeUnitLimit     *uint32 `json:"compute_unit_limit,omitempty"`
	// ComputeUnitPrice is in micro-lamports per compute unit.
	ComputeUnitPrice    *uint64 `json:"compute_unit_price,omitempty"`
	PriorityFeeLamports *uint64 `json:"priority_fee_lamports,omitempty"`

	Dump *Dump `json:"dump,omitempty"`

	QCStatus      qc.Status `json:"qc_status"`
	ParserVersion string    `json:"parser_version"`
}

// Context is the read-only input shared by every enricher for one transaction.
type Context struct {
	Tx     *txn.Transaction
	Parsed []programs.ParsedInstruction
	Tokens *registry.TokenBehaviors
	Pools  *registry.Pools

	byRef map[programs.Ref]int
}

func NewContext(tx *txn.Transaction, parsed []programs.ParsedInstruction, tokens *registry.TokenBehaviors, pools *registry.Pools) *Context {
	c := &Context{
		Tx:     tx,
		Parsed: parsed,
		Tokens: tokens,
		Pools:  pools,
		byRef:  make(map[programs.Ref]int, len(parsed)),
	}
	for i, pi := range parsed {
		c.byRef[pi.Ref] = i
	}
	return c
}

// Covered returns the parsed instructions an event covers, in execution order.
func (c *Context) Covered(ev *Event) []*programs.ParsedInstruction {
	out := make([]*programs.ParsedInstruction, 0, len(ev.Instructions))
	for _, ref := range ev.Instructions {
		if i, ok := c.byRef[ref]; ok {
			out = append(out, &c.Parsed[i])
		}
	}
	return out
}

// Enricher computes one family of fields.
type Enricher interface {
	Name() string
	Enrich(c *Context, ev *Event)
}

// Chain runs enrichers in order. A panicking enricher is contained: the event is tagged
// ENRICHER_PANIC and the remaining enrichers still run.
type Chain struct {
	enrichers []Enricher
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, enrichers ...Enricher) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{enrichers: enrichers, logger: logger.With("component", "enrich")}
}

// DefaultChain is net token changes, price impact and compute units.
func DefaultChain(logger *slog.Logger) *Chain {
	return NewChain(logger, NetTokenChanges{}, PriceImpacts{}, ComputeUnits{})
}

// Names lists the enrichers in run order.
func (ch *Chain) Names() []string {
	names := make([]string, len(ch.enrichers))
	for i, e := range ch.enrichers {
		names[i] = e.Name()
	}
	return names
}

// Run applies every enricher to ev and sets its QC status.
func (ch *Chain) Run(c *Context, ev *Event) {
	for _, e := range ch.enrichers {
		ch.runOne(e, c, ev)
	}
	ev.QCStatus = qc.StatusOf(ev.Tags)
}

func (ch *Chain) runOne(e Enricher, c *Context, ev *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			ev.Tags.Add(qc.EnricherPanic)
			ev.SetDetail("enricher_panic", fmt.Sprintf("%s: %v", e.Name(), rec))
			ch.logger.Error("enricher panicked",
				"enricher", e.Name(),
				"event_id", ev.EventID,
				"panic", fmt.Sprint(rec),
			)
		}
	}()
	e.Enrich(c, ev)
}

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// addSat adds two int64 values, saturating at the int64 bounds.
func addSat(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	}
	return s
}

// delta is post - pre as a signed amount.
func delta(pre, post uint64) int64 {
	if post >= pre {
		return clamp(post - pre)
	}
	return -clamp(pre - post)
}
