package enrich

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
	"github.com/brojonat/txdecode/service/decoder/resolve"
)

// Drop thresholds. A drop of at least DumpDropHard is always a dump; a drop of at least
// DumpDropSoft is one when the trade volume reaches the materiality floor.
const (
	DumpDropHard = 0.5
	DumpDropSoft = 0.3
)

// quoteDecimals are the mints prices are quoted in.
var quoteDecimals = map[solana.PublicKey]uint8{
	programs.WrappedSOLMint: 9,
	programs.USDCMint:       6,
	programs.USDTMint:       6,
}

// IsQuoteMint reports whether prices can be quoted in mint.
func IsQuoteMint(mint solana.PublicKey) bool {
	_, ok := quoteDecimals[mint]
	return ok
}

// Observation is one executed price of a mint against a quote mint.
type Observation struct {
	EventID   string           `json:"event_id"`
	Signature string           `json:"signature"`
	Slot      uint64           `json:"slot"`
	BlockTime time.Time        `json:"block_time"`
	Mint      solana.PublicKey `json:"mint"`
	Quote     solana.PublicKey `json:"quote"`
	// Price is quote units per token unit; Volume is in quote units.
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// MintPriceState is the last accepted observation of one mint.
type MintPriceState struct {
	Quote     solana.PublicKey `json:"quote"`
	Price     float64          `json:"price"`
	Signature string           `json:"signature"`
	Slot      uint64           `json:"slot"`
	BlockTime time.Time        `json:"block_time"`
}

// Dump is a flagged price drop.
type Dump struct {
	Mint          solana.PublicKey `json:"mint"`
	Quote         solana.PublicKey `json:"quote"`
	PrevPrice     float64          `json:"prev_price"`
	Price         float64          `json:"price"`
	DropPct       float64          `json:"drop_pct"`
	Volume        float64          `json:"volume"`
	PrevSignature string           `json:"prev_signature"`
}

// DumpDetector holds the volume floors of the detector. Observations below NoiseFloor are
// ignored entirely.
type DumpDetector struct {
	NoiseFloor       float64
	MaterialityFloor float64
}

func DefaultDumpDetector() DumpDetector {
	return DumpDetector{NoiseFloor: 0.01, MaterialityFloor: 10}
}

// Fold advances one mint's state by one observation and reports a dump when the price fell
// past a threshold. A change of quote mint starts a new baseline.
func (d DumpDetector) Fold(state MintPriceState, obs Observation) (MintPriceState, *Dump) {
	if obs.Volume < d.NoiseFloor || obs.Price <= 0 {
		return state, nil
	}
	next := MintPriceState{
		Quote:     obs.Quote,
		Price:     obs.Price,
		Signature: obs.Signature,
		Slot:      obs.Slot,
		BlockTime: obs.BlockTime,
	}
	if state.Price <= 0 || !state.Quote.Equals(obs.Quote) {
		return next, nil
	}

	drop := 1 - obs.Price/state.Price
	if drop < DumpDropSoft || (drop < DumpDropHard && obs.Volume < d.MaterialityFloor) {
		return next, nil
	}
	return next, &Dump{
		Mint:          obs.Mint,
		Quote:         obs.Quote,
		PrevPrice:     state.Price,
		Price:         obs.Price,
		DropPct:       drop,
		Volume:        obs.Volume,
		PrevSignature: state.Signature,
	}
}

// ObservationOf derives a price observation from a two-leg SWAP with exactly one quote leg.
func ObservationOf(ev *Event) (Observation, bool) {
	if ev.Type != resolve.EventSwap || len(ev.Legs) != 2 {
		return Observation{}, false
	}
	token, quote := ev.Legs[0], ev.Legs[1]
	if IsQuoteMint(token.Mint) {
		token, quote = quote, token
	}
	if IsQuoteMint(token.Mint) || !IsQuoteMint(quote.Mint) {
		return Observation{}, false
	}
	tokenAmount := math.Abs(float64(token.AmountChange))
	quoteAmount := math.Abs(float64(quote.AmountChange))
	if tokenAmount == 0 || quoteAmount == 0 {
		return Observation{}, false
	}
	tokenAmount /= math.Pow10(int(ev.TokenDecimals[token.Mint.String()]))
	quoteAmount /= math.Pow10(int(quoteDecimals[quote.Mint]))

	obs := Observation{
		EventID:   ev.EventID,
		Signature: ev.Signature,
		Slot:      ev.Slot,
		Mint:      token.Mint,
		Quote:     quote.Mint,
		Price:     quoteAmount / tokenAmount,
		Volume:    quoteAmount,
	}
	if ev.BlockTime != nil {
		obs.BlockTime = *ev.BlockTime
	}
	return obs, true
}

// DetectDumps folds the observations of events in (block_time, slot, event_id) order,
// starting from states. Flagged events get Dump set and the PRICE_DUMP tag. The returned map
// is new; states is not modified.
func (d DumpDetector) DetectDumps(events []Event, states map[solana.PublicKey]MintPriceState) map[solana.PublicKey]MintPriceState {
	next := make(map[solana.PublicKey]MintPriceState, len(states))
	for k, v := range states {
		next[k] = v
	}

	type item struct {
		idx int
		obs Observation
	}
	var items []item
	for i := range events {
		if obs, ok := ObservationOf(&events[i]); ok {
			items = append(items, item{i, obs})
		}
	}
	slices.SortStableFunc(items, func(a, b item) int {
		return cmp.Or(
			a.obs.BlockTime.Compare(b.obs.BlockTime),
			cmp.Compare(a.obs.Slot, b.obs.Slot),
			cmp.Compare(a.obs.EventID, b.obs.EventID),
		)
	})

	for _, it := range items {
		state, dump := d.Fold(next[it.obs.Mint], it.obs)
		next[it.obs.Mint] = state
		if dump == nil {
			continue
		}
		ev := &events[it.idx]
		ev.Dump = dump
		ev.Tags.Add(qc.PriceDump)
		ev.QCStatus = qc.StatusOf(ev.Tags)
	}
	return next
}
