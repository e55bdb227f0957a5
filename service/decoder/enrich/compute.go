package enrich

import (
	"math/big"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
)

// ComputeUnits copies the transaction's compute usage onto the event and prices it from the
// compute budget instructions. Compute units are a transaction-level figure.
type ComputeUnits struct{}

func (ComputeUnits) Name() string { return "compute_units" }

func (ComputeUnits) Enrich(c *Context, ev *Event) {
	var limit *uint32
	var price *uint64
	for _, pi := range c.Parsed {
		cb, ok := pi.Payload.(programs.ComputeBudget)
		if !ok {
			continue
		}
		if cb.UnitLimit != nil {
			limit = cb.UnitLimit
		}
		if cb.MicroLamports != nil {
			price = cb.MicroLamports
		}
	}

	consumed := c.Tx.Meta.ComputeUnitsConsumed
	if consumed == nil {
		ev.Tags.Add(qc.ComputeUnitsUnavailable)
	} else {
		v := *consumed
		ev.ComputeUnitsConsumed = &v
	}
	if limit != nil {
		v := *limit
		ev.ComputeUnitLimit = &v
	}
	if price == nil {
		return
	}
	p := *price
	ev.ComputeUnitPrice = &p

	var units uint64
	switch {
	case limit != nil:
		units = uint64(*limit)
	case consumed != nil:
		units = *consumed
	default:
		return
	}
	fee := PriorityFee(units, p)
	ev.PriorityFeeLamports = &fee
}

var microPerLamport = big.NewInt(1_000_000)

// PriorityFee is ceil(units * microLamports / 1e6), saturating at the uint64 maximum.
func PriorityFee(units, microLamports uint64) uint64 {
	n := new(big.Int).Mul(new(big.Int).SetUint64(units), new(big.Int).SetUint64(microLamports))
	q, r := new(big.Int).QuoRem(n, microPerLamport, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}
