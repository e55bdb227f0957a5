package resolve

import (
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
)

// collectHops finds the pool swaps of a group: DEX swap instructions first, then self-CPI
// swap events, which carry executed amounts and override the inferred ones.
func (r *resolver) collectHops(g *group) []Hop {
	var hops []Hop
	for i := range g.items {
		pi := &g.items[i]
		switch p := pi.Payload.(type) {
		case programs.Swap:
			if pi.Program.IsDEX() {
				hops = append(hops, r.swapHop(g, i, p))
			}
		case programs.PumpTrade:
			hops = append(hops, r.pumpHop(g, i, p))
		}
	}

	paired := make([]bool, len(hops))
	for i := range g.items {
		pi := &g.items[i]
		ev, ok := pi.Payload.(programs.SwapEvent)
		if !ok {
			continue
		}
		if h := pairEvent(hops, paired, pi.Ref, ev); h >= 0 {
			paired[h] = true
			applyEvent(&hops[h], ev)
			continue
		}
		if duplicateEvent(hops, ev) {
			continue
		}
		h := Hop{Ref: pi.Ref, ProgramID: ev.AMM, User: ev.User}
		applyEvent(&h, ev)
		hops = append(hops, h)
		paired = append(paired, true)
	}
	return hops
}

// pairEvent returns the first unpaired hop of the event's AMM that executed before it.
func pairEvent(hops []Hop, paired []bool, at programs.Ref, ev programs.SwapEvent) int {
	for i, h := range hops {
		if !paired[i] && h.ProgramID.Equals(ev.AMM) && h.Ref.Less(at) {
			return i
		}
	}
	return -1
}

// duplicateFeeBps bounds how far a re-emitted input amount may sit from the hop's when the
// re-emitting program reports it net of its fee.
const duplicateFeeBps = 100

// duplicateEvent reports whether an already paired hop reports the same trade. Aggregators
// re-emit the events of the AMMs they route through, sometimes with the input net of fees.
func duplicateEvent(hops []Hop, ev programs.SwapEvent) bool {
	for _, h := range hops {
		if !h.ProgramID.Equals(ev.AMM) || !h.InputMint.Equals(ev.InputMint) || !h.OutputMint.Equals(ev.OutputMint) {
			continue
		}
		if !h.User.IsZero() && !ev.User.IsZero() && !h.User.Equals(ev.User) {
			continue
		}
		if h.AmountIn == ev.InputAmount || h.AmountOut == ev.OutputAmount ||
			withinBps(h.AmountIn, ev.InputAmount, duplicateFeeBps) {
			return true
		}
	}
	return false
}

func withinBps(a, b, bps uint64) bool {
	if a < b {
		a, b = b, a
	}
	return a-b <= a/10_000*bps+a%10_000*bps/10_000
}

func applyEvent(h *Hop, ev programs.SwapEvent) {
	h.InputMint, h.AmountIn = ev.InputMint, ev.InputAmount
	h.OutputMint, h.AmountOut = ev.OutputMint, ev.OutputAmount
	if h.User.IsZero() {
		h.User = ev.User
	}
	h.Declared = false
}

// swapHop infers the amounts of an AMM swap from the token transfers it executed: user
// source to the pool, then the pool to the user destination.
func (r *resolver) swapHop(g *group, i int, s programs.Swap) Hop {
	pi := &g.items[i]
	h := Hop{
		Ref:       pi.Ref,
		Program:   pi.Program,
		ProgramID: pi.ProgramID,
		Pool:      s.Pool,
		Vaults:    s.Vaults,
		User:      s.User,
	}
	var sawIn, sawOut bool
	for _, child := range g.subtree(i) {
		t, ok := child.Payload.(programs.TokenTransfer)
		if !ok {
			continue
		}
		switch {
		case !sawIn && t.Source.Equals(s.UserSource):
			sawIn = true
			h.AmountIn = t.Amount
			h.InputMint = r.mintOf(t.Mint, s.InputMint, s.UserSource, t.Destination)
		case !sawOut && t.Destination.Equals(s.UserDestination):
			sawOut = true
			h.AmountOut = t.Amount
			h.OutputMint = r.mintOf(t.Mint, s.OutputMint, s.UserDestination, t.Source)
		}
	}
	if !sawIn {
		h.InputMint = r.mintOf(nil, s.InputMint, s.UserSource)
	}
	if !sawOut {
		h.OutputMint = r.mintOf(nil, s.OutputMint, s.UserDestination)
	}
	if !sawIn || !sawOut {
		h.Declared = true
		in, out := s.Amount, s.Threshold
		if !s.ExactIn {
			in, out = s.Threshold, s.Amount
		}
		if !sawIn {
			h.AmountIn = in
		}
		if !sawOut {
			h.AmountOut = out
		}
	}
	return h
}

// pumpHop reads a bonding-curve trade. SOL moves by system transfer on buys; on sells the
// program moves lamports directly, so only the trade event carries the SOL amount.
func (r *resolver) pumpHop(g *group, i int, p programs.PumpTrade) Hop {
	pi := &g.items[i]
	h := Hop{
		Ref:       pi.Ref,
		Program:   pi.Program,
		ProgramID: pi.ProgramID,
		Pool:      p.BondingCurve,
		User:      p.User,
	}
	var tokens, lamports uint64
	var sawTokens, sawLamports bool
	for _, child := range g.subtree(i) {
		switch t := child.Payload.(type) {
		case programs.TokenTransfer:
			if (p.IsBuy && t.Source.Equals(p.AssociatedBondingCurve)) || (!p.IsBuy && t.Destination.Equals(p.AssociatedBondingCurve)) {
				tokens, sawTokens = t.Amount, true
			}
		case programs.SystemTransfer:
			if p.IsBuy && t.From.Equals(p.User) && t.To.Equals(p.BondingCurve) {
				lamports, sawLamports = lamports+t.Lamports, true
			}
		}
	}
	if !sawTokens {
		tokens = p.TokenAmount
	}
	if !sawLamports {
		lamports = p.SolLimit
	}
	h.Declared = !sawTokens || !sawLamports
	if p.IsBuy {
		h.InputMint, h.AmountIn = programs.WrappedSOLMint, lamports
		h.OutputMint, h.AmountOut = p.Mint, tokens
	} else {
		h.InputMint, h.AmountIn = p.Mint, tokens
		h.OutputMint, h.AmountOut = programs.WrappedSOLMint, lamports
	}
	return h
}

// mintOf picks the first known mint: a declared one, then the balance snapshots of the
// given token accounts.
func (r *resolver) mintOf(checked, declared *solana.PublicKey, accounts ...solana.PublicKey) solana.PublicKey {
	if checked != nil {
		return *checked
	}
	if declared != nil {
		return *declared
	}
	for _, a := range accounts {
		if m, ok := r.tx.MintOf(a); ok {
			return m
		}
	}
	return solana.PublicKey{}
}

func chained(hops []Hop) bool {
	for i := 1; i < len(hops); i++ {
		prev, next := hops[i-1].OutputMint, hops[i].InputMint
		if prev.IsZero() || !prev.Equals(next) {
			return false
		}
	}
	return true
}

// swapEvent fills a SWAP event from the group's hops, or from the route's own accounts
// when none of its hops were recognized.
func (r *resolver) swapEvent(ev *Event, g *group, hops []Hop) {
	ev.Type = EventSwap
	top := g.top()
	route, isRoute := top.Payload.(programs.Route)

	if len(hops) == 0 && isRoute {
		r.routeLegs(ev, g, route)
		ev.Initiator = route.User
		return
	}
	if len(hops) == 0 {
		ev.Tags.Add(qc.SwapInOutMissing)
		return
	}

	ev.Hops = hops
	first, last := hops[0], hops[len(hops)-1]
	ev.Legs = legs(ev, first.InputMint, gave(first.AmountIn), last.OutputMint, got(last.AmountOut))
	for _, h := range hops {
		if h.Declared {
			ev.Tags.Add(qc.DeclaredAmounts)
		}
	}

	switch {
	case isRoute && !route.User.IsZero():
		ev.Initiator = route.User
	case !first.User.IsZero():
		ev.Initiator = first.User
	}
	if top.Program == programs.ProgramUnknown && first.Program != programs.ProgramUnknown {
		ev.Protocol = first.Program.String()
	}
	if len(hops) > 1 {
		ev.Pattern = PatternMultiHop
		ev.SetDetail("aggregator", top.ProgramID.String())
		ev.SetDetail("hops", len(hops))
		if !chained(hops) {
			ev.Tags.Add(qc.RouteNotChained)
		}
		return
	}
	if !first.Ref.IsTopLevel() {
		ev.SetDetail("aggregator", top.ProgramID.String())
	}
	if !first.Pool.IsZero() {
		ev.SetDetail("pool", first.Pool.String())
	}
}

// routeLegs derives legs for a route whose hops are unknown: transfers out of the user's
// source and into the user's destination, else the declared amounts.
func (r *resolver) routeLegs(ev *Event, g *group, route programs.Route) {
	var in, out uint64
	var sawIn, sawOut bool
	var inMint, outMint *solana.PublicKey
	for _, child := range g.subtree(0) {
		t, ok := child.Payload.(programs.TokenTransfer)
		if !ok {
			continue
		}
		if !sawIn && t.Source.Equals(route.UserSource) {
			in, sawIn, inMint = t.Amount, true, t.Mint
		}
		if t.Destination.Equals(route.UserDestination) {
			out, sawOut, outMint = out+t.Amount, true, t.Mint
		}
	}
	if !sawIn || !sawOut {
		ev.Tags.Add(qc.DeclaredAmounts)
		declaredIn, declaredOut := route.Amount, route.QuotedAmount
		if route.ExactOut {
			declaredIn, declaredOut = route.QuotedAmount, route.Amount
		}
		if !sawIn {
			in = declaredIn
		}
		if !sawOut {
			out = declaredOut
		}
	}
	if inMint == nil {
		inMint = route.SourceMint
	}
	if outMint == nil {
		outMint = route.DestinationMint
	}
	ev.Legs = legs(ev,
		r.mintOf(nil, inMint, route.UserSource), gave(in),
		r.mintOf(nil, outMint, route.UserDestination), got(out))
}

// legs builds the in and out legs, dropping a side whose mint is unknown.
func legs(ev *Event, inMint solana.PublicKey, inChange int64, outMint solana.PublicKey, outChange int64) []Leg {
	if inMint.IsZero() || outMint.IsZero() {
		ev.Tags.Add(qc.SwapInOutMissing)
	}
	var out []Leg
	if !inMint.IsZero() {
		out = append(out, Leg{Mint: inMint, AmountChange: inChange})
	}
	if !outMint.IsZero() {
		out = append(out, Leg{Mint: outMint, AmountChange: outChange})
	}
	return out
}
