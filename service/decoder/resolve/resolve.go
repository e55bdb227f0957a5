package resolve

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
	"github.com/brojonat/txdecode/service/decoder/txn"
)

// group is one top-level instruction followed by its CPI subtree in execution order.
type group struct {
	outer int
	items []programs.ParsedInstruction
}

func (g *group) top() *programs.ParsedInstruction { return &g.items[0] }

func (g *group) isAuxiliary() bool {
	return g.top().Kind() == programs.KindAuxiliary
}

// subtree returns the instructions executed under items[i].
func (g *group) subtree(i int) []programs.ParsedInstruction {
	depth := g.items[i].Ref.Depth
	end := i + 1
	for end < len(g.items) && g.items[end].Ref.Depth > depth {
		end++
	}
	return g.items[i+1 : end]
}

func buildGroups(parsed []programs.ParsedInstruction) []*group {
	var groups []*group
	index := map[int]*group{}
	for _, pi := range parsed {
		g, ok := index[pi.Ref.Outer]
		if !ok {
			g = &group{outer: pi.Ref.Outer}
			index[pi.Ref.Outer] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, pi)
	}
	return groups
}

type resolver struct {
	tx      *txn.Transaction
	groups  []*group
	claimed []bool
	events  []Event
}

// Resolve turns the flattened parsed instructions of a transaction into events. Every
// instruction is covered by exactly one event. Resolve never panics: a failure inside the
// resolver degrades every group to an UNKNOWN event tagged RESOLVER_PANIC.
func Resolve(tx *txn.Transaction, parsed []programs.ParsedInstruction) (events []Event) {
	groups := buildGroups(parsed)
	defer func() {
		if rec := recover(); rec != nil {
			events = degrade(groups, rec)
		}
	}()

	r := &resolver{tx: tx, groups: groups, claimed: make([]bool, len(groups))}
	r.detectTempATASwaps()
	r.detectManagedTransfers()
	r.detectBundledTransfers()
	for gi, g := range r.groups {
		if r.claimed[gi] || g.isAuxiliary() {
			continue
		}
		r.claimed[gi] = true
		r.events = append(r.events, r.resolveGroup(g))
	}
	r.finish()
	r.foldAuxiliary()
	return r.events
}

// base starts an event from a group: identity from its top-level instruction, coverage from
// every instruction in it.
func (r *resolver) base(g *group) Event {
	top := g.top()
	ev := Event{
		Type:            EventUnknown,
		Protocol:        top.Program.String(),
		ProgramID:       top.ProgramID,
		InstructionType: top.Name,
		Initiator:       r.tx.FeePayer(),
		Anchor:          top.Ref,
	}
	if r.tx.Failed() {
		ev.Tags.Add(qc.TransactionFailed)
	}
	if top.IsUnparsed() {
		ev.Tags.Add(qc.UnparsedInstruction)
	}
	r.absorb(&ev, g)
	return ev
}

// absorb adds a group's instructions and accounts to an event.
func (r *resolver) absorb(ev *Event, g *group) {
	for i := range g.items {
		pi := &g.items[i]
		ev.Instructions = append(ev.Instructions, pi.Ref)
		for _, k := range pi.Keys {
			if !slices.Contains(ev.Involved, k) {
				ev.Involved = append(ev.Involved, k)
			}
		}
		if pi.ParseError != "" {
			ev.Tags.Add(qc.ParseError)
		}
	}
}

func (r *resolver) claim(gis ...int) {
	for _, gi := range gis {
		r.claimed[gi] = true
	}
}

// scan visits the instructions of unclaimed groups in execution order. A group claimed
// during the visit is not visited further.
func (r *resolver) scan(visit func(gi int, pi *programs.ParsedInstruction)) {
	for gi, g := range r.groups {
		for i := range g.items {
			if r.claimed[gi] {
				break
			}
			visit(gi, &g.items[i])
		}
	}
}

// finish orders events and their coverage by execution order.
func (r *resolver) finish() {
	for i := range r.events {
		ev := &r.events[i]
		slices.SortFunc(ev.Instructions, compareRefs)
		if len(ev.Instructions) > 0 {
			ev.Anchor = ev.Instructions[0]
		}
	}
	slices.SortStableFunc(r.events, func(a, b Event) int { return compareRefs(a.Anchor, b.Anchor) })
}

// foldAuxiliary attaches compute budget and memo groups to the first primary event, or to a
// single ACCOUNT_MANAGEMENT event when the transaction has nothing else.
func (r *resolver) foldAuxiliary() {
	var memos []string
	var host *Event
	for gi, g := range r.groups {
		if r.claimed[gi] || !g.isAuxiliary() {
			continue
		}
		r.claimed[gi] = true
		for _, pi := range g.items {
			if m, ok := pi.Payload.(programs.Memo); ok {
				memos = append(memos, m.Text)
			}
		}
		switch {
		case host != nil:
			r.absorb(host, g)
		case len(r.events) > 0:
			host = &r.events[0]
			r.absorb(host, g)
		default:
			ev := r.base(g)
			ev.Type = EventAccountManagement
			r.events = append(r.events, ev)
			host = &r.events[0]
		}
	}
	if host == nil {
		return
	}
	slices.SortFunc(host.Instructions, compareRefs)
	host.Anchor = host.Instructions[0]
	if len(memos) > 0 {
		host.SetDetail("memo", strings.Join(memos, "\n"))
	}
}

func degrade(groups []*group, rec any) []Event {
	events := make([]Event, 0, len(groups))
	for _, g := range groups {
		top := g.top()
		ev := Event{
			Type:            EventUnknown,
			Protocol:        top.Program.String(),
			ProgramID:       top.ProgramID,
			InstructionType: top.Name,
			Anchor:          top.Ref,
			Raw:             append([]programs.ParsedInstruction(nil), g.items...),
			Tags:            qc.Tags{qc.ResolverPanic},
		}
		for _, pi := range g.items {
			ev.Instructions = append(ev.Instructions, pi.Ref)
		}
		ev.SetDetail("panic", fmt.Sprint(rec))
		events = append(events, ev)
	}
	return events
}

func compareRefs(a, b programs.Ref) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func isTokenProgram(id solana.PublicKey) bool {
	return id.Equals(programs.TokenProgramID) || id.Equals(programs.Token2022ProgramID)
}
