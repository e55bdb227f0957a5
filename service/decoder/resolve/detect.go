package resolve

import (
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
)

// The sequential detectors below are single-pass state machines over the flattened
// instruction list. A candidate is keyed by the account A it tracks and seeded by the first
// create of A; a close drops it, so a later create of A starts over. The first candidate to
// complete wins and claims every group it touched.

type stage int

const (
	stageCreated stage = iota + 1
	stageFunded
	stageSwapped
)

type candidate struct {
	account   solana.PublicKey
	mint      *solana.PublicKey
	stage     stage
	groups    []int
	swapGroup int
	transfer  *programs.ParsedInstruction
}

func (c *candidate) touch(gi int) {
	if !slices.Contains(c.groups, gi) {
		c.groups = append(c.groups, gi)
	}
}

// pendingSet holds the open candidates of one detector.
type pendingSet map[solana.PublicKey]*candidate

// seed starts a candidate for a created account. A create for an account that already has
// a candidate only fills in a missing mint.
func (p pendingSet) seed(gi int, account solana.PublicKey, mint *solana.PublicKey) {
	if c, ok := p[account]; ok {
		if c.stage == stageCreated {
			if c.mint == nil {
				c.mint = mint
			}
			c.touch(gi)
		}
		return
	}
	p[account] = &candidate{account: account, mint: mint, stage: stageCreated, groups: []int{gi}}
}

// dropOverlapping discards the candidates that touch any claimed group.
func (p pendingSet) dropOverlapping(claimed []bool) {
	for k, c := range p {
		for _, gi := range c.groups {
			if claimed[gi] {
				delete(p, k)
				break
			}
		}
	}
}

// detectTempATASwaps finds create(A, wSOL) -> transfer into A -> swap from A -> close(A),
// and the sell-side shape create(A, wSOL) -> swap into A -> close(A).
func (r *resolver) detectTempATASwaps() {
	pending := pendingSet{}
	r.scan(func(gi int, pi *programs.ParsedInstruction) {
		if a, mint, ok := createdAccount(pi); ok {
			pending.seed(gi, a, mint)
			return
		}
		if a, ok := transferDestination(pi); ok {
			if c := pending[a]; c != nil && c.stage == stageCreated {
				c.stage = stageFunded
				c.touch(gi)
			}
			return
		}
		if a, ok := syncedAccount(pi); ok {
			if c := pending[a]; c != nil {
				c.touch(gi)
			}
			return
		}
		if src, dst, ok := swapAccounts(pi); ok {
			if c := pending[src]; c != nil && c.stage == stageFunded {
				c.stage, c.swapGroup = stageSwapped, gi
				c.touch(gi)
			} else if c := pending[dst]; c != nil && c.stage < stageSwapped {
				c.stage, c.swapGroup = stageSwapped, gi
				c.touch(gi)
			}
			return
		}
		a, ok := closedAccount(pi)
		if !ok {
			return
		}
		c := pending[a]
		if c == nil {
			return
		}
		delete(pending, a)
		if c.stage != stageSwapped || !r.isWrappedSOL(c) {
			return
		}
		c.touch(gi)
		r.claim(c.groups...)
		pending.dropOverlapping(r.claimed)

		ev := r.resolveGroup(r.groups[c.swapGroup])
		for _, other := range c.groups {
			if other != c.swapGroup {
				r.absorb(&ev, r.groups[other])
			}
		}
		ev.Pattern = PatternTempATASwap
		ev.SetDetail("wrapped_account", c.account.String())
		r.events = append(r.events, ev)
	})
}

// detectManagedTransfers finds create(A) -> transfer into A -> close(A).
func (r *resolver) detectManagedTransfers() {
	pending := pendingSet{}
	r.scan(func(gi int, pi *programs.ParsedInstruction) {
		if a, mint, ok := createdAccount(pi); ok {
			pending.seed(gi, a, mint)
			return
		}
		if a, ok := transferDestination(pi); ok {
			if c := pending[a]; c != nil && c.stage == stageCreated {
				c.stage = stageFunded
				c.transfer = pi
				c.touch(gi)
			}
			return
		}
		a, ok := closedAccount(pi)
		if !ok {
			return
		}
		c := pending[a]
		if c == nil {
			return
		}
		delete(pending, a)
		if c.stage != stageFunded {
			return
		}
		c.touch(gi)
		r.claim(c.groups...)
		pending.dropOverlapping(r.claimed)

		ev := r.base(r.groups[c.groups[0]])
		for _, other := range c.groups[1:] {
			r.absorb(&ev, r.groups[other])
		}
		ev.Type = EventTransfer
		ev.Pattern = PatternManagedTransfer
		r.describeTransfer(&ev, c.transfer)
		ev.SetDetail("managed_account", c.account.String())
		r.events = append(r.events, ev)
	})
}

// detectBundledTransfers collapses more than one top-level transfer that co-occurs with an
// account create or close into one TRANSFER event.
func (r *resolver) detectBundledTransfers() {
	var transfers, lifecycle []int
	for gi, g := range r.groups {
		if r.claimed[gi] {
			continue
		}
		switch g.top().Kind() {
		case programs.KindTransfer:
			transfers = append(transfers, gi)
		case programs.KindAccountCreate, programs.KindAccountClose:
			lifecycle = append(lifecycle, gi)
		}
	}
	if len(transfers) < 2 || len(lifecycle) == 0 {
		return
	}

	members := append(append([]int{}, transfers...), lifecycle...)
	slices.Sort(members)
	r.claim(members...)

	first := r.groups[transfers[0]]
	ev := r.base(first)
	for _, gi := range members {
		if gi != transfers[0] {
			r.absorb(&ev, r.groups[gi])
		}
	}
	ev.Type = EventTransfer
	ev.Pattern = PatternBundledTransfer
	r.describeTransfer(&ev, first.top())
	ev.SetDetail("transfer_count", len(transfers))

	var total uint64
	sameMint := true
	var mint solana.PublicKey
	for i, gi := range transfers {
		amount, m := r.transferAmount(r.groups[gi].top())
		if i == 0 {
			mint = m
		} else if !m.Equals(mint) {
			sameMint = false
		}
		total += amount
	}
	if sameMint {
		ev.SetDetail("total_amount", total)
	}
	r.events = append(r.events, ev)
}

func (r *resolver) isWrappedSOL(c *candidate) bool {
	if c.mint != nil {
		return c.mint.Equals(programs.WrappedSOLMint)
	}
	m, ok := r.tx.MintOf(c.account)
	return ok && m.Equals(programs.WrappedSOLMint)
}

// createdAccount recognizes instructions that bring a token account into existence.
func createdAccount(pi *programs.ParsedInstruction) (solana.PublicKey, *solana.PublicKey, bool) {
	switch p := pi.Payload.(type) {
	case programs.ATACreate:
		mint := p.Mint
		return p.Account, &mint, true
	case programs.TokenInitializeAccount:
		mint := p.Mint
		return p.Account, &mint, true
	case programs.SystemCreateAccount:
		if isTokenProgram(p.Owner) {
			return p.Account, nil, true
		}
	}
	return solana.PublicKey{}, nil, false
}

func transferDestination(pi *programs.ParsedInstruction) (solana.PublicKey, bool) {
	switch p := pi.Payload.(type) {
	case programs.SystemTransfer:
		return p.To, true
	case programs.TokenTransfer:
		return p.Destination, true
	}
	return solana.PublicKey{}, false
}

func syncedAccount(pi *programs.ParsedInstruction) (solana.PublicKey, bool) {
	if p, ok := pi.Payload.(programs.TokenSyncNative); ok {
		return p.Account, true
	}
	return solana.PublicKey{}, false
}

func swapAccounts(pi *programs.ParsedInstruction) (src, dst solana.PublicKey, ok bool) {
	switch p := pi.Payload.(type) {
	case programs.Swap:
		return p.UserSource, p.UserDestination, true
	case programs.Route:
		return p.UserSource, p.UserDestination, true
	}
	return solana.PublicKey{}, solana.PublicKey{}, false
}

func closedAccount(pi *programs.ParsedInstruction) (solana.PublicKey, bool) {
	if p, ok := pi.Payload.(programs.TokenCloseAccount); ok {
		return p.Account, true
	}
	return solana.PublicKey{}, false
}
