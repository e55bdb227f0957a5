package resolve

import (
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
)

// resolveGroup maps one unclaimed group to an event: swaps when the subtree holds swap
// hops, otherwise by the kind of the top-level instruction.
func (r *resolver) resolveGroup(g *group) Event {
	ev := r.base(g)
	top := g.top()
	hops := r.collectHops(g)

	switch kind := top.Kind(); {
	case len(hops) > 0 || kind == programs.KindSwap || kind == programs.KindRoute:
		r.swapEvent(&ev, g, hops)
	case kind == programs.KindTransfer || kind == programs.KindMintTo || kind == programs.KindBurn:
		ev.Type = EventTransfer
		r.describeTransfer(&ev, top)
	case kind == programs.KindLiquidity || kind == programs.KindPoolCreate:
		r.liquidityEvent(&ev, g)
	case kind == programs.KindAccountCreate || kind == programs.KindAccountClose ||
		kind == programs.KindAccountAdmin || kind == programs.KindAuxiliary:
		ev.Type = EventAccountManagement
		describeAccount(&ev, top)
	default:
		ev.Type = EventUnknown
		ev.Raw = append([]programs.ParsedInstruction(nil), g.items...)
	}
	return ev
}

func (r *resolver) describeTransfer(ev *Event, pi *programs.ParsedInstruction) {
	if pi == nil {
		return
	}
	ev.Protocol = pi.Program.String()
	ev.ProgramID = pi.ProgramID
	ev.InstructionType = pi.Name

	amount, mint := r.transferAmount(pi)
	ev.SetDetail("amount", amount)
	if !mint.IsZero() {
		ev.SetDetail("mint", mint.String())
	}
	switch p := pi.Payload.(type) {
	case programs.SystemTransfer:
		ev.Initiator = p.From
		ev.SetDetail("source", p.From.String())
		ev.SetDetail("destination", p.To.String())
	case programs.TokenTransfer:
		ev.Initiator = p.Authority
		ev.SetDetail("source", p.Source.String())
		ev.SetDetail("destination", p.Destination.String())
	case programs.TokenMintTo:
		ev.Initiator = p.Authority
		ev.SetDetail("destination", p.Account.String())
	case programs.TokenBurn:
		ev.Initiator = p.Authority
		ev.SetDetail("source", p.Account.String())
	}
}

// transferAmount returns the amount of a transfer, mint or burn and its mint; native SOL
// transfers report the wrapped SOL mint.
func (r *resolver) transferAmount(pi *programs.ParsedInstruction) (uint64, solana.PublicKey) {
	switch p := pi.Payload.(type) {
	case programs.SystemTransfer:
		return p.Lamports, programs.WrappedSOLMint
	case programs.TokenTransfer:
		return p.Amount, r.mintOf(p.Mint, nil, p.Source, p.Destination)
	case programs.TokenMintTo:
		return p.Amount, p.Mint
	case programs.TokenBurn:
		return p.Amount, p.Mint
	}
	return 0, solana.PublicKey{}
}

func (r *resolver) liquidityEvent(ev *Event, g *group) {
	ev.Type = EventLiquidity
	switch p := g.top().Payload.(type) {
	case programs.Liquidity:
		ev.LiquidityChange = p.Change
		ev.SetDetail("pool", p.Pool.String())
		if p.LPMint != nil {
			ev.SetDetail("lp_mint", p.LPMint.String())
		}
		if p.LPAmount > 0 {
			ev.SetDetail("lp_amount", p.LPAmount)
		}
		if !p.User.IsZero() {
			ev.Initiator = p.User
		}
		ev.Legs = r.liquidityLegs(ev, g, p)
	case programs.PumpCreate:
		ev.LiquidityChange = programs.LiquidityCreate
		ev.Initiator = p.User
		ev.SetDetail("pool", p.BondingCurve.String())
		ev.SetDetail("mint", p.Mint.String())
		ev.SetDetail("name", p.Name)
		ev.SetDetail("symbol", p.Symbol)
		ev.SetDetail("uri", p.URI)
	}
}

// liquidityLegs reads each side from the transfers into (add, create) or out of (remove)
// the pool vaults, falling back to the declared amounts.
func (r *resolver) liquidityLegs(ev *Event, g *group, l programs.Liquidity) []Leg {
	sides := []struct {
		vault, mint *solana.PublicKey
		declared    uint64
	}{
		{l.VaultA, l.MintA, l.AmountA},
		{l.VaultB, l.MintB, l.AmountB},
	}
	deposit := l.Change != programs.LiquidityRemove

	var out []Leg
	for _, side := range sides {
		var amount uint64
		var checked *solana.PublicKey
		saw := false
		if side.vault != nil {
			for _, child := range g.subtree(0) {
				t, ok := child.Payload.(programs.TokenTransfer)
				if !ok {
					continue
				}
				if (deposit && t.Destination.Equals(*side.vault)) || (!deposit && t.Source.Equals(*side.vault)) {
					amount, saw = amount+t.Amount, true
					if t.Mint != nil {
						checked = t.Mint
					}
				}
			}
		}
		if !saw {
			if side.declared == 0 {
				continue
			}
			amount = side.declared
			ev.Tags.Add(qc.DeclaredAmounts)
		}
		var accounts []solana.PublicKey
		if side.vault != nil {
			accounts = append(accounts, *side.vault)
		}
		mint := r.mintOf(checked, side.mint, accounts...)
		if mint.IsZero() {
			continue
		}
		change := got(amount)
		if deposit {
			change = gave(amount)
		}
		out = append(out, Leg{Mint: mint, AmountChange: change})
	}
	return out
}

func describeAccount(ev *Event, pi *programs.ParsedInstruction) {
	switch p := pi.Payload.(type) {
	case programs.ATACreate:
		ev.SetDetail("account", p.Account.String())
		ev.SetDetail("mint", p.Mint.String())
		ev.SetDetail("wallet", p.Wallet.String())
	case programs.SystemCreateAccount:
		ev.SetDetail("account", p.Account.String())
		ev.SetDetail("owner", p.Owner.String())
	case programs.TokenInitializeAccount:
		ev.SetDetail("account", p.Account.String())
		ev.SetDetail("mint", p.Mint.String())
	case programs.TokenInitializeMint:
		ev.SetDetail("mint", p.Mint.String())
	case programs.TokenCloseAccount:
		ev.SetDetail("account", p.Account.String())
		ev.SetDetail("destination", p.Destination.String())
	case programs.TokenSyncNative:
		ev.SetDetail("account", p.Account.String())
	}
}
