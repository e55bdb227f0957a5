package enrich

import (
	"bytes"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/programs"
	"github.com/brojonat/txdecode/service/decoder/qc"
)

// NetTokenChanges computes the per-wallet, per-mint balance deltas of an event. Standard
// mints sum the amounts of the covered transfer, mint and burn instructions; mints whose
// registry behavior needs it use the balance snapshots of the accounts the event touched.
type NetTokenChanges struct{}

func (NetTokenChanges) Name() string { return "net_token_changes" }

func (NetTokenChanges) Enrich(c *Context, ev *Event) {
	ev.TokenFlows = tokenFlows(c, ev)

	net := map[string]map[string]int64{}
	balanceBased := map[solana.PublicKey]bool{}
	for _, f := range ev.TokenFlows {
		if c.Tokens.BalanceBased(f.Mint) {
			balanceBased[f.Mint] = true
			continue
		}
		change := clamp(f.Amount)
		if f.Direction == DirectionOut {
			change = -change
		}
		accumulate(net, f.Owner, f.Mint, change)
	}

	mints := make([]solana.PublicKey, 0, len(balanceBased))
	for m := range balanceBased {
		mints = append(mints, m)
	}
	slices.SortFunc(mints, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })
	for _, mint := range mints {
		if !balanceChanges(c, ev, mint, net) {
			ev.Tags.Add(qc.MissingTokenBalances)
			continue
		}
		ev.Tags.Add(qc.BalanceBasedAmounts)
	}

	for wallet, byMint := range net {
		for mint, v := range byMint {
			if v == 0 {
				delete(byMint, mint)
			}
		}
		if len(byMint) == 0 {
			delete(net, wallet)
		}
	}
	ev.NetTokenChanges = net
	ev.TokenDecimals = tokenDecimals(c, ev)
}

// tokenDecimals records the decimals of every mint in the event's flows and legs.
func tokenDecimals(c *Context, ev *Event) map[string]uint8 {
	out := map[string]uint8{}
	record := func(mint solana.PublicKey) {
		if _, ok := out[mint.String()]; ok {
			return
		}
		if d, ok := c.Tx.DecimalsOf(mint); ok {
			out[mint.String()] = d
		} else if t, ok := c.Tokens.Lookup(mint); ok {
			out[mint.String()] = t.Decimals
		} else if mint.Equals(programs.WrappedSOLMint) {
			out[mint.String()] = 9
		}
	}
	for _, f := range ev.TokenFlows {
		record(f.Mint)
	}
	for _, l := range ev.Legs {
		record(l.Mint)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// tokenFlows lists the movements of the covered instructions. Native SOL moved by the
// system program is reported under the wrapped SOL mint; lamports sent into a wrapped SOL
// account are credited to its owner, so funding and spending it net out on the wallet.
func tokenFlows(c *Context, ev *Event) []TokenFlow {
	var flows []TokenFlow
	for _, pi := range c.Covered(ev) {
		switch p := pi.Payload.(type) {
		case programs.SystemTransfer:
			flows = append(flows,
				TokenFlow{Mint: programs.WrappedSOLMint, Owner: p.From, Account: p.From, Direction: DirectionOut, Amount: p.Lamports},
				TokenFlow{Mint: programs.WrappedSOLMint, Owner: ownerOr(c, p.To, p.To), Account: p.To, Direction: DirectionIn, Amount: p.Lamports},
			)
		case programs.TokenTransfer:
			mint, ok := transferMint(c, p)
			if !ok {
				ev.Tags.Add(qc.MissingTokenBalances)
				continue
			}
			flows = append(flows,
				TokenFlow{Mint: mint, Owner: ownerOr(c, p.Source, p.Authority), Account: p.Source, Direction: DirectionOut, Amount: p.Amount},
				TokenFlow{Mint: mint, Owner: ownerOr(c, p.Destination, p.Destination), Account: p.Destination, Direction: DirectionIn, Amount: p.Amount},
			)
		case programs.TokenMintTo:
			flows = append(flows, TokenFlow{
				Mint: p.Mint, Owner: ownerOr(c, p.Account, p.Account), Account: p.Account, Direction: DirectionIn, Amount: p.Amount,
			})
		case programs.TokenBurn:
			flows = append(flows, TokenFlow{
				Mint: p.Mint, Owner: ownerOr(c, p.Account, p.Authority), Account: p.Account, Direction: DirectionOut, Amount: p.Amount,
			})
		}
	}
	return flows
}

func transferMint(c *Context, t programs.TokenTransfer) (solana.PublicKey, bool) {
	if t.Mint != nil {
		return *t.Mint, true
	}
	for _, a := range []solana.PublicKey{t.Source, t.Destination} {
		if m, ok := c.Tx.MintOf(a); ok {
			return m, true
		}
	}
	for _, a := range []solana.PublicKey{t.Source, t.Destination} {
		if _, m, ok := createdTokenAccount(c, a); ok {
			return m, true
		}
	}
	return solana.PublicKey{}, false
}

func ownerOr(c *Context, account, fallback solana.PublicKey) solana.PublicKey {
	if o, ok := tokenAccountOwner(c, account); ok {
		return o
	}
	return fallback
}

// tokenAccountOwner finds the owner of a token account in the balance snapshots, or in the
// instruction that created it when the account was opened and closed in the transaction.
func tokenAccountOwner(c *Context, account solana.PublicKey) (solana.PublicKey, bool) {
	if o, ok := c.Tx.OwnerOf(account); ok {
		return o, true
	}
	owner, _, ok := createdTokenAccount(c, account)
	return owner, ok
}

// createdTokenAccount returns the owner and mint a token account was created with.
func createdTokenAccount(c *Context, account solana.PublicKey) (owner, mint solana.PublicKey, ok bool) {
	for _, pi := range c.Parsed {
		switch p := pi.Payload.(type) {
		case programs.ATACreate:
			if p.Account.Equals(account) {
				return p.Wallet, p.Mint, true
			}
		case programs.TokenInitializeAccount:
			if p.Account.Equals(account) {
				return p.Owner, p.Mint, true
			}
		}
	}
	return solana.PublicKey{}, solana.PublicKey{}, false
}

// balanceChanges writes post - pre for every touched account holding mint. A missing side
// counts as zero; it reports false when no touched account has a snapshot at all.
func balanceChanges(c *Context, ev *Event, mint solana.PublicKey, net map[string]map[string]int64) bool {
	accounts := slices.Clone(ev.Involved)
	for _, f := range ev.TokenFlows {
		if f.Mint.Equals(mint) && !slices.Contains(accounts, f.Account) {
			accounts = append(accounts, f.Account)
		}
	}

	found := false
	for _, a := range accounts {
		pre, hasPre := c.Tx.PreTokenBalance(a)
		post, hasPost := c.Tx.PostTokenBalance(a)
		if (hasPre && !pre.Mint.Equals(mint)) || (hasPost && !post.Mint.Equals(mint)) {
			continue
		}
		if !hasPre && !hasPost {
			continue
		}
		found = true
		accumulate(net, ownerOr(c, a, a), mint, delta(pre.Amount, post.Amount))
	}
	return found
}

func accumulate(net map[string]map[string]int64, owner, mint solana.PublicKey, change int64) {
	byMint, ok := net[owner.String()]
	if !ok {
		byMint = map[string]int64{}
		net[owner.String()] = byMint
	}
	byMint[mint.String()] = addSat(byMint[mint.String()], change)
}
