package enrich

import (
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/qc"
	"github.com/brojonat/txdecode/service/decoder/resolve"
	"github.com/brojonat/txdecode/service/registry"
)

// PriceImpact is the pool-ratio impact of one swap hop, read from its vault balances.
type PriceImpact struct {
	Hop         int              `json:"hop"`
	Pool        solana.PublicKey `json:"pool"`
	InputVault  solana.PublicKey `json:"input_vault"`
	OutputVault solana.PublicKey `json:"output_vault"`
	PrePoolIn   uint64           `json:"pre_pool_in"`
	PrePoolOut  uint64           `json:"pre_pool_out"`
	AmountIn    int64            `json:"amount_in"`
	AmountOut   int64            `json:"amount_out"`
	// Value is amount_out/pre_pool_out - amount_in/pre_pool_in; nil when the status is error.
	Value  *float64  `json:"price_impact"`
	Status qc.Status `json:"qc_status"`
	Tags   qc.Tags   `json:"qc_tags"`
}

// PriceImpacts computes price impact for every swap hop that names its pool vaults.
type PriceImpacts struct{}

func (PriceImpacts) Name() string { return "price_impact" }

func (PriceImpacts) Enrich(c *Context, ev *Event) {
	if ev.Type != resolve.EventSwap {
		return
	}
	for i, h := range ev.Hops {
		if !h.HasVaults() {
			continue
		}
		pi := priceImpact(c, h)
		pi.Hop = i
		ev.Tags.Add(pi.Tags...)
		ev.PriceImpact = append(ev.PriceImpact, pi)
	}
}

func priceImpact(c *Context, h resolve.Hop) PriceImpact {
	out := PriceImpact{Pool: h.Pool}
	finish := func() PriceImpact {
		out.Status = qc.StatusOf(out.Tags)
		return out
	}

	var pre, post [2]uint64
	var mints [2]solana.PublicKey
	for i, v := range h.Vaults {
		b, ok := c.Tx.PreTokenBalance(v)
		if !ok {
			out.Tags.Add(qc.MissingPreBalances)
			continue
		}
		pre[i], mints[i] = b.Amount, b.Mint
		a, ok := c.Tx.PostTokenBalance(v)
		if !ok {
			out.Tags.Add(qc.MissingPostBalances)
			continue
		}
		post[i] = a.Amount
	}
	if out.Tags.Has(qc.MissingPreBalances) || out.Tags.Has(qc.MissingPostBalances) {
		return finish()
	}

	in, ok := inputVault(h, mints, pre, post)
	if !ok {
		out.Tags.Add(qc.MintMismatch)
		return finish()
	}
	o := 1 - in
	out.InputVault, out.OutputVault = h.Vaults[in], h.Vaults[o]
	out.PrePoolIn, out.PrePoolOut = pre[in], pre[o]

	dIn, dOut := delta(pre[in], post[in]), delta(pre[o], post[o])
	out.AmountIn, out.AmountOut = dIn, -dOut
	if dIn <= 0 || dOut >= 0 {
		out.Tags.Add(qc.BalanceChangeMismatch)
		return finish()
	}

	if pool, verdict := c.Pools.Verify(h.Pool, h.Vaults); verdict == registry.PoolUnknown {
		out.Tags.Add(qc.PoolUnverified)
	} else if verdict == registry.PoolMismatch || !vaultMintsMatch(pool, h.Vaults, mints) {
		out.Tags.Add(qc.VaultMismatch)
	}

	if out.PrePoolIn == 0 || out.PrePoolOut == 0 {
		out.Tags.Add(qc.MissingPreBalances)
		return finish()
	}
	v := float64(out.AmountOut)/float64(out.PrePoolOut) - float64(out.AmountIn)/float64(out.PrePoolIn)
	out.Value = &v
	return finish()
}

// inputVault returns the index of the vault holding the hop's input mint. Without declared
// mints the vault whose balance grew is the input.
func inputVault(h resolve.Hop, mints [2]solana.PublicKey, pre, post [2]uint64) (int, bool) {
	switch {
	case !h.InputMint.IsZero() && !h.OutputMint.IsZero():
		switch {
		case mints[0].Equals(h.InputMint) && mints[1].Equals(h.OutputMint):
			return 0, true
		case mints[1].Equals(h.InputMint) && mints[0].Equals(h.OutputMint):
			return 1, true
		}
		return 0, false
	case !h.InputMint.IsZero():
		for i, m := range mints {
			if m.Equals(h.InputMint) {
				return i, true
			}
		}
		return 0, false
	case !h.OutputMint.IsZero():
		for i, m := range mints {
			if m.Equals(h.OutputMint) {
				return 1 - i, true
			}
		}
		return 0, false
	}
	if post[1] > pre[1] {
		return 1, true
	}
	return 0, true
}

// vaultMintsMatch checks the observed vault mints against the registered pool.
func vaultMintsMatch(p registry.Pool, vaults [2]solana.PublicKey, mints [2]solana.PublicKey) bool {
	for i, v := range vaults {
		m, ok := p.MintOfVault(v)
		if !ok || !m.Equals(mints[i]) {
			return false
		}
	}
	return true
}
