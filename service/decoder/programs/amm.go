package programs

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// swapLayout gives the account positions of a swap instruction; -1 means the layout has no
// such account.
type swapLayout struct {
	pool, user, source, destination int
	vaultA, vaultB                  int
	inputMint, outputMint           int
}

// swapHandler builds a handler for the (amount u64, threshold u64, ...) swap argument shape
// shared by every AMM. extra decodes whatever follows the two amounts.
func swapHandler(name string, roles []string, l swapLayout, exactIn bool, extra func(d *bin.Decoder, s *Swap) error) handler {
	return handler{
		name:  name,
		roles: roles,
		decode: func(c *call) (Payload, error) {
			d := c.borsh()
			amount, err := readU64(d)
			if err != nil {
				return nil, err
			}
			threshold, err := readU64(d)
			if err != nil {
				return nil, err
			}
			s := Swap{
				Pool:            c.at(l.pool),
				User:            c.at(l.user),
				UserSource:      c.at(l.source),
				UserDestination: c.at(l.destination),
				Vaults:          [2]solana.PublicKey{c.at(l.vaultA), c.at(l.vaultB)},
				InputMint:       c.opt(l.inputMint),
				OutputMint:      c.opt(l.outputMint),
				ExactIn:         exactIn,
				Amount:          amount,
				Threshold:       threshold,
			}
			if extra != nil {
				if err := extra(d, &s); err != nil {
					return nil, err
				}
			}
			return s, nil
		},
	}
}

// liquidityLayout gives the account positions of a deposit, withdrawal or pool creation.
type liquidityLayout struct {
	pool, user     int
	lpMint         int
	mintA, mintB   int
	vaultA, vaultB int
}

func (l liquidityLayout) bind(c *call, change LiquidityChange) Liquidity {
	return Liquidity{
		Change: change,
		Pool:   c.at(l.pool),
		User:   c.at(l.user),
		LPMint: c.opt(l.lpMint),
		MintA:  c.opt(l.mintA),
		MintB:  c.opt(l.mintB),
		VaultA: c.opt(l.vaultA),
		VaultB: c.opt(l.vaultB),
	}
}

// clmmExtra reads the concentrated-liquidity tail: sqrt_price_limit u128 and is_base_input.
func clmmExtra(d *bin.Decoder, s *Swap) error {
	if err := skip(d, 16); err != nil {
		return err
	}
	isBaseInput, err := d.ReadBool()
	if err != nil {
		return err
	}
	s.ExactIn = isBaseInput
	return nil
}

// liquidityU128 reads (liquidity u128, amount_a u64, amount_b u64).
func liquidityU128(c *call, l *Liquidity) error {
	d := c.borsh()
	if err := skip(d, 16); err != nil {
		return err
	}
	a, err := readU64(d)
	if err != nil {
		return err
	}
	b, err := readU64(d)
	if err != nil {
		return err
	}
	l.AmountA, l.AmountB = a, b
	return nil
}
