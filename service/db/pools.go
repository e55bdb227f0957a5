package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/brojonat/txdecode/service/registry"
)

const upsertPoolSQL = `
	INSERT INTO dex_pools (pool_address, dex_name, token_a_mint, token_b_mint, token_a_vault,
		token_b_vault, lp_mint, initial_liquidity_provider, last_updated)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (pool_address) DO UPDATE SET
		dex_name = EXCLUDED.dex_name,
		token_a_mint = EXCLUDED.token_a_mint,
		token_b_mint = EXCLUDED.token_b_mint,
		token_a_vault = EXCLUDED.token_a_vault,
		token_b_vault = EXCLUDED.token_b_vault,
		lp_mint = COALESCE(EXCLUDED.lp_mint, dex_pools.lp_mint),
		initial_liquidity_provider = COALESCE(dex_pools.initial_liquidity_provider, EXCLUDED.initial_liquidity_provider),
		last_updated = NOW()`

func queuePoolUpsert(batch *pgx.Batch, p registry.Pool) {
	batch.Queue(upsertPoolSQL,
		p.Address.String(), p.DEX, p.MintA.String(), p.MintB.String(), p.VaultA.String(), p.VaultB.String(),
		pgtextFromKey(p.LPMint), pgtextFromKey(p.InitialProvider),
	)
}

// UpsertPools inserts or refreshes pool registry rows. The first known liquidity provider of
// a pool is never overwritten.
func (s *Store) UpsertPools(ctx context.Context, pools ...registry.Pool) (err error) {
	defer func(start time.Time) { s.observe("upsert_pools", "dex_pools", start, err) }(time.Now())

	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		queuePoolUpsert(batch, p)
	}
	if err = s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert pools: %w", err)
	}
	return nil
}

// ListPools returns every stored pool ordered by address.
func (s *Store) ListPools(ctx context.Context) (out []registry.Pool, err error) {
	defer func(start time.Time) { s.observe("list_pools", "dex_pools", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, dex_name, token_a_mint, token_b_mint, token_a_vault, token_b_vault,
			lp_mint, initial_liquidity_provider, last_updated
		FROM dex_pools ORDER BY pool_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			addr, mintA, mintB, vaultA, vaultB string
			lpMint, provider                   pgtype.Text
			p                                  registry.Pool
		)
		if err := rows.Scan(&addr, &p.DEX, &mintA, &mintB, &vaultA, &vaultB, &lpMint, &provider, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		keys := []struct {
			dst *solana.PublicKey
			src string
		}{{&p.Address, addr}, {&p.MintA, mintA}, {&p.MintB, mintB}, {&p.VaultA, vaultA}, {&p.VaultB, vaultB}}
		for _, k := range keys {
			if *k.dst, err = solana.PublicKeyFromBase58(k.src); err != nil {
				return nil, fmt.Errorf("pool %s: invalid key %q: %w", addr, k.src, err)
			}
		}
		if p.LPMint, err = keyFromPgtext(lpMint); err != nil {
			return nil, fmt.Errorf("pool %s: invalid lp mint: %w", addr, err)
		}
		if p.InitialProvider, err = keyFromPgtext(provider); err != nil {
			return nil, fmt.Errorf("pool %s: invalid provider: %w", addr, err)
		}
		p.LastUpdated = p.LastUpdated.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func pgtextFromKey(k *solana.PublicKey) pgtype.Text {
	if k == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: k.String(), Valid: true}
}

func keyFromPgtext(t pgtype.Text) (*solana.PublicKey, error) {
	if !t.Valid {
		return nil, nil
	}
	k, err := solana.PublicKeyFromBase58(t.String)
	if err != nil {
		return nil, err
	}
	return &k, nil
}
