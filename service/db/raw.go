package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// RawTransaction is a stored getTransaction payload.
type RawTransaction struct {
	Signature     string          `json:"signature"`
	Slot          uint64          `json:"slot"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	RawJSON       json.RawMessage `json:"raw_json"`
	ParserVersion *string         `json:"parser_version,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Selector picks the stored transactions a reprocess run covers. Exactly one of
// Signatures, ParserVersionBelow, DeadLetters or All should be set. Limit <= 0 means no limit.
type Selector struct {
	Signatures         []string `json:"signatures,omitempty"`
	ParserVersionBelow string   `json:"parser_version_below,omitempty"`
	DeadLetters        bool     `json:"dead_letters,omitempty"`
	All                bool     `json:"all,omitempty"`
	Limit              int      `json:"limit,omitempty"`
}

// Validate checks that the selector names exactly one source.
func (sel Selector) Validate() error {
	n := 0
	if len(sel.Signatures) > 0 {
		n++
	}
	if sel.ParserVersionBelow != "" {
		n++
	}
	if sel.DeadLetters {
		n++
	}
	if sel.All {
		n++
	}
	switch {
	case n == 0:
		return errors.New("selector is empty: choose signatures, parser version, dead letters or all")
	case n > 1:
		return errors.New("selector is ambiguous: choose exactly one source")
	}
	return nil
}

// SaveRaw inserts or replaces the raw payload of a transaction. Processing state is kept.
func (s *Store) SaveRaw(ctx context.Context, raw RawTransaction) (err error) {
	defer func(start time.Time) { s.observe("save_raw", "raw_transactions", start, err) }(time.Now())

	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO raw_transactions (signature, slot, block_time, raw_json, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signature) DO UPDATE SET
			slot = EXCLUDED.slot,
			block_time = EXCLUDED.block_time,
			raw_json = EXCLUDED.raw_json,
			fetched_at = EXCLUDED.fetched_at`,
		raw.Signature, int64(raw.Slot), pgTimestamptzFromTimePtr(raw.BlockTime), []byte(raw.RawJSON), raw.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save raw transaction %s: %w", raw.Signature, err)
	}
	return nil
}

// HasRaw reports whether a raw payload is stored for signature.
func (s *Store) HasRaw(ctx context.Context, signature string) (exists bool, err error) {
	defer func(start time.Time) { s.observe("has_raw", "raw_transactions", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM raw_transactions WHERE signature = $1)`, signature,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check raw transaction %s: %w", signature, err)
	}
	return exists, nil
}

// GetRaw returns the stored payload of one transaction, or ErrNotFound.
func (s *Store) GetRaw(ctx context.Context, signature string) (raw *RawTransaction, err error) {
	defer func(start time.Time) { s.observe("get_raw", "raw_transactions", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT signature, slot, block_time, raw_json, parser_version, processed_at, fetched_at
		FROM raw_transactions WHERE signature = $1`, signature)
	raw, err = scanRaw(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("raw transaction %s: %w", signature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw transaction %s: %w", signature, err)
	}
	return raw, nil
}

// GetRawBatch returns the stored payloads of signatures ordered by (slot, signature).
// Signatures without a stored payload are absent from the result.
func (s *Store) GetRawBatch(ctx context.Context, signatures []string) (out []*RawTransaction, err error) {
	defer func(start time.Time) { s.observe("get_raw_batch", "raw_transactions", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT signature, slot, block_time, raw_json, parser_version, processed_at, fetched_at
		FROM raw_transactions WHERE signature = ANY($1)
		ORDER BY slot, signature`, signatures)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		raw, err := scanRaw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw transaction: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// ListSignatures returns the signatures matching sel in (slot, signature) order. Dead-letter
// selections are ordered by failure time.
func (s *Store) ListSignatures(ctx context.Context, sel Selector) (sigs []string, err error) {
	defer func(start time.Time) { s.observe("list_signatures", "raw_transactions", start, err) }(time.Now())

	if err := sel.Validate(); err != nil {
		return nil, err
	}

	query, args := selectorQuery(sel)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// selectorQuery builds the signature query for sel. Parser versions are compared
// numerically segment by segment; rows never processed always match.
func selectorQuery(sel Selector) (string, []any) {
	var b strings.Builder
	var args []any

	switch {
	case len(sel.Signatures) > 0:
		args = append(args, sel.Signatures)
		b.WriteString(`SELECT signature FROM raw_transactions WHERE signature = ANY($1) ORDER BY slot, signature`)
	case sel.ParserVersionBelow != "":
		args = append(args, sel.ParserVersionBelow)
		b.WriteString(`SELECT signature FROM raw_transactions
			WHERE parser_version IS NULL
			   OR string_to_array(parser_version, '.')::int[] < string_to_array($1, '.')::int[]
			ORDER BY slot, signature`)
	case sel.DeadLetters:
		b.WriteString(`SELECT signature FROM dead_letters ORDER BY failed_at, signature`)
	default:
		b.WriteString(`SELECT signature FROM raw_transactions ORDER BY slot, signature`)
	}

	if sel.Limit > 0 {
		args = append(args, sel.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// MarkProcessed records the parser version that last decoded signature.
func (s *Store) MarkProcessed(ctx context.Context, signature, parserVersion string) (err error) {
	defer func(start time.Time) { s.observe("mark_processed", "raw_transactions", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		UPDATE raw_transactions SET parser_version = $2, processed_at = NOW()
		WHERE signature = $1`, signature, parserVersion)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", signature, err)
	}
	return nil
}

func scanRaw(row pgx.Row) (*RawTransaction, error) {
	var (
		raw           RawTransaction
		slot          int64
		blockTime     pgtype.Timestamptz
		payload       []byte
		parserVersion pgtype.Text
		processedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&raw.Signature, &slot, &blockTime, &payload, &parserVersion, &processedAt, &raw.FetchedAt); err != nil {
		return nil, err
	}
	raw.Slot = uint64(slot)
	raw.BlockTime = timePtrFromPgTimestamptz(blockTime)
	raw.RawJSON = payload
	raw.ParserVersion = stringPtrFromPgtext(parserVersion)
	raw.ProcessedAt = timePtrFromPgTimestamptz(processedAt)
	raw.FetchedAt = raw.FetchedAt.UTC()
	return &raw, nil
}
