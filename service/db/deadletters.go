package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brojonat/txdecode/service/decoder"
)

// SaveDeadLetter records a failed decode. A repeated failure of the same signature replaces
// the reason and bumps the attempt counter; the previous payload is kept when the new one is
// empty.
func (s *Store) SaveDeadLetter(ctx context.Context, dl decoder.DeadLetter) (err error) {
	defer func(start time.Time) { s.observe("save_dead_letter", "dead_letters", start, err) }(time.Now())

	if dl.Signature == "" {
		return errors.New("dead letter has no signature")
	}
	var payload []byte
	if len(dl.Payload) > 0 {
		payload = dl.Payload
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dead_letters (signature, failed_at, reason, error, payload, attempts)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (signature) DO UPDATE SET
			failed_at = EXCLUDED.failed_at,
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			payload = COALESCE(EXCLUDED.payload, dead_letters.payload),
			attempts = dead_letters.attempts + 1`,
		dl.Signature, dl.FailedAt, dl.Reason, dl.Error, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter %s: %w", dl.Signature, err)
	}
	return nil
}

// GetDeadLetter returns the dead letter of signature, or ErrNotFound.
func (s *Store) GetDeadLetter(ctx context.Context, signature string) (dl *decoder.DeadLetter, err error) {
	defer func(start time.Time) { s.observe("get_dead_letter", "dead_letters", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT signature, failed_at, reason, error, payload, attempts
		FROM dead_letters WHERE signature = $1`, signature)
	dl, err = scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dead letter %s: %w", signature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter %s: %w", signature, err)
	}
	return dl, nil
}

// ListDeadLetters returns dead letters oldest failure first, optionally filtered by reason.
// Payloads are omitted. Limit <= 0 means no limit.
func (s *Store) ListDeadLetters(ctx context.Context, reason string, limit int) (out []decoder.DeadLetter, err error) {
	defer func(start time.Time) { s.observe("list_dead_letters", "dead_letters", start, err) }(time.Now())

	query := `SELECT signature, failed_at, reason, error, NULL::bytea, attempts
		FROM dead_letters WHERE ($1 = '' OR reason = $1)
		ORDER BY failed_at, signature`
	args := []any{reason}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

// DeleteDeadLetter removes the dead letter of signature. Deleting a missing row is not an error.
func (s *Store) DeleteDeadLetter(ctx context.Context, signature string) (err error) {
	defer func(start time.Time) { s.observe("delete_dead_letter", "dead_letters", start, err) }(time.Now())

	if _, err = s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE signature = $1`, signature); err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", signature, err)
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*decoder.DeadLetter, error) {
	var dl decoder.DeadLetter
	if err := row.Scan(&dl.Signature, &dl.FailedAt, &dl.Reason, &dl.Error, &dl.Payload, &dl.Attempts); err != nil {
		return nil, err
	}
	dl.FailedAt = dl.FailedAt.UTC()
	return &dl, nil
}
