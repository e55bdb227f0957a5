package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/brojonat/txdecode/service/decoder"
)

// StoredEvent is one row of decoded_events. Payload is the full enriched event.
type StoredEvent struct {
	EventID       string          `json:"event_id"`
	Signature     string          `json:"signature"`
	EventType     string          `json:"event_type"`
	Protocol      string          `json:"protocol"`
	QCStatus      string          `json:"qc_status"`
	ParserVersion string          `json:"parser_version"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Signature string
	EventType string
	QCStatus  string
	Limit     int
}

// SaveResult stores a decode result in one transaction: the signature's previous events are
// replaced, the raw row is marked with the parser version, any dead letter is cleared and
// discovered pools are upserted.
func (s *Store) SaveResult(ctx context.Context, res *decoder.Result) (err error) {
	defer func(start time.Time) { s.observe("save_result", "decoded_events", start, err) }(time.Now())

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM decoded_events WHERE signature = $1`, res.Signature); err != nil {
			return fmt.Errorf("failed to clear events of %s: %w", res.Signature, err)
		}

		batch := &pgx.Batch{}
		for i := range res.Events {
			ev := &res.Events[i]
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
			}
			batch.Queue(`
				INSERT INTO decoded_events
					(event_id, signature, event_type, protocol, qc_status, parser_version, block_time, payload)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				ev.EventID, res.Signature, string(ev.Type), ev.Protocol, string(ev.QCStatus),
				ev.ParserVersion, pgTimestamptzFromTimePtr(ev.BlockTime), payload,
			)
		}
		batch.Queue(`
			UPDATE raw_transactions SET parser_version = $2, processed_at = NOW()
			WHERE signature = $1`, res.Signature, res.ParserVersion)
		batch.Queue(`DELETE FROM dead_letters WHERE signature = $1`, res.Signature)
		for _, p := range res.Pools {
			queuePoolUpsert(batch, p)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to store result of %s: %w", res.Signature, err)
		}
		return nil
	})
}

// ListEvents returns stored events matching f, newest block time first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) (out []StoredEvent, err error) {
	defer func(start time.Time) { s.observe("list_events", "decoded_events", start, err) }(time.Now())

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Signature != "" {
		add("signature = $%d", f.Signature)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.QCStatus != "" {
		add("qc_status = $%d", f.QCStatus)
	}

	query := `SELECT event_id, signature, event_type, protocol, qc_status, parser_version, block_time, payload
		FROM decoded_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY block_time DESC NULLS LAST, event_id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev        StoredEvent
			blockTime pgtype.Timestamptz
			payload   []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.Signature, &ev.EventType, &ev.Protocol, &ev.QCStatus,
			&ev.ParserVersion, &blockTime, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.BlockTime = timePtrFromPgTimestamptz(blockTime)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
