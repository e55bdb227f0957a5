package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	solanaclient "github.com/brojonat/txdecode/service/solana"
)

// Fetcher acquires raw transactions. *solana.Client satisfies it.
type Fetcher interface {
	FetchTransactions(ctx context.Context, signatures []string) ([]*solanaclient.Fetched, []*decoder.FetchError)
}

// RawStore is the persistence the acquirer needs. *db.Store satisfies it.
type RawStore interface {
	HasRaw(ctx context.Context, signature string) (bool, error)
	SaveRaw(ctx context.Context, raw db.RawTransaction) error
	SaveDeadLetter(ctx context.Context, dl decoder.DeadLetter) error
}

// FetchSummary totals an acquisition run.
type FetchSummary struct {
	Requested    int `json:"requested"`
	Skipped      int `json:"skipped"`
	Stored       int `json:"stored"`
	DeadLettered int `json:"dead_lettered"`
}

// Acquire fetches the signatures not yet stored and writes their raw payloads. Fetch
// failures are dead-lettered with reason fetch_error. refetch also fetches stored ones.
func Acquire(ctx context.Context, fetcher Fetcher, store RawStore, sigs []string, refetch bool, logger *slog.Logger) (*FetchSummary, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}
	if logger == nil {
		logger = slog.Default()
	}
	summary := &FetchSummary{Requested: len(sigs)}

	todo := sigs
	if !refetch {
		todo = make([]string, 0, len(sigs))
		for _, sig := range sigs {
			ok, err := store.HasRaw(ctx, sig)
			if err != nil {
				return summary, err
			}
			if ok {
				summary.Skipped++
				continue
			}
			todo = append(todo, sig)
		}
	}

	fetched, failures := fetcher.FetchTransactions(ctx, todo)
	for _, f := range fetched {
		err := store.SaveRaw(ctx, db.RawTransaction{
			Signature: f.Signature,
			Slot:      f.Slot,
			BlockTime: f.BlockTime,
			RawJSON:   f.Raw,
			FetchedAt: time.Now().UTC(),
		})
		if err != nil {
			return summary, err
		}
		summary.Stored++
	}

	for _, fe := range failures {
		dl := decoder.NewDeadLetter(fe.Signature, fe, nil, time.Now())
		if err := store.SaveDeadLetter(ctx, dl); err != nil {
			logger.ErrorContext(ctx, "failed to save dead letter", "signature", fe.Signature, "error", err)
			continue
		}
		summary.DeadLettered++
	}

	logger.InfoContext(ctx, "acquisition finished",
		"requested", summary.Requested,
		"skipped", summary.Skipped,
		"stored", summary.Stored,
		"dead_lettered", summary.DeadLettered,
	)
	return summary, nil
}
