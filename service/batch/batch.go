// Package batch reprocesses stored raw transactions: select signatures, decode them in
// parallel chunks, fold the dump detector over each chunk in block-time order, then persist,
// publish and dead-letter.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/decoder/enrich"
	"github.com/brojonat/txdecode/service/metrics"
	natspkg "github.com/brojonat/txdecode/service/nats"
)

// Store is the persistence the runner needs. *db.Store satisfies it.
type Store interface {
	ListSignatures(ctx context.Context, sel db.Selector) ([]string, error)
	GetRawBatch(ctx context.Context, signatures []string) ([]*db.RawTransaction, error)
	SaveResult(ctx context.Context, res *decoder.Result) error
	SaveDeadLetter(ctx context.Context, dl decoder.DeadLetter) error
}

// Decoder decodes one raw payload. *decoder.Decoder satisfies it.
type Decoder interface {
	Decode(raw []byte) (*decoder.Result, error)
}

// PriceStates is the dump detector state carried from one chunk to the next.
type PriceStates = map[solana.PublicKey]enrich.MintPriceState

// Options tune a run.
type Options struct {
	ChunkSize int
	Workers   int
	// DryRun decodes without writing, publishing or dead-lettering.
	DryRun bool
	// KeepResults returns the decode results in each ChunkResult.
	KeepResults bool
	Dumps       enrich.DumpDetector
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ChunkSize: 100,
		Workers:   8,
		Dumps:     enrich.DefaultDumpDetector(),
	}
}

// ChunkResult reports one processed chunk.
type ChunkResult struct {
	Processed    int                  `json:"processed"`
	Events       int                  `json:"events"`
	DeadLettered int                  `json:"dead_lettered"`
	Dumps        int                  `json:"dumps"`
	Missing      []string             `json:"missing,omitempty"`
	States       PriceStates          `json:"states,omitempty"`
	Results      []*decoder.Result    `json:"results,omitempty"`
	Failures     []decoder.DeadLetter `json:"failures,omitempty"`
}

// Summary totals a run.
type Summary struct {
	Selected     int           `json:"selected"`
	Chunks       int           `json:"chunks"`
	Processed    int           `json:"processed"`
	Events       int           `json:"events"`
	DeadLettered int           `json:"dead_lettered"`
	Dumps        int           `json:"dumps"`
	Missing      int           `json:"missing"`
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
}

// Add folds one chunk into the summary.
func (s *Summary) Add(c *ChunkResult) {
	s.Chunks++
	s.Processed += c.Processed
	s.Events += c.Events
	s.DeadLettered += c.DeadLettered
	s.Dumps += c.Dumps
	s.Missing += len(c.Missing)
}

// Runner drives reprocessing.
type Runner struct {
	store     Store
	decoder   Decoder
	publisher natspkg.Publisher
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a runner. publisher and m may be nil.
func NewRunner(store Store, dec Decoder, publisher natspkg.Publisher, opts Options, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultOptions().Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     store,
		decoder:   dec,
		publisher: publisher,
		opts:      opts,
		metrics:   m,
		logger:    logger.With("component", "batch"),
		now:       time.Now,
	}
}

// Options returns the effective options.
func (r *Runner) Options() Options {
	return r.opts
}

// Select resolves a selector into signatures.
func (r *Runner) Select(ctx context.Context, sel db.Selector) ([]string, error) {
	sigs, err := r.store.ListSignatures(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to select signatures: %w", err)
	}
	return sigs, nil
}

// Run reprocesses everything sel selects, chunk by chunk, carrying the dump detector state
// across chunks. Per-transaction failures are dead-lettered; only selection and
// cancellation errors stop the run.
func (r *Runner) Run(ctx context.Context, sel db.Selector) (*Summary, error) {
	start := r.now()
	sigs, err := r.Select(ctx, sel)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Selected: len(sigs), DryRun: r.opts.DryRun}
	r.logger.InfoContext(ctx, "reprocess started",
		"selected", len(sigs),
		"chunk_size", r.opts.ChunkSize,
		"workers", r.opts.Workers,
		"dry_run", r.opts.DryRun,
	)

	states := PriceStates{}
	for i, chunk := range Chunk(sigs, r.opts.ChunkSize) {
		res, err := r.ProcessChunk(ctx, chunk, states)
		if err != nil {
			summary.Duration = r.now().Sub(start)
			return summary, fmt.Errorf("chunk %d: %w", i, err)
		}
		states = res.States
		summary.Add(res)
	}

	summary.Duration = r.now().Sub(start)
	r.logger.InfoContext(ctx, "reprocess finished",
		"processed", summary.Processed,
		"events", summary.Events,
		"dead_lettered", summary.DeadLettered,
		"dumps", summary.Dumps,
		"missing", summary.Missing,
		"duration", summary.Duration,
	)
	return summary, nil
}

// ProcessChunk decodes, folds and persists one chunk of signatures. states is not modified;
// the advanced state is returned in the result.
func (r *Runner) ProcessChunk(ctx context.Context, sigs []string, states PriceStates) (res *ChunkResult, err error) {
	start := time.Now()
	defer func() {
		if r.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordBatchChunk(status, time.Since(start).Seconds())
	}()

	raws, err := r.store.GetRawBatch(ctx, sigs)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw transactions: %w", err)
	}
	res = &ChunkResult{Missing: missing(sigs, raws)}
	if len(res.Missing) > 0 {
		r.logger.WarnContext(ctx, "signatures without stored payload", "count", len(res.Missing))
		r.record("missing", len(res.Missing))
	}

	results, failures := r.decodeAll(ctx, raws)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Dumps = foldDumps(r.opts.Dumps, results, states, res)
	if r.metrics != nil {
		r.metrics.RecordDumps(res.Dumps)
	}

	stored, storeFailures := r.persist(ctx, results)
	failures = append(failures, storeFailures...)
	res.Processed = stored
	for _, result := range results {
		if result != nil {
			res.Events += len(result.Events)
		}
	}

	for _, dl := range failures {
		r.deadLetter(ctx, dl)
	}
	res.DeadLettered = len(failures)
	res.Failures = failures
	if r.opts.KeepResults {
		for _, result := range results {
			if result != nil {
				res.Results = append(res.Results, result)
			}
		}
	}

	r.record("processed", res.Processed)
	r.record("dead_lettered", res.DeadLettered)
	r.logger.DebugContext(ctx, "chunk processed",
		"signatures", len(sigs),
		"processed", res.Processed,
		"events", res.Events,
		"dead_lettered", res.DeadLettered,
		"dumps", res.Dumps,
	)
	return res, nil
}

// decodeAll decodes raws in parallel. results keeps the raws order; a failed decode leaves a
// nil slot and a dead letter.
func (r *Runner) decodeAll(ctx context.Context, raws []*db.RawTransaction) ([]*decoder.Result, []decoder.DeadLetter) {
	results := make([]*decoder.Result, len(raws))
	failed := make([]*decoder.DeadLetter, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, raw := range raws {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result, err := r.decoder.Decode(raw.RawJSON)
			if err != nil {
				dl := decoder.NewDeadLetter(raw.Signature, err, raw.RawJSON, r.now())
				failed[i] = &dl
				r.logger.WarnContext(ctx, "decode failed",
					"signature", raw.Signature,
					"reason", dl.Reason,
					"error", err,
				)
				return nil
			}
			if result.Signature == "" {
				result.Signature = raw.Signature
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	var failures []decoder.DeadLetter
	for _, dl := range failed {
		if dl != nil {
			failures = append(failures, *dl)
		}
	}
	return results, failures
}

// persist saves and publishes results in parallel. A failed save becomes a storage dead
// letter; a failed publish is only logged since the events are already stored.
func (r *Runner) persist(ctx context.Context, results []*decoder.Result) (int, []decoder.DeadLetter) {
	if r.opts.DryRun {
		n := 0
		for _, result := range results {
			if result != nil {
				n++
			}
		}
		return n, nil
	}

	failed := make([]*decoder.DeadLetter, len(results))
	stored := make([]bool, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, result := range results {
		if result == nil {
			continue
		}
		g.Go(func() error {
			if err := r.store.SaveResult(gctx, result); err != nil {
				dl := decoder.NewDeadLetter(result.Signature, fmt.Errorf("%w: %w", decoder.ErrStorage, err), nil, r.now())
				failed[i] = &dl
				r.logger.ErrorContext(ctx, "failed to store result",
					"signature", result.Signature,
					"error", err,
				)
				return nil
			}
			stored[i] = true
			if r.publisher != nil {
				if err := r.publisher.PublishResult(gctx, result); err != nil {
					r.logger.WarnContext(ctx, "failed to publish result",
						"signature", result.Signature,
						"error", err,
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	var failures []decoder.DeadLetter
	for i := range results {
		if stored[i] {
			n++
		}
		if failed[i] != nil {
			failures = append(failures, *failed[i])
		}
	}
	return n, failures
}

func (r *Runner) deadLetter(ctx context.Context, dl decoder.DeadLetter) {
	if r.metrics != nil {
		r.metrics.RecordDeadLetter(dl.Reason)
	}
	if r.opts.DryRun {
		return
	}
	if err := r.store.SaveDeadLetter(ctx, dl); err != nil {
		r.logger.ErrorContext(ctx, "failed to save dead letter",
			"signature", dl.Signature,
			"reason", dl.Reason,
			"error", err,
		)
	}
}

func (r *Runner) record(result string, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.RecordBatchTransactions(result, n)
	}
}

// foldDumps runs the dump detector over every event of the chunk at once, so ordering holds
// across transactions, and writes the flagged events back into their results.
func foldDumps(d enrich.DumpDetector, results []*decoder.Result, states PriceStates, res *ChunkResult) int {
	type slot struct{ result, event int }
	var (
		events []enrich.Event
		slots  []slot
	)
	for i, result := range results {
		if result == nil {
			continue
		}
		for j := range result.Events {
			events = append(events, result.Events[j])
			slots = append(slots, slot{i, j})
		}
	}

	res.States = d.DetectDumps(events, states)

	dumps := 0
	for k, s := range slots {
		if events[k].Dump != nil {
			dumps++
		}
		results[s.result].Events[s.event] = events[k]
	}
	return dumps
}

func missing(sigs []string, raws []*db.RawTransaction) []string {
	have := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		have[raw.Signature] = struct{}{}
	}
	var out []string
	for _, sig := range sigs {
		if _, ok := have[sig]; !ok {
			out = append(out, sig)
		}
	}
	return out
}

// Chunk splits sigs into consecutive slices of at most size elements.
func Chunk(sigs []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for len(sigs) > 0 {
		n := min(size, len(sigs))
		chunks = append(chunks, sigs[:n:n])
		sigs = sigs[n:]
	}
	return chunks
}

// ErrNoSignatures is returned by helpers that require a non-empty selection.
var ErrNoSignatures = errors.New("no signatures selected")
