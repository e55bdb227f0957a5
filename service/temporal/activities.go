package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/brojonat/txdecode/service/batch"
	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/metrics"
	natspkg "github.com/brojonat/txdecode/service/nats"
)

// SelectSignaturesInput contains parameters for the SelectSignatures activity.
type SelectSignaturesInput struct {
	Selector db.Selector `json:"selector"`
}

// SelectSignaturesResult contains the selected signatures in processing order.
type SelectSignaturesResult struct {
	Signatures []string `json:"signatures"`
}

// ProcessChunkInput contains parameters for the ProcessChunk activity.
type ProcessChunkInput struct {
	Signatures []string          `json:"signatures"`
	States     batch.PriceStates `json:"states,omitempty"`
	DryRun     bool              `json:"dry_run"`
}

// ProcessChunkResult contains the outcome of one chunk. Decode results and dead-letter
// payloads stay in the activity; only counts, failed signatures and the advanced dump
// detector state travel back to the workflow.
type ProcessChunkResult struct {
	batch.ChunkResult
	FailedSignatures []string `json:"failed_signatures,omitempty"`
}

// StoreInterface is the persistence the activities need.
type StoreInterface = batch.Store

// DecoderInterface decodes raw payloads.
type DecoderInterface = batch.Decoder

// Activities holds the dependencies of the reprocess activities.
type Activities struct {
	store     StoreInterface
	decoder   DecoderInterface
	publisher natspkg.Publisher
	options   batch.Options
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(
	store StoreInterface,
	dec DecoderInterface,
	publisher natspkg.Publisher,
	options batch.Options,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		decoder:   dec,
		publisher: publisher,
		options:   options,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) runner(dryRun bool) *batch.Runner {
	opts := a.options
	opts.DryRun = dryRun
	opts.KeepResults = false
	return batch.NewRunner(a.store, a.decoder, a.publisher, opts, a.metrics, a.logger)
}

// SelectSignatures resolves a selector into the signatures to reprocess.
func (a *Activities) SelectSignatures(ctx context.Context, input SelectSignaturesInput) (*SelectSignaturesResult, error) {
	a.logger.InfoContext(ctx, "selecting signatures",
		"all", input.Selector.All,
		"parser_version_below", input.Selector.ParserVersionBelow,
		"dead_letters", input.Selector.DeadLetters,
		"signatures", len(input.Selector.Signatures),
		"limit", input.Selector.Limit,
	)

	sigs, err := a.runner(true).Select(ctx, input.Selector)
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "selected signatures", "count", len(sigs))
	return &SelectSignaturesResult{Signatures: sigs}, nil
}

// ProcessChunk decodes and stores one chunk. Per-transaction failures are dead-lettered and
// reported, not returned as errors, so Temporal only retries infrastructure failures.
func (a *Activities) ProcessChunk(ctx context.Context, input ProcessChunkInput) (*ProcessChunkResult, error) {
	start := time.Now()
	activity.RecordHeartbeat(ctx, len(input.Signatures))

	res, err := a.runner(input.DryRun).ProcessChunk(ctx, input.Signatures, input.States)
	if err != nil {
		a.logger.ErrorContext(ctx, "chunk failed",
			"signatures", len(input.Signatures),
			"error", err,
		)
		return nil, fmt.Errorf("failed to process chunk: %w", err)
	}

	out := &ProcessChunkResult{ChunkResult: *res}
	for _, dl := range res.Failures {
		out.FailedSignatures = append(out.FailedSignatures, dl.Signature)
	}
	out.Failures = nil
	out.Results = nil

	a.logger.InfoContext(ctx, "chunk processed",
		"signatures", len(input.Signatures),
		"processed", out.Processed,
		"events", out.Events,
		"dead_lettered", out.DeadLettered,
		"dumps", out.Dumps,
		"duration", time.Since(start),
	)
	return out, nil
}
