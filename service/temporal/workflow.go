package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/txdecode/service/batch"
	"github.com/brojonat/txdecode/service/db"
)

var a *Activities // for type-safe activity invocation

const (
	// DefaultChunksPerRun bounds the history of a single run before it continues as new.
	DefaultChunksPerRun = 200
	// maxReportedFailures caps the failed signatures carried in the workflow result.
	maxReportedFailures = 1000
)

// ReprocessInput starts a reprocess run. Pending, States, Summary and StartedAt are only
// set when a run continues as new.
type ReprocessInput struct {
	Selector     db.Selector `json:"selector"`
	ChunkSize    int         `json:"chunk_size,omitempty"`
	ChunksPerRun int         `json:"chunks_per_run,omitempty"`
	DryRun       bool        `json:"dry_run"`

	Resumed          bool              `json:"resumed,omitempty"`
	Pending          []string          `json:"pending,omitempty"`
	States           batch.PriceStates `json:"states,omitempty"`
	Summary          batch.Summary     `json:"summary"`
	FailedSignatures []string          `json:"failed_signatures,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
}

// ReprocessResult is returned by the last run of a reprocess workflow.
type ReprocessResult struct {
	batch.Summary
	FailedSignatures []string `json:"failed_signatures,omitempty"`
	Error            *string  `json:"error,omitempty"`
}

// ReprocessWorkflow selects signatures once, then decodes them chunk by chunk. The dump
// detector state travels from each chunk's result into the next chunk's input, so dumps
// are detected across chunk boundaries in selection order.
func ReprocessWorkflow(ctx workflow.Context, input ReprocessInput) (*ReprocessResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReprocessWorkflow started",
		"resumed", input.Resumed,
		"pending", len(input.Pending),
		"dry_run", input.DryRun,
	)

	if input.ChunkSize < 1 {
		input.ChunkSize = batch.DefaultOptions().ChunkSize
	}
	if input.ChunksPerRun < 1 {
		input.ChunksPerRun = DefaultChunksPerRun
	}
	if input.StartedAt.IsZero() {
		input.StartedAt = workflow.Now(ctx)
	}
	input.Summary.DryRun = input.DryRun

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		HeartbeatTimeout:    60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	result := func() *ReprocessResult {
		s := input.Summary
		s.Duration = workflow.Now(ctx).Sub(input.StartedAt)
		return &ReprocessResult{Summary: s, FailedSignatures: input.FailedSignatures}
	}
	fail := func(err error) (*ReprocessResult, error) {
		res := result()
		msg := err.Error()
		res.Error = &msg
		return res, err
	}

	// Step 1: select once; continued runs carry what is left.
	if !input.Resumed {
		if err := input.Selector.Validate(); err != nil {
			return fail(temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidSelector", err))
		}
		var selected *SelectSignaturesResult
		err := workflow.ExecuteActivity(ctx, a.SelectSignatures, SelectSignaturesInput{Selector: input.Selector}).Get(ctx, &selected)
		if err != nil {
			return fail(fmt.Errorf("failed to select signatures: %w", err))
		}
		input.Pending = selected.Signatures
		input.Summary.Selected = len(selected.Signatures)
		input.Resumed = true
		logger.Info("selected signatures", "count", len(input.Pending))
	}

	if input.States == nil {
		input.States = batch.PriceStates{}
	}

	// Step 2: process chunks until done or the per-run budget is spent.
	chunks := batch.Chunk(input.Pending, input.ChunkSize)
	for i, chunk := range chunks {
		if i == input.ChunksPerRun {
			input.Pending = input.Pending[i*input.ChunkSize:]
			logger.Info("continuing as new",
				"processed", input.Summary.Processed,
				"pending", len(input.Pending),
			)
			return nil, workflow.NewContinueAsNewError(ctx, ReprocessWorkflow, input)
		}

		var chunkResult *ProcessChunkResult
		err := workflow.ExecuteActivity(ctx, a.ProcessChunk, ProcessChunkInput{
			Signatures: chunk,
			States:     input.States,
			DryRun:     input.DryRun,
		}).Get(ctx, &chunkResult)
		if err != nil {
			logger.Error("chunk failed", "chunk", input.Summary.Chunks, "error", err)
			return fail(fmt.Errorf("failed to process chunk %d: %w", input.Summary.Chunks, err))
		}

		if chunkResult.States != nil {
			input.States = chunkResult.States
		}
		input.Summary.Add(&chunkResult.ChunkResult)
		for _, sig := range chunkResult.FailedSignatures {
			if len(input.FailedSignatures) >= maxReportedFailures {
				break
			}
			input.FailedSignatures = append(input.FailedSignatures, sig)
		}
	}

	res := result()
	logger.Info("ReprocessWorkflow completed",
		"selected", res.Selected,
		"processed", res.Processed,
		"events", res.Events,
		"dead_lettered", res.DeadLettered,
		"dumps", res.Dumps,
		"missing", res.Missing,
	)
	return res, nil
}
