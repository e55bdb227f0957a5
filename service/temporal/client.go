package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client starts reprocess workflows and manages their schedules.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartReprocess starts a ReprocessWorkflow and returns its workflow ID. An empty id gets a
// generated one. A second start with the ID of a running workflow is rejected.
func (c *Client) StartReprocess(ctx context.Context, id string, input ReprocessInput) (string, error) {
	if err := input.Selector.Validate(); err != nil {
		return "", err
	}
	if id == "" {
		id = "reprocess-" + uuid.NewString()
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}, ReprocessWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start reprocess workflow", "workflow_id", id, "error", err)
		return "", fmt.Errorf("failed to start reprocess workflow %q: %w", id, err)
	}

	c.logger.Info("reprocess workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"dry_run", input.DryRun,
	)
	return run.GetID(), nil
}

// WaitReprocess blocks until the workflow, including every run it continued into, finishes.
func (c *Client) WaitReprocess(ctx context.Context, id string) (*ReprocessResult, error) {
	var res ReprocessResult
	if err := c.client.GetWorkflow(ctx, id, "").Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("reprocess workflow %q failed: %w", id, err)
	}
	return &res, nil
}

// UpsertReprocessSchedule creates the named schedule or, if it exists, replaces its
// interval and workflow input.
func (c *Client) UpsertReprocessSchedule(ctx context.Context, name string, input ReprocessInput, interval time.Duration) error {
	if err := input.Selector.Validate(); err != nil {
		return err
	}
	id := scheduleID(name)

	c.logger.Debug("upserting reprocess schedule",
		"schedule_id", id,
		"interval", interval,
	)

	action := &client.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  ReprocessWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one", "schedule_id", id, "error", err)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action:  action,
			Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
			Memo: map[string]interface{}{
				"name":       name,
				"created_by": "txdecode",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule", "schedule_id", id, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.Info("reprocess schedule created", "schedule_id", id, "interval", interval)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{{Every: interval}}
			in.Description.Schedule.Action = action
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("reprocess schedule updated", "schedule_id", id, "interval", interval)
	return nil
}

// DeleteReprocessSchedule deletes the named schedule.
func (c *Client) DeleteReprocessSchedule(ctx context.Context, name string) error {
	id := scheduleID(name)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("reprocess schedule deleted", "schedule_id", id)
	return nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
