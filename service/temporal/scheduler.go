package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules that start ReprocessWorkflow periodically, e.g. a
// nightly pass over everything decoded by an older parser version.
type Scheduler interface {
	// UpsertReprocessSchedule creates the named schedule or replaces its interval and input.
	UpsertReprocessSchedule(ctx context.Context, name string, input ReprocessInput, interval time.Duration) error

	// DeleteReprocessSchedule deletes the named schedule.
	DeleteReprocessSchedule(ctx context.Context, name string) error
}

// scheduleID returns the Temporal schedule ID for a named reprocess schedule.
func scheduleID(name string) string {
	return "reprocess-" + name
}
