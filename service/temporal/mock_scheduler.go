package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockSchedule struct {
	input    ReprocessInput
	interval time.Duration
}

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule // map[scheduleID]schedule
	upsertErr error
	deleteErr error
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// UpsertReprocessSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertReprocessSchedule(ctx context.Context, name string, input ReprocessInput, interval time.Duration) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if err := input.Selector.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(name)] = mockSchedule{input: input, interval: interval}
	return nil
}

// DeleteReprocessSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteReprocessSchedule(ctx context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(name)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertReprocessSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError makes DeleteReprocessSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if the named schedule exists.
func (m *MockScheduler) ScheduleExists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[scheduleID(name)]
	return exists
}

// GetSchedule returns the input and interval of the named schedule.
func (m *MockScheduler) GetSchedule(name string) (ReprocessInput, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.schedules[scheduleID(name)]
	return s.input, s.interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]mockSchedule)
	m.upsertErr = nil
	m.deleteErr = nil
}
