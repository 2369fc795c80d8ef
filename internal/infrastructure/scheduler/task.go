package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies what a sync task does
type TaskKind string

const (
	KindIncrementalSync       TaskKind = "incremental"
	KindDelayedBackfill       TaskKind = "delayed-backfill"
	KindBackfillRetry         TaskKind = "backfill-retry"
	KindNightlyReconciliation TaskKind = "nightly-reconciliation"
	KindWebhookReplay         TaskKind = "webhook-replay"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusSuccess TaskStatus = "SUCCESS"
	TaskStatusFailed  TaskStatus = "FAILED"
)

// Task is a scheduled unit of sync work. At most one outstanding task per
// dedup key exists at a time.
type Task struct {
	ID           uuid.UUID
	Kind         TaskKind
	TenantID     uuid.UUID
	ConnectionID uuid.UUID

	// LookbackHours overrides the pass's history window; zero means the
	// executor's default
	LookbackHours int

	// Payload carries kind-specific data, e.g. the webhook event ID for
	// replay tasks
	Payload string

	Status      TaskStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time

	RetryCount int
	MaxRetries int
	// NextRunAt delays execution; nil means run immediately
	NextRunAt *time.Time
}

// NewTask creates a pending task
func NewTask(kind TaskKind, tenantID, connectionID uuid.UUID, maxRetries int) *Task {
	return &Task{
		ID:           uuid.New(),
		Kind:         kind,
		TenantID:     tenantID,
		ConnectionID: connectionID,
		Status:       TaskStatusPending,
		MaxRetries:   maxRetries,
	}
}

// WithDelay schedules the task to run no earlier than now+delay
func (t *Task) WithDelay(delay time.Duration) *Task {
	runAt := time.Now().Add(delay)
	t.NextRunAt = &runAt
	return t
}

// WithLookback sets the history window in hours
func (t *Task) WithLookback(hours int) *Task {
	t.LookbackHours = hours
	return t
}

// DedupKey is stable per (tenant, kind); overlapping triggers for the same
// tenant and kind collapse to one outstanding task. Replay tasks key on the
// event ID as well, so a sweep can queue one task per failed delivery.
func (t *Task) DedupKey() string {
	if t.Kind == KindWebhookReplay {
		return fmt.Sprintf("%s:%s:%s", t.Kind, t.TenantID, t.Payload)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.TenantID)
}

// Start marks the task as running
func (t *Task) Start() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.Error = ""
}

// Complete marks the task as successful
func (t *Task) Complete() {
	now := time.Now()
	t.Status = TaskStatusSuccess
	t.CompletedAt = &now
}

// Fail marks the task as failed
func (t *Task) Fail(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.Error = err
}

// ShouldRetry returns true if the task has retry budget left
func (t *Task) ShouldRetry() bool {
	return t.Status == TaskStatusFailed && t.RetryCount < t.MaxRetries
}

// ScheduleRetry re-arms the task after an exponentially backed-off delay
func (t *Task) ScheduleRetry(delay time.Duration) {
	t.RetryCount++
	t.Status = TaskStatusPending
	nextRun := time.Now().Add(delay)
	t.NextRunAt = &nextRun
	t.Error = ""
}
