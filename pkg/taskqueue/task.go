// Package taskqueue runs background work off the request path.
//
// The upload pipeline enqueues recording lifecycle events here; a Worker
// hands them to the registered Handler for delivery. Tasks that fail are
// retried with exponential backoff until MaxRetries, then dead-lettered.
package taskqueue

import (
	"encoding/json"
	"time"
)

const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 2
	DefaultMaxRetries   = 5
	DefaultMaxPending   = 10000
)

// TaskType routes a task to its handler.
type TaskType string

const (
	// TaskTypeEvent delivers a recording lifecycle event to publishers.
	TaskTypeEvent TaskType = "recording_event"
)

// TaskStatus is the lifecycle position of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusDeadLetter TaskStatus = "dead_letter"
)

// TaskPriority orders pending tasks; higher runs first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
)

// Task is a unit of background work.
type Task struct {
	ID       string          `json:"id"`
	Type     TaskType        `json:"type"`
	Status   TaskStatus      `json:"status"`
	Priority TaskPriority    `json:"priority"`
	Payload  json.RawMessage `json:"payload"`

	// Key groups related tasks, e.g. all events of one recording.
	Key string `json:"key,omitempty"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitzero"`
	LastError  string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// runnable reports whether t can be dequeued at now.
func (t *Task) runnable(now time.Time) bool {
	return t.Status == StatusPending &&
		!t.ScheduledAt.After(now) &&
		(t.RetryAfter.IsZero() || !t.RetryAfter.After(now))
}

// QueueStats counts tasks by status.
type QueueStats struct {
	Pending    int64              `json:"pending"`
	Running    int64              `json:"running"`
	Completed  int64              `json:"completed"`
	DeadLetter int64              `json:"dead_letter"`
	ByType     map[TaskType]int64 `json:"by_type"`

	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// MarshalPayload encodes a task payload.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload decodes a task payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
