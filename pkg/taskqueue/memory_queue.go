// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process Queue. Tasks do not survive a restart.
type MemoryQueue struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	order      map[string]uint64 // enqueue ordinal, breaks ScheduledAt ties
	next       uint64
	maxPending int
	pending    int
	closed     bool
}

// NewMemoryQueue creates a queue holding at most maxPending unfinished
// tasks (0 = DefaultMaxPending).
func NewMemoryQueue(maxPending int) *MemoryQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &MemoryQueue{
		tasks:      make(map[string]*Task),
		order:      make(map[string]uint64),
		maxPending: maxPending,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.pending >= q.maxPending {
		return ErrQueueFull
	}

	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	stored := *task
	q.tasks[task.ID] = &stored
	q.next++
	q.order[task.ID] = q.next
	q.pending++
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	QueueDepth.WithLabelValues(string(StatusPending)).Set(float64(q.pending))
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var best *Task
	for _, task := range q.tasks {
		if !task.runnable(now) {
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && q.earlier(task, best)) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.WorkerID = workerID
	best.StartedAt = &now
	best.UpdatedAt = now

	out := *best
	return &out, nil
}

func (q *MemoryQueue) earlier(a, b *Task) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return q.order[a.ID] < q.order[b.ID]
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	q.release()
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Attempts++
	task.LastError = err.Error()
	task.UpdatedAt = now
	task.WorkerID = ""

	if task.Attempts >= task.MaxRetries {
		task.Status = StatusDeadLetter
		task.CompletedAt = &now
		q.release()
		return nil
	}
	// 2s, 4s, 8s ...
	task.RetryAfter = now.Add(time.Duration(1<<task.Attempts) * time.Second)
	task.Status = StatusPending
	TaskRetries.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// release must be called with mu held when a task leaves the pending set.
func (q *MemoryQueue) release() {
	q.pending--
	QueueDepth.WithLabelValues(string(StatusPending)).Set(float64(q.pending))
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := *task
	return &out, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				at := task.ScheduledAt
				stats.OldestPending = &at
			}
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
		stats.ByType[task.Type]++
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		if task.Status != StatusCompleted && task.Status != StatusDeadLetter {
			continue
		}
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			delete(q.order, id)
			count++
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
