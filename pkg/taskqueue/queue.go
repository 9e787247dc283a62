// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueClosed  = errors.New("task queue is closed")
)

// Queue stores tasks until a worker processes them.
type Queue interface {
	// Enqueue adds a task. ID, status and timestamps are filled in when
	// unset.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the highest-priority runnable task of the given types
	// for workerID. It returns nil when nothing is runnable.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	// Complete marks a claimed task done.
	Complete(ctx context.Context, taskID string) error

	// Fail records a failed attempt. The task is retried after a backoff
	// while attempts remain, then dead-lettered.
	Fail(ctx context.Context, taskID string, err error) error

	Get(ctx context.Context, taskID string) (*Task, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup drops completed tasks finished before olderThan ago.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes tasks of one type.
type Handler interface {
	Type() TaskType
	Handle(ctx context.Context, task *Task) error
}
