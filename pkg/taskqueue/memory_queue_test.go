// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryQueue_EnqueueDefaults(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue(0)
		task := &Task{Type: TaskTypeEvent, Payload: []byte(`{}`)}
		require.NoError(t, q.Enqueue(context.Background(), task))

		assert.NotEmpty(t, task.ID)
		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
		assert.True(t, time.Now().Equal(task.ScheduledAt))
		assert.True(t, time.Now().Equal(task.CreatedAt))
	})
}

func TestMemoryQueue_Bounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(2)
	require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}))
	require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}))
	assert.ErrorIs(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}), ErrQueueFull)

	task, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, task.ID))
	assert.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}), "completion frees a slot")

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}), ErrQueueClosed)
	_, err = q.Dequeue(ctx, "w")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_DequeueOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue(0)

		first := &Task{Type: TaskTypeEvent, Key: "first"}
		require.NoError(t, q.Enqueue(ctx, first))
		time.Sleep(time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent, Key: "second"}))
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent, Key: "urgent", Priority: PriorityHigh}))
		require.NoError(t, q.Enqueue(ctx, &Task{Type: "other", Key: "other", Priority: PriorityHigh}))
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent, Key: "later", ScheduledAt: time.Now().Add(time.Hour)}))

		var keys []string
		for {
			task, err := q.Dequeue(ctx, "w", TaskTypeEvent)
			require.NoError(t, err)
			if task == nil {
				break
			}
			assert.Equal(t, StatusRunning, task.Status)
			assert.Equal(t, "w", task.WorkerID)
			keys = append(keys, task.Key)
		}
		assert.Equal(t, []string{"urgent", "first", "second"}, keys)

		time.Sleep(time.Hour)
		task, err := q.Dequeue(ctx, "w", TaskTypeEvent)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "later", task.Key)
	})
}

func TestMemoryQueue_RetryBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue(0)
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent, MaxRetries: 3}))

		task, _ := q.Dequeue(ctx, "w")
		require.NoError(t, q.Fail(ctx, task.ID, assert.AnError))

		again, _ := q.Dequeue(ctx, "w")
		assert.Nil(t, again, "first retry waits 2s")
		time.Sleep(2 * time.Second)
		again, _ = q.Dequeue(ctx, "w")
		require.NotNil(t, again)
		assert.Equal(t, 1, again.Attempts)
		assert.Equal(t, assert.AnError.Error(), again.LastError)

		require.NoError(t, q.Fail(ctx, again.ID, assert.AnError))
		time.Sleep(3 * time.Second)
		again, _ = q.Dequeue(ctx, "w")
		assert.Nil(t, again, "second retry waits 4s")
		time.Sleep(time.Second)
		again, _ = q.Dequeue(ctx, "w")
		require.NotNil(t, again)

		require.NoError(t, q.Fail(ctx, again.ID, assert.AnError))
		got, err := q.Get(ctx, again.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDeadLetter, got.Status)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.DeadLetter)
		assert.Equal(t, int64(0), stats.Pending)
	})
}

func TestMemoryQueue_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(0)
	assert.ErrorIs(t, q.Complete(ctx, "missing"), ErrTaskNotFound)
	assert.ErrorIs(t, q.Fail(ctx, "missing", assert.AnError), ErrTaskNotFound)
	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryQueue_Cleanup(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue(0)
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}))
		task, _ := q.Dequeue(ctx, "w")
		require.NoError(t, q.Complete(ctx, task.ID))

		n, err := q.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)

		time.Sleep(2 * time.Hour)
		n, err = q.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stats, _ := q.Stats(ctx)
		assert.Zero(t, stats.Completed)
	})
}

func TestMemoryQueue_ConcurrentDequeueClaimsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(0)
	for range 100 {
		require.NoError(t, q.Enqueue(ctx, &Task{Type: TaskTypeEvent}))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Go(func() {
			for {
				task, err := q.Dequeue(ctx, "w", TaskTypeEvent)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
				_ = q.Complete(ctx, task.ID)
			}
		})
	}
	wg.Wait()

	assert.Len(t, claimed, 100)
	for id, n := range claimed {
		assert.Equal(t, 1, n, id)
	}
}
