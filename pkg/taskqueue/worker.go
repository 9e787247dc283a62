package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"
)

// Worker polls a Queue and runs tasks on registered handlers.
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler

	pollInterval time.Duration
	concurrency  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int
}

// NewWorker creates a Worker. Handlers must be registered before Start.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	return &Worker{
		id:           cfg.ID,
		queue:        cfg.Queue,
		handlers:     make(map[TaskType]Handler),
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
	}
}

// RegisterHandler routes tasks of h.Type() to h.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().Str("type", string(h.Type())).Msg("taskqueue: registered handler")
}

// HandlerTypes returns the task types this worker handles.
func (w *Worker) HandlerTypes() []TaskType {
	types := make([]TaskType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}

// Start launches the polling goroutines. They run until Stop or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Str("worker_id", w.id).Msg("taskqueue: worker started with no handlers")
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for i := range w.concurrency {
		id := fmt.Sprintf("%s-%d", w.id, i)
		w.wg.Go(func() { w.work(ctx, id, types) })
	}
	WorkerActive.Add(float64(w.concurrency))

	logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.concurrency).
		Int("handlers", len(types)).
		Msg("taskqueue: worker started")
}

// Stop cancels the polling goroutines and waits for in-flight tasks.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	WorkerActive.Sub(float64(w.concurrency))
	logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
}

func (w *Worker) work(ctx context.Context, workerID string, types []TaskType) {
	tick, stop := utils.JitteredTicker(w.pollInterval, 0.1)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			// Drain everything runnable before sleeping again.
			for ctx.Err() == nil && w.processOne(ctx, workerID, types) {
			}
		}
	}
}

// processOne runs one task and reports whether one was found.
func (w *Worker) processOne(ctx context.Context, workerID string, types []TaskType) bool {
	task, err := w.queue.Dequeue(ctx, workerID, types...)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrQueueClosed) {
			DequeueErrors.Inc()
			logger.Error().Err(err).Msg("taskqueue: dequeue failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	handler, ok := w.handlers[task.Type]
	if !ok {
		TasksProcessedTotal.WithLabelValues(string(task.Type), "no_handler").Inc()
		_ = w.queue.Fail(ctx, task.ID, errors.New("no handler registered"))
		return true
	}

	start := time.Now()
	err = handler.Handle(ctx, task)
	TaskProcessingDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		TasksProcessedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Int("attempt", task.Attempts+1).
			Msg("taskqueue: task failed")
		if ferr := w.queue.Fail(ctx, task.ID, err); ferr != nil {
			logger.Error().Err(ferr).Str("task_id", task.ID).Msg("taskqueue: record failure")
		}
		return true
	}

	TasksProcessedTotal.WithLabelValues(string(task.Type), "completed").Inc()
	if err := w.queue.Complete(ctx, task.ID); err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("taskqueue: record completion")
	}
	return true
}
