package taskqueue

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "tasks_processed_total",
		Help:      "Tasks processed by type and outcome",
	}, []string{"type", "status"}) // completed, failed, no_handler

	TaskProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "task_processing_duration_seconds",
		Help:      "Time spent in task handlers",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"type"})

	TasksEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "tasks_enqueued_total",
		Help:      "Tasks enqueued by type",
	}, []string{"type"})

	TaskRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "task_retries_total",
		Help:      "Failed attempts scheduled for retry",
	}, []string{"type"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "queue_depth",
		Help:      "Unfinished tasks in the queue",
	}, []string{"status"})

	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "workers_active",
		Help:      "Running worker goroutines",
	})

	DequeueErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "taskqueue",
		Name:      "dequeue_errors_total",
		Help:      "Dequeue failures",
	})
)

func init() {
	debug.Registry().MustRegister(
		TasksProcessedTotal,
		TaskProcessingDuration,
		TasksEnqueuedTotal,
		TaskRetries,
		QueueDepth,
		WorkerActive,
		DequeueErrors,
	)
}
