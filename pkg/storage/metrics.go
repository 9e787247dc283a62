package storage

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryCreations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "service_creations_total",
			Help:      "Storage service creations by result",
		},
		[]string{"result"},
	)

	registryRestores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "service_restores_total",
			Help:      "Storage services rebuilt from a persisted binding",
		},
	)

	servicesCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "services_cached",
			Help:      "Storage services held in the in-process registry",
		},
	)

	creationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "service_creation_duration_seconds",
			Help:      "Time to select a provider and resolve a proof set",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	uploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "upload_duration_seconds",
			Help:      "Synchronous primary upload latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	confirmationStage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "storage",
			Name:      "confirmation_stage_total",
			Help:      "Most advanced confirmation stage reached per upload",
		},
		[]string{"stage"},
	)
)

func init() {
	debug.Registry().MustRegister(
		registryCreations,
		registryRestores,
		servicesCached,
		creationDuration,
		uploadDuration,
		confirmationStage,
	)
}
