package pipeline

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunkUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "chunk_uploads_total",
			Help:      "Chunk uploads by provenance and result",
		},
		[]string{"provenance", "result"},
	)

	chunkUploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "chunk_upload_duration_seconds",
			Help:      "End-to-end chunk upload time including persistence",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provenance"},
	)

	chunkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "chunk_bytes_total",
			Help:      "Chunk bytes stored by provenance",
		},
		[]string{"provenance"},
	)

	fallbackActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "fallback_activations_total",
			Help:      "Chunks sent to the fallback pinner by primary error code",
		},
		[]string{"reason"},
	)

	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "completions_total",
			Help:      "Recording completion attempts by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	metadataUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "metadata_uploads_total",
			Help:      "Compiled metadata document uploads by provenance",
		},
		[]string{"provenance"},
	)

	pendingDeadlines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rtastore",
			Subsystem: "pipeline",
			Name:      "pending_deadlines",
			Help:      "Recordings waiting for deadline auto-completion",
		},
	)
)

func init() {
	debug.Registry().MustRegister(
		chunkUploads,
		chunkUploadDuration,
		chunkBytes,
		fallbackActivations,
		completions,
		metadataUploads,
		pendingDeadlines,
	)
}
