package pinning

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pinning",
			Name:      "pins_total",
			Help:      "Pin attempts by backend and result",
		},
		[]string{"backend", "result"},
	)

	pinDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "pinning",
			Name:      "pin_duration_seconds",
			Help:      "Pin request latency by backend",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"backend"},
	)

	pinBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "pinning",
			Name:      "pinned_bytes_total",
			Help:      "Bytes pinned by backend",
		},
		[]string{"backend"},
	)

	rateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "pinning",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the shared pin rate limiter",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)

func init() {
	debug.Registry().MustRegister(pinsTotal, pinDuration, pinBytes, rateLimitWait)
}
