package events

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Lifecycle events queued by type",
	}, []string{"event_type"})

	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the emitter is disabled",
	})

	EventsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "errors_total",
		Help:      "Event emission errors",
	}, []string{"error_type"}) // marshal, enqueue

	EventsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Events delivered by publisher",
	}, []string{"publisher"})

	EventsDeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Event delivery errors by publisher",
	}, []string{"publisher"})

	EventsDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rtastore",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering events to publishers",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(
		EventsEmittedTotal,
		EventsDroppedTotal,
		EventsErrorsTotal,
		EventsDeliveredTotal,
		EventsDeliveryErrorsTotal,
		EventsDeliveryDuration,
	)
}
