package payment

import (
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "payment",
			Name:      "transactions_total",
			Help:      "Ledger transactions submitted by the payment session",
		},
		[]string{"kind", "result"},
	)

	sessionInits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "payment",
			Name:      "session_initializations_total",
			Help:      "Payment session initialization attempts",
		},
		[]string{"result"},
	)

	preflightRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "payment",
			Name:      "preflight_rejections_total",
			Help:      "Uploads rejected by the allowance pre-flight check",
		},
	)
)

func init() {
	debug.Registry().MustRegister(transactions, sessionInits, preflightRejections)
}
