package payment

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// paymentOpsTotal counts payment operations by type.
	paymentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "payment_operations_total",
			Help:      "Total payment operations by type.",
		},
		[]string{"type"},
	)

	// paymentOpDuration observes operation latency by type.
	paymentOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "itemite",
			Name:      "payment_operation_duration_seconds",
			Help:      "Payment operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// settlementsTotal counts settlement outcomes.
	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "payment_settlements_total",
			Help:      "Settlement outcomes by result.",
		},
		[]string{"result"},
	)

	// disputesTotal counts dispute lifecycle events.
	disputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "payment_disputes_total",
			Help:      "Dispute lifecycle events.",
		},
		[]string{"event"},
	)

	// sweepsTotal counts scheduler sweeps.
	sweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "payment_sweeps_total",
			Help:      "Total trigger scheduler sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		paymentOpsTotal,
		paymentOpDuration,
		settlementsTotal,
		disputesTotal,
		sweepsTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	paymentOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		paymentOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
