package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowd_invocations_total",
			Help: "Total number of workflow invocations by outcome.",
		},
		[]string{"workflow", "outcome"},
	)

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowd_invocation_duration_seconds",
			Help:    "Workflow handler execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal)
	prometheus.MustRegister(invocationDuration)
}

// observeInvocation records the outcome and duration of one dispatch.
// Outcome is "completed" or the failure's error kind, keeping cardinality
// bounded by the error taxonomy.
func observeInvocation(workflow, outcome string, d time.Duration) {
	invocationsTotal.WithLabelValues(workflow, outcome).Inc()
	if d > 0 {
		invocationDuration.WithLabelValues(workflow).Observe(d.Seconds())
	}
}
