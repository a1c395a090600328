package procedure

import "github.com/prometheus/client_golang/prometheus"

var (
	invocationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "procedure",
			Name:      "invocations_total",
			Help:      "Counter of procedure invocation attempts by status.",
		}, []string{"procedure", "status"})

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ptxn",
			Subsystem: "procedure",
			Name:      "invocation_duration_seconds",
			Help:      "Bucketed histogram of procedure attempt duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
		}, []string{"procedure"})

	batchesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "procedure",
			Name:      "batches_total",
			Help:      "Counter of executed statement batches.",
		}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(invocationCounter)
	prometheus.MustRegister(invocationDuration)
	prometheus.MustRegister(batchesExecuted)
}
