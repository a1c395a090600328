package executor

import "github.com/prometheus/client_golang/prometheus"

var (
	fragmentsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "executor",
			Name:      "fragments_total",
			Help:      "Counter of executed fragment tasks.",
		}, []string{"where"})

	partitionHalts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "executor",
			Name:      "partition_halts_total",
			Help:      "Counter of partitions halted after a fatal error.",
		})
)

func init() {
	prometheus.MustRegister(fragmentsExecuted)
	prometheus.MustRegister(partitionHalts)
}
