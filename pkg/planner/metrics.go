package planner

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "planner",
			Name:      "cache_hits_total",
			Help:      "Batch planner cache hits.",
		})

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "planner",
			Name:      "cache_misses_total",
			Help:      "Batch planner cache misses.",
		})

	plansCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Batch plans by kind.",
		}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(plansCounter)
}
