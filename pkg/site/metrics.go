package site

import "github.com/prometheus/client_golang/prometheus"

var (
	restartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "site",
			Name:      "restarts_total",
			Help:      "Counter of mispredicted attempts redispatched as multi-partition.",
		}, []string{"procedure"})

	escalationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ptxn",
			Subsystem: "site",
			Name:      "restart_escalations_total",
			Help:      "Counter of invocations failed after too many restarts.",
		})

	inflightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ptxn",
			Subsystem: "site",
			Name:      "inflight_invocations",
			Help:      "Number of invocations not answered yet.",
		})
)

func init() {
	prometheus.MustRegister(restartCounter)
	prometheus.MustRegister(escalationCounter)
	prometheus.MustRegister(inflightGauge)
}
