package sweeper

import "github.com/prometheus/client_golang/prometheus"

var (
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_sweeper_transitions_total",
		Help: "Records moved by the sweeper, by category.",
	}, []string{"category"})
	skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_sweeper_failures_total",
		Help: "Records the sweeper failed to move and skipped, by category.",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(transitions, skipped)
}
