package enrollment

import "github.com/prometheus/client_golang/prometheus"

var (
	attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_enrollment_results_total",
		Help: "Enrollment attempts by outcome and reason.",
	}, []string{"status", "reason"})
	conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_enrollment_write_conflicts_total",
		Help: "Enrollment transactions aborted by a concurrent writer.",
	})
)

func init() {
	prometheus.MustRegister(attempts, conflicts)
}
