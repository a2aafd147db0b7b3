package seat

import "github.com/prometheus/client_golang/prometheus"

var (
	reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_seat_reservations_total",
		Help: "Seat reservations by outcome.",
	}, []string{"outcome"})
	promotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_seat_promotions_total",
		Help: "Waitlisted enrollments promoted to a seat.",
	})
	promotionsHeld = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "academy_seat_promotions_held_total",
		Help: "Waitlist heads kept waiting because their license denied the seat.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(reservations, promotions, promotionsHeld)
}
