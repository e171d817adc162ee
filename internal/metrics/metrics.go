package metrics

import "github.com/prometheus/client_golang/prometheus"

var paymentTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment state transitions by rail, new status and source",
	},
	[]string{"rail", "status", "source"},
)

func init() {
	prometheus.MustRegister(paymentTransitionsTotal)
}

// RecordPaymentTransition counts a state change for dashboards and alerting.
func RecordPaymentTransition(rail, status, source string) {
	paymentTransitionsTotal.WithLabelValues(rail, status, source).Inc()
}
