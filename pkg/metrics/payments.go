package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics counts payment requests by outcome.
type PaymentMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_requests_total",
		Help: "Payment requests by outcome code.",
	}, []string{"outcome"})
	reg.MustRegister(outcomes)
	return &PaymentMetrics{outcomes: outcomes}
}

func (m *PaymentMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
