package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics covers the publisher loop and the row state gauges.
type OutboxMetrics struct {
	claimed  *prometheus.CounterVec
	sent     *prometheus.CounterVec
	retried  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	byStatus *prometheus.GaugeVec
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_outbox_claimed_total",
			Help: "Outbox events leased by the publisher.",
		}, []string{"event_type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_outbox_sent_total",
			Help: "Outbox events acknowledged by the channel.",
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_outbox_retried_total",
			Help: "Failed attempts returned to pending.",
		}, []string{"event_type", "reason"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_outbox_failed_total",
			Help: "Outbox events moved to FAILED after exhausting attempts.",
		}, []string{"event_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_outbox_publish_seconds",
			Help:    "Time from send to channel acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payments_outbox_events",
			Help: "Outbox rows per status at the last report.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.claimed, m.sent, m.retried, m.failed, m.latency, m.byStatus)
	return m
}

func (m *OutboxMetrics) AddClaimed(eventType string, n int) {
	if m == nil || m.claimed == nil || n <= 0 {
		return
	}
	m.claimed.WithLabelValues(normalizeLabel(eventType)).Add(float64(n))
}

func (m *OutboxMetrics) IncSent(eventType string, latency time.Duration) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.WithLabelValues(normalizeLabel(eventType)).Inc()
	m.latency.WithLabelValues(normalizeLabel(eventType)).Observe(latency.Seconds())
}

// IncRetried counts a non-terminal failure. reason is "publish" or "payload".
func (m *OutboxMetrics) IncRetried(eventType, reason string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// SetStatusCounts publishes the current row count per status.
func (m *OutboxMetrics) SetStatusCounts(counts map[string]int64) {
	if m == nil || m.byStatus == nil {
		return
	}
	for status, total := range counts {
		m.byStatus.WithLabelValues(normalizeLabel(status)).Set(float64(total))
	}
}
