package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
	// OutboxDeferred counts rows held back behind an earlier failure for the
	// same order.
	OutboxDeferred = "deferred"
)

// OutboxMetrics counts relay outcomes per topic.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the publisher, by topic and outcome.",
	}, []string{"topic", "outcome"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events}
}

// Inc records one outbox row outcome.
func (m *OutboxMetrics) Inc(topic, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}
