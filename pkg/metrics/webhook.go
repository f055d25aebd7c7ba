package metrics

import "github.com/prometheus/client_golang/prometheus"

// Webhook outcomes.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookNoop      = "noop"
	WebhookIgnored   = "ignored"
	WebhookFailed    = "failed"
	WebhookRejected  = "rejected"
)

// WebhookMetrics counts gateway events by type and outcome.
type WebhookMetrics struct {
	events *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counter on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_webhook_events_total",
		Help:      "Payment gateway webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(events)
	return &WebhookMetrics{events: events}
}

// Inc records one webhook delivery.
func (m *WebhookMetrics) Inc(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
