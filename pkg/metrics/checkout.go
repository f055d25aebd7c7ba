package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout outcomes.
const (
	OutcomeSuccess               = "success"
	OutcomeCartEmpty             = "cart_empty"
	OutcomeValidationFailed      = "validation_failed"
	OutcomeInsufficientInventory = "insufficient_inventory"
	OutcomePersistenceFailed     = "persistence_failed"
	OutcomePaymentGatewayFailed  = "payment_gateway_failed"
	OutcomeCancelled             = "cancelled"
	OutcomeError                 = "error"
)

// Compensation stages.
const (
	StageReserveUnwind = "reserve_unwind"
	StageRelease       = "release"
	StageCancelRestore = "cancel_restore"
)

// CheckoutMetrics tracks checkout attempts and inventory compensation.
type CheckoutMetrics struct {
	attempts             *prometheus.CounterVec
	duration             prometheus.Histogram
	compensations        *prometheus.CounterVec
	compensationFailures *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	m := &CheckoutMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Wall time of synchronous checkout.",
			Buckets:   prometheus.DefBuckets,
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_compensations_total",
			Help:      "Inventory units returned to the ledger by compensation stage.",
		}, []string{"stage"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_compensation_failures_total",
			Help:      "Compensation increments that failed and need out-of-band reconciliation.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.attempts, m.duration, m.compensations, m.compensationFailures)
	return m
}

// ObserveCheckout records one checkout attempt.
func (m *CheckoutMetrics) ObserveCheckout(outcome string, elapsed time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// AddCompensated counts units restored to inventory.
func (m *CheckoutMetrics) AddCompensated(stage string, units int) {
	if m == nil || m.compensations == nil || units <= 0 {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(stage)).Add(float64(units))
}

// IncCompensationFailure counts a failed compensating increment.
func (m *CheckoutMetrics) IncCompensationFailure(stage string) {
	if m == nil || m.compensationFailures == nil {
		return
	}
	m.compensationFailures.WithLabelValues(normalizeLabel(stage)).Inc()
}
