package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records credit and payment activity.
type LedgerMetrics struct {
	debits          *prometheus.CounterVec
	creditsDebited  *prometheus.CounterVec
	creditsGranted  *prometheus.CounterVec
	payments        *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	debits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_debits_total",
		Help: "Credit debit attempts by outcome.",
	}, []string{"result"})
	creditsDebited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_debited_total",
		Help: "Credits consumed by action.",
	}, []string{"action"})
	creditsGranted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Credits added to balances by payment method.",
	}, []string{"method"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Payment records by method and resulting status.",
	}, []string{"method", "status"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_verifications_total",
		Help: "Webhook signature checks by provider and result.",
	}, []string{"provider", "result"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of outbound payment provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(debits, creditsDebited, creditsGranted, payments, webhooks, gatewayDuration)
	return &LedgerMetrics{
		debits:          debits,
		creditsDebited:  creditsDebited,
		creditsGranted:  creditsGranted,
		payments:        payments,
		webhooks:        webhooks,
		gatewayDuration: gatewayDuration,
	}
}

// ObserveDebit records one debit attempt. Applied debits also add to the per-action total.
func (m *LedgerMetrics) ObserveDebit(action string, amount int, applied bool) {
	if m == nil || m.debits == nil {
		return
	}
	if !applied {
		m.debits.WithLabelValues("insufficient").Inc()
		return
	}
	m.debits.WithLabelValues("applied").Inc()
	m.creditsDebited.WithLabelValues(normalizeLabel(action)).Add(float64(amount))
}

// AddCreditsGranted records credits added through the given payment method.
func (m *LedgerMetrics) AddCreditsGranted(method string, amount int) {
	if m == nil || m.creditsGranted == nil {
		return
	}
	m.creditsGranted.WithLabelValues(normalizeLabel(method)).Add(float64(amount))
}

// IncPayment counts a payment landing in status.
func (m *LedgerMetrics) IncPayment(method, status string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}

// ObserveWebhook counts a signature verification outcome.
func (m *LedgerMetrics) ObserveWebhook(provider string, valid bool) {
	if m == nil || m.webhooks == nil {
		return
	}
	result := "rejected"
	if valid {
		result = "accepted"
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), result).Inc()
}

// ObserveGateway records the duration of an outbound provider call.
func (m *LedgerMetrics) ObserveGateway(provider string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
