package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records gateway event processing outcomes.
type WebhookMetrics struct {
	events      *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "side_effect_deliveries_total",
		Help: "Confirmation side-effect delivery attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(events, sideEffects)
	return &WebhookMetrics{
		events:      events,
		sideEffects: sideEffects,
	}
}

// Event outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeIgnored   = "ignored"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
)

// IncEvent counts one processed webhook event.
func (m *WebhookMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// IncSideEffect counts one confirmation delivery attempt.
func (m *WebhookMetrics) IncSideEffect(outcome string) {
	if m == nil || m.sideEffects == nil {
		return
	}
	m.sideEffects.WithLabelValues(outcome).Inc()
}
