package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records webhook and state machine activity.
type SettlementMetrics struct {
	webhookEvents   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events by type and outcome.",
	}, []string{"event", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions applied.",
	}, []string{"to_status"})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_anomalies_total",
		Help: "Settlement events that arrived against incompatible local state.",
	}, []string{"kind"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of outbound payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})
	reg.MustRegister(webhookEvents, transitions, anomalies, gatewayDuration)
	return &SettlementMetrics{
		webhookEvents:   webhookEvents,
		transitions:     transitions,
		anomalies:       anomalies,
		gatewayDuration: gatewayDuration,
	}
}

// ObserveWebhookEvent counts a webhook delivery with its outcome
// (applied, duplicate, ignored, failed).
func (m *SettlementMetrics) ObserveWebhookEvent(event, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// ObserveTransition counts an applied order status transition.
func (m *SettlementMetrics) ObserveTransition(toStatus string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(toStatus)).Inc()
}

// ObserveAnomaly counts an event that could not be reconciled with local state.
func (m *SettlementMetrics) ObserveAnomaly(kind string) {
	if m == nil || m.anomalies == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveGatewayCall records the duration of an outbound gateway call.
func (m *SettlementMetrics) ObserveGatewayCall(call string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(call)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, " ", "_")
}
