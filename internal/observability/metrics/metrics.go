package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for inbound webhook flows.
type WebhookMetrics struct {
	inboundTotal    *prometheus.CounterVec
	billingTotal    *prometheus.CounterVec
	callEventsTotal *prometheus.CounterVec
	transcribeTotal *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callhelm",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound carrier webhooks",
		}, []string{"provider", "event_type", "status"}),
		billingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callhelm",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total payment processor webhook events",
		}, []string{"event_type", "outcome"}),
		callEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callhelm",
			Subsystem: "calls",
			Name:      "lifecycle_events_total",
			Help:      "Total voice call lifecycle webhooks",
		}, []string{"event_type", "disposition"}),
		transcribeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callhelm",
			Subsystem: "transcription",
			Name:      "jobs_total",
			Help:      "Total transcription jobs by terminal status",
		}, []string{"provider", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callhelm",
			Subsystem: "http",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.billingTotal, m.callEventsTotal, m.transcribeTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(provider, eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *WebhookMetrics) ObserveBilling(eventType, outcome string) {
	if m == nil {
		return
	}
	m.billingTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *WebhookMetrics) ObserveCallEvent(eventType, disposition string) {
	if m == nil {
		return
	}
	m.callEventsTotal.WithLabelValues(eventType, disposition).Inc()
}

func (m *WebhookMetrics) ObserveTranscription(provider, status string) {
	if m == nil {
		return
	}
	m.transcribeTotal.WithLabelValues(provider, status).Inc()
}

func (m *WebhookMetrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}
