package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "leadrelay"

// ConversationMetrics exposes counters/histograms for orchestrator events.
type ConversationMetrics struct {
	eventsTotal  *prometheus.CounterVec
	repliesTotal *prometheus.CounterVec
	eventLatency *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "events_total",
			Help:      "Lead events handled by the orchestrator",
		}, []string{"event", "outcome"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "replies_total",
			Help:      "Outbound messages attempted by the orchestrator",
		}, []string{"kind", "status"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "event_latency_seconds",
			Help:      "Time spent handling one lead event, lock wait included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.repliesTotal, m.eventLatency)
	return m
}

func (m *ConversationMetrics) ObserveEvent(event, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
	m.eventLatency.WithLabelValues(event).Observe(seconds)
}

func (m *ConversationMetrics) ObserveReply(kind, status string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(kind, status).Inc()
}

// MessagingMetrics exposes counters/histograms for webhook and provider traffic.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound gateway webhooks",
		}, []string{"route", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound SMS sends per provider",
		}, []string{"provider", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of gateway webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(route, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(route, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(provider, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(provider, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}
