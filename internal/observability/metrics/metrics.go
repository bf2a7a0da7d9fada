package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "triage"

// MessagingMetrics exposes counters/histograms for SMS delivery flows.
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
			Name:      "inbound_total",
			Help:      "Total inbound messages by channel and outcome",
		}, []string{"channel", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound Twilio sends by provider status",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "handler_latency_seconds",
			Help:      "Latency of inbound message handling including the reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(channel, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveLatency(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(d.Seconds())
}

// ConversationMetrics tracks how messages move through the triage engine.
type ConversationMetrics struct {
	messagesTotal  *prometheus.CounterVec
	bookingTotal   *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Messages handled by decision branch and escalation type",
		}, []string{"branch", "escalation"}),
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "booking_events_total",
			Help:      "Appointment form lifecycle events",
		}, []string{"event"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM completions by outcome",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.bookingTotal, m.llmLatency, m.activeSessions)
	return m
}

func (m *ConversationMetrics) ObserveMessage(branch, escalation string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(branch, escalation).Inc()
}

// ObserveBooking records a form event: started, answered, completed or cancelled.
func (m *ConversationMetrics) ObserveBooking(event string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(event).Inc()
}

func (m *ConversationMetrics) ObserveLLM(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *ConversationMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
