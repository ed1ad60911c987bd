package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the support engine.
type ConversationMetrics struct {
	messagesTotal    *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	retrievedDocs    prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasgrove",
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Total processed chat turns",
		}, []string{"intent", "outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlasgrove",
			Subsystem: "conversation",
			Name:      "escalations_total",
			Help:      "Total sessions handed off to a human operator",
		}, []string{"intent"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlasgrove",
			Subsystem: "conversation",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of language model gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retrievedDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlasgrove",
			Subsystem: "conversation",
			Name:      "retrieved_documents",
			Help:      "Documents retrieved per knowledge lookup",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.escalationsTotal, m.gatewayLatency, m.retrievedDocs)
	return m
}

func (m *ConversationMetrics) ObserveMessage(intent, outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *ConversationMetrics) ObserveEscalation(intent string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(intent).Inc()
}

func (m *ConversationMetrics) ObserveGatewayLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *ConversationMetrics) ObserveRetrievedDocuments(count int) {
	if m == nil {
		return
	}
	m.retrievedDocs.Observe(float64(count))
}
