package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	presenceReports   *prometheus.CounterVec
	suspiciousFlags   *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	webhookLatency    prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		presenceReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnnp",
			Name:      "presence_reports_total",
			Help:      "Presence reports processed, by auth result.",
		}, []string{"auth_result"}),
		suspiciousFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnnp",
			Name:      "presence_suspicious_flags_total",
			Help:      "Suspicious flags raised on presence reports.",
		}, []string{"flag"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnnp",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hnnp",
			Name:      "webhook_delivery_seconds",
			Help:      "Latency of webhook delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.Registry.MustRegister(
		m.presenceReports,
		m.suspiciousFlags,
		m.webhookDeliveries,
		m.webhookLatency,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) observeReport(result string, flags []string) {
	if m == nil {
		return
	}
	m.presenceReports.WithLabelValues(result).Inc()
	for _, f := range flags {
		m.suspiciousFlags.WithLabelValues(f).Inc()
	}
}

func (m *Metrics) observeDelivery(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
	m.webhookLatency.Observe(seconds)
}
