package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	leadsTotal       *prometheus.CounterVec
	leadDuration     *prometheus.HistogramVec
	activeLeads      prometheus.Gauge
	deliveryAttempts prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badgeflow_worker_leads_total",
			Help: "Lead tasks handled by final status.",
		}, []string{"status"}),
		leadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "badgeflow_worker_lead_duration_seconds",
			Help:    "Time spent storing and delivering one lead.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeLeads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "badgeflow_worker_active_leads",
			Help: "Lead tasks currently being handled.",
		}),
		deliveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "badgeflow_worker_lead_delivery_attempts_total",
			Help: "HTTP attempts made while delivering leads.",
		}),
	}

	registry.MustRegister(
		m.leadsTotal,
		m.leadDuration,
		m.activeLeads,
		m.deliveryAttempts,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
