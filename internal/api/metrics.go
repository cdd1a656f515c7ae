package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/flow"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	leadsSubmitted    *prometheus.CounterVec
	exportsTotal      *prometheus.CounterVec
	uploadBytes       prometheus.Histogram
	activeSessions    prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badgeflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "badgeflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badgeflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		leadsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badgeflow_api_leads_submitted_total",
			Help: "Leads handed to the lead submitter by outcome.",
		}, []string{"outcome"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "badgeflow_api_exports_total",
			Help: "Badge exports by resolution label and outcome.",
		}, []string{"resolution", "outcome"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "badgeflow_api_upload_bytes",
			Help:    "Size of uploaded photos.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "badgeflow_api_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.leadsSubmitted,
		m.exportsTotal,
		m.uploadBytes,
		m.activeSessions,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses session ids and filter names so label cardinality
// stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "sessions" {
		parts[2] = "{id}"
		if len(parts) == 5 && parts[3] == "filters" {
			parts[4] = "{field}"
		}
		return "/" + strings.Join(parts, "/")
	}
	switch path {
	case "/healthz", "/metrics", "/v1/resolutions", "/v1/sessions":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// countingLeads records the outcome of each lead submission.
type countingLeads struct {
	next    flow.LeadSubmitter
	metrics *metrics
}

func (c countingLeads) SubmitLead(ctx context.Context, sessionID string, p domain.Profile) error {
	err := c.next.SubmitLead(ctx, sessionID, p)
	outcome := "enqueued"
	if err != nil {
		outcome = "failed"
	}
	c.metrics.leadsSubmitted.WithLabelValues(outcome).Inc()
	return err
}
