// Package metrics holds the Prometheus collectors for caches, upstream calls, reports, alerts and HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheErrors      *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	ReportsGenerated *prometheus.CounterVec
	AlertsSent       *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	ScanEntries      prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
}

// New builds a Metrics bound to its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_cache_hits_total",
				Help: "Cache hits by cache type",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_cache_misses_total",
				Help: "Cache misses by cache type",
			},
			[]string{"cache"},
		),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_cache_errors_total",
				Help: "Cache store failures that were degraded around",
			},
			[]string{"cache"},
		),
		UpstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_upstream_failures_total",
				Help: "Failed upstream calls by source and operation",
			},
			[]string{"source", "op"},
		),
		ReportsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_reports_generated_total",
				Help: "Reports synthesized, by path (arbiter or fallback)",
			},
			[]string{"path"},
		),
		AlertsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_alerts_sent_total",
				Help: "Edge alerts delivered",
			},
			[]string{"stat", "direction"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_alerts_suppressed_total",
				Help: "Edge alerts skipped because of an active cooldown",
			},
			[]string{"stat", "direction"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proporacle_scan_duration_seconds",
				Help:    "Duration of roster-wide edge scans",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"stat", "result"},
		),
		ScanEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proporacle_scan_entries",
				Help: "Entries returned by the most recent edge scan",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proporacle_http_requests_total",
				Help: "HTTP requests by route template and status code",
			},
			[]string{"route", "method", "code"},
		),
	}

	m.registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheErrors,
		m.UpstreamFailures, m.ReportsGenerated,
		m.AlertsSent, m.AlertsSuppressed,
		m.ScanDuration, m.ScanEntries,
		m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OrNew returns m, or a fresh unexported-registry Metrics when m is nil,
// so components can be constructed without wiring metrics.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}
