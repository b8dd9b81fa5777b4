// Package metrics provides Prometheus metrics for downloads and cache eviction.
//
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Eviction outcomes recorded per file.
const (
	OutcomeVerified    = "verified"
	OutcomeAlreadyGone = "already_gone"
	OutcomeRejected    = "rejected"
)

// Metrics holds the collectors registered on a single registry.
type Metrics struct {
	registry *prometheus.Registry

	downloadsTotal     *prometheus.CounterVec
	downloadDedupTotal prometheus.Counter
	evictionsTotal     *prometheus.CounterVec
	evictedBytesTotal  prometheus.Counter
	cacheBytes         prometheus.Gauge
	cacheBudgetBytes   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hoard_downloads_total",
				Help: "Total number of download attempts by result",
			},
			[]string{"result"},
		),
		downloadDedupTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hoard_download_dedup_total",
				Help: "Download triggers that joined an in-flight download",
			},
		),
		evictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hoard_evictions_total",
				Help: "Files considered for eviction by outcome",
			},
			[]string{"outcome"},
		),
		evictedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hoard_evicted_bytes_total",
				Help: "Total verified bytes freed by eviction",
			},
		),
		cacheBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hoard_cache_bytes",
				Help: "Bytes held by cached tracks at the last sweep",
			},
		),
		cacheBudgetBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hoard_cache_budget_bytes",
				Help: "Configured cache budget in bytes",
			},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDownload records a settled download.
func (m *Metrics) RecordDownload(materialized bool) {
	if m == nil {
		return
	}
	result := "materialized"
	if !materialized {
		result = "timeout"
	}
	m.downloadsTotal.WithLabelValues(result).Inc()
}

// RecordDedup records a trigger that attached to an in-flight download.
func (m *Metrics) RecordDedup() {
	if m == nil {
		return
	}
	m.downloadDedupTotal.Inc()
}

// RecordEviction records one file's eviction outcome. bytes counts only for freed files.
func (m *Metrics) RecordEviction(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		m.evictedBytesTotal.Add(float64(bytes))
	}
}

// SetCacheBytes sets the current cached bytes.
func (m *Metrics) SetCacheBytes(bytes int64) {
	if m == nil {
		return
	}
	m.cacheBytes.Set(float64(bytes))
}

// SetBudget sets the current cache budget.
func (m *Metrics) SetBudget(bytes int64) {
	if m == nil {
		return
	}
	m.cacheBudgetBytes.Set(float64(bytes))
}
