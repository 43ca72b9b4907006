// Package metrics exports the router's operational telemetry in
// Prometheus format. Every metric name and label here is an external
// contract that must match exactly — grounded on agent_router.py's
// PrometheusMetrics class, using github.com/prometheus/client_golang in
// place of the teacher's hand-rolled text writer
// (src/prometheus_exporter.go) since this surface is consumed by
// external dashboards rather than an ad hoc debug page.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every metric family the router writes through.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal            *prometheus.CounterVec
	ModelRequestsTotal       *prometheus.CounterVec
	FallbackRequestsTotal    *prometheus.CounterVec
	ModelFallbacksTotal      *prometheus.CounterVec
	ErrorsTotal              *prometheus.CounterVec
	LatencySeconds           *prometheus.HistogramVec
	ClassificationLatency    prometheus.Histogram
	IntentClassificationTotal *prometheus.CounterVec
	ModelHealth              *prometheus.GaugeVec
	FallbackRate             *prometheus.GaugeVec
	CacheHitsTotal           prometheus.Counter
	CacheMissesTotal         prometheus.Counter
	CacheSize                prometheus.Gauge

	server *http.Server
}

// New builds a fresh metrics registry with every family pre-registered.
// Using a dedicated registry (rather than prometheus.DefaultRegisterer)
// keeps repeated test construction free of "duplicate metrics collector
// registration" panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests",
		}, []string{"model", "intent", "status"}),

		ModelRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Total requests per model",
		}, []string{"model"}),

		FallbackRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fallback_requests_total",
			Help: "Total fallback requests",
		}, []string{"from_model", "to_model"}),

		ModelFallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_fallbacks_total",
			Help: "Fallback attempts involving each model",
		}, []string{"model", "role"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total errors",
		}, []string{"model", "error_type"}),

		LatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"model", "intent"}),

		ClassificationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "classification_latency_seconds",
			Help:    "Intent classification latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		IntentClassificationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intent_classification_total",
			Help: "Intent classification counts",
		}, []string{"intent", "confidence"}),

		ModelHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_health",
			Help: "Model health status (1=healthy, 0=unhealthy)",
		}, []string{"model"}),

		FallbackRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fallback_rate",
			Help: "Current fallback rate",
		}, []string{"model"}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache tier hits",
		}),

		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache tier misses",
		}),

		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_size",
			Help: "Current number of entries in the response cache",
		}),
	}
}

// Start serves the metrics family at addr/path until Stop is called.
func (m *Metrics) Start(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: listen on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the metrics HTTP server.
func (m *Metrics) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Handler exposes the raw promhttp handler, useful for mounting onto
// an externally-owned mux (e.g. alongside the admin breaker endpoints).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry's collected metric families,
// letting callers outside this package assert on recorded label values
// in tests without reaching into an unexported field.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}
