// Package metrics exposes the service's Prometheus instrumentation. All
// collectors live on one private registry so tests can build isolated
// instances; the API serves it at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the pipelines report into.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmErrors     *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	moduleScore   prometheus.Histogram
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_http_requests_total",
			Help: "HTTP requests served, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "protocol_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30},
		}, []string{"route"}),
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_jobs_started_total",
			Help: "Jobs started, by pipeline kind.",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_jobs_finished_total",
			Help: "Jobs reaching a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "protocol_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds, by model.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"model"}),
		llmErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_llm_errors_total",
			Help: "LLM request failures, by model.",
		}, []string{"model"}),
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_cache_requests_total",
			Help: "Extraction cache lookups, by tier and outcome.",
		}, []string{"tier", "outcome"}),
		moduleScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "protocol_module_quality_score",
			Help:    "Quality score distribution of completed module extractions.",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
	}
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPRequest records one served request. Route is the registered route
// pattern, not the raw path, to bound label cardinality.
func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) JobStarted(kind string) {
	m.jobsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, status string) {
	m.jobsFinished.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveLLMRequest(model string, d time.Duration, err error) {
	m.llmDuration.WithLabelValues(model).Observe(d.Seconds())
	if err != nil {
		m.llmErrors.WithLabelValues(model).Inc()
	}
}

// CacheLookup records one cache tier lookup. Outcome is "hit" or "miss".
func (m *Metrics) CacheLookup(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheRequests.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) ObserveModuleScore(score float64) {
	m.moduleScore.Observe(score)
}
