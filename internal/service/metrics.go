package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribo-app/scribo/internal/core"
)

// ModelCallLatencyBuckets spans fast cache-warm replies up to the synthesis timeout.
var ModelCallLatencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120, 180}

// Metrics holds the Prometheus collectors of the grading engine. Every
// method is safe on a nil receiver so services can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// ModelCallLatency tracks provider call latency
	ModelCallLatency *prometheus.HistogramVec

	// ModelCallTotal counts provider calls by outcome
	ModelCallTotal *prometheus.CounterVec

	// ModelAvailable is 1 while a model accepts calls, 0 during cooldown
	ModelAvailable *prometheus.GaugeVec

	// CacheLookups counts cache reads by namespace and result
	CacheLookups *prometheus.CounterVec

	// RateLimited counts denied requests per policy
	RateLimited *prometheus.CounterVec

	// Analyses counts completed multi-model runs by mode and reliability
	Analyses *prometheus.CounterVec

	// Fallbacks counts corrections answered by a non-primary model or canned text
	Fallbacks *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ModelCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scribo_model_call_latency_seconds",
				Help:    "Latency of model provider calls",
				Buckets: ModelCallLatencyBuckets,
			},
			[]string{"model", "kind"},
		),
		ModelCallTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribo_model_call_total",
				Help: "Total model provider calls",
			},
			[]string{"model", "kind", "status"},
		),
		ModelAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scribo_model_available",
				Help: "Model availability (1=available, 0=cooling down)",
			},
			[]string{"model"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribo_cache_lookups_total",
				Help: "Result cache lookups",
			},
			[]string{"namespace", "result"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribo_rate_limited_total",
				Help: "Requests denied by the per-caller rate limiter",
			},
			[]string{"policy"},
		),
		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribo_analyses_total",
				Help: "Completed multi-model analyses",
			},
			[]string{"mode", "reliability"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribo_correction_fallbacks_total",
				Help: "Corrections not answered by the requested model",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ModelCallLatency,
		m.ModelCallTotal,
		m.ModelAvailable,
		m.CacheLookups,
		m.RateLimited,
		m.Analyses,
		m.Fallbacks,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitModels pre-initializes per-model series so they are exposed at zero.
func (m *Metrics) InitModels(ids []string) {
	if m == nil {
		return
	}
	for _, id := range ids {
		m.ModelAvailable.WithLabelValues(id).Set(1)
	}
}

// ObserveModelCall records one provider call.
func (m *Metrics) ObserveModelCall(modelID string, kind core.AnalysisKind, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallLatency.WithLabelValues(modelID, string(kind)).Observe(elapsed.Seconds())
	m.ModelCallTotal.WithLabelValues(modelID, string(kind), status).Inc()
}

// SetModelAvailable mirrors the registry availability flag.
func (m *Metrics) SetModelAvailable(modelID string, available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1
	}
	m.ModelAvailable.WithLabelValues(modelID).Set(v)
}

// ObserveCache records a cache lookup result: hit, miss or error.
func (m *Metrics) ObserveCache(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

// ObserveRateLimited records a denied request.
func (m *Metrics) ObserveRateLimited(policy string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(policy).Inc()
}

// ObserveAnalysis records a completed multi-model run.
func (m *Metrics) ObserveAnalysis(mode string, reliability core.Reliability) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(mode, reliability.String()).Inc()
}

// ObserveFallback records a correction served by a fallback path.
func (m *Metrics) ObserveFallback(kind core.AnalysisKind) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(string(kind)).Inc()
}
