package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the evaluator. A nil or
// disabled Metrics value is a safe no-op.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	filesEvaluated *prometheus.CounterVec
	evalDuration   *prometheus.HistogramVec

	// Module metrics
	modulesLoaded  prometheus.Counter
	moduleCacheHit prometheus.Counter

	// Output metrics
	rulesCollected  prometheus.Counter
	diagnosticsSeen *prometheus.CounterVec

	// Glob metrics
	globQueries prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// Every instance owns its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		filesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_evaluated_total",
				Help:      "Total number of build files evaluated",
			},
			[]string{"status"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "eval_duration_seconds",
				Help:      "Duration of build file evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		modulesLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "modules_loaded_total",
				Help:      "Total number of extension modules evaluated",
			},
		),
		moduleCacheHit: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_hits_total",
				Help:      "Total number of module loads served from cache",
			},
		),
		rulesCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rules_collected_total",
				Help:      "Total number of rules collected from build files",
			},
		),
		diagnosticsSeen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Total number of diagnostics raised",
			},
			[]string{"level", "source"},
		),
		globQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "glob_queries_total",
				Help:      "Total number of glob queries issued",
			},
		),
	}

	registry.MustRegister(
		m.filesEvaluated,
		m.evalDuration,
		m.modulesLoaded,
		m.moduleCacheHit,
		m.rulesCollected,
		m.diagnosticsSeen,
		m.globQueries,
	)

	return m, nil
}

// Handler returns an HTTP handler serving this instance's registry, or
// nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// FileEvaluated records the outcome and duration of one build file.
func (m *Metrics) FileEvaluated(status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.filesEvaluated.WithLabelValues(status).Inc()
	m.evalDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ModuleLoaded records one extension module evaluation.
func (m *Metrics) ModuleLoaded() {
	if m.enabled() {
		m.modulesLoaded.Inc()
	}
}

// ModuleCacheHit records a module load served from cache.
func (m *Metrics) ModuleCacheHit() {
	if m.enabled() {
		m.moduleCacheHit.Inc()
	}
}

// RulesCollected records rules produced by one build file.
func (m *Metrics) RulesCollected(n int) {
	if m.enabled() {
		m.rulesCollected.Add(float64(n))
	}
}

// DiagnosticRaised records one diagnostic by level and source.
func (m *Metrics) DiagnosticRaised(level, source string) {
	if m.enabled() {
		m.diagnosticsSeen.WithLabelValues(level, source).Inc()
	}
}

// GlobQuery records one glob query.
func (m *Metrics) GlobQuery() {
	if m.enabled() {
		m.globQueries.Inc()
	}
}
