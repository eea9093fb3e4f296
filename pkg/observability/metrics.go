package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Decision metrics
	DecisionsTotal           *prometheus.CounterVec
	DecisionDuration         *prometheus.HistogramVec
	DataSourceErrorsTotal    *prometheus.CounterVec
	ConfigurationErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Policy metrics
	PolicyReloadsTotal *prometheus.CounterVec
	PolicyLoadedAt     prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_decisions_total",
				Help: "Total number of access decisions",
			},
			[]string{"result", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memauthz_decision_duration_seconds",
				Help:    "Access decision duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"result"},
		),
		DataSourceErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_datasource_errors_total",
				Help: "Total number of data source failures during evaluation",
			},
			[]string{"operation"},
		),
		ConfigurationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_configuration_errors_total",
				Help: "Total number of configuration errors found during evaluation",
			},
			[]string{"kind"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"cache_type", "scope"},
		),

		PolicyReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_policy_reloads_total",
				Help: "Total number of policy reloads",
			},
			[]string{"trigger", "status"},
		),
		PolicyLoadedAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memauthz_policy_loaded_timestamp_seconds",
				Help: "Unix time of the last successful policy load",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memauthz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memauthz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memauthz_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memauthz_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.DataSourceErrorsTotal,
		m.ConfigurationErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.PolicyReloadsTotal,
		m.PolicyLoadedAt,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)

	return m
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// RecordDecision counts a decision and observes its latency
func (m *Metrics) RecordDecision(_ context.Context, allowed bool, reason string, duration time.Duration) {
	result := resultLabel(allowed)
	m.DecisionsTotal.WithLabelValues(result, reason).Inc()
	m.DecisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordDataSourceError counts a failed data source call
func (m *Metrics) RecordDataSourceError(_ context.Context, operation string) {
	m.DataSourceErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordConfigurationError counts a configuration error by kind
func (m *Metrics) RecordConfigurationError(_ context.Context, kind string) {
	m.ConfigurationErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(cacheType, keyType string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType, keyType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType, keyType).Inc()
}

// RecordCacheInvalidation counts a user-scoped or full invalidation
func (m *Metrics) RecordCacheInvalidation(cacheType, scope string) {
	m.CacheInvalidationsTotal.WithLabelValues(cacheType, scope).Inc()
}

// RecordPolicyReload counts a policy reload attempt
func (m *Metrics) RecordPolicyReload(trigger string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.PolicyLoadedAt.SetToCurrentTime()
	}
	m.PolicyReloadsTotal.WithLabelValues(trigger, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
