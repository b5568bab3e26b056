package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcome labels used by the authorization metrics. Errors are
// recorded separately from denials so operators can tell "store was down"
// apart from "user lacks the permission".
const (
	OutcomeLabelAllowed   = "allowed"
	OutcomeLabelDenied    = "denied"
	OutcomeLabelSuspended = "suspended"
	OutcomeLabelError     = "error"
)

// Metrics holds all Prometheus metrics for the authorization engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization decision metrics
	DecisionsTotal        *prometheus.CounterVec
	DecisionDuration      *prometheus.HistogramVec
	ScopeResolutionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec

	// Audit metrics
	AuditRecordsTotal       prometheus.Counter
	AuditWriteFailuresTotal prometheus.Counter

	// Database connection metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Total authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"cached"},
		),
		ScopeResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_scope_resolutions_total",
				Help: "Total organisation scope resolutions",
			},
			[]string{"restricted"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cache_hits_total",
				Help: "Total authorization cache hits",
			},
			[]string{"concern"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cache_misses_total",
				Help: "Total authorization cache misses",
			},
			[]string{"concern"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cache_invalidations_total",
				Help: "Total cache invalidation operations",
			},
			[]string{"trigger"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_store_errors_total",
				Help: "Total backing store failures by component",
			},
			[]string{"component"},
		),
		AuditRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_audit_records_total",
				Help: "Total audit records written",
			},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_audit_write_failures_total",
				Help: "Total audit records that failed to write",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authz_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authz_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.ScopeResolutionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.StoreErrorsTotal,
		m.AuditRecordsTotal,
		m.AuditWriteFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordDecision records an authorization decision outcome.
func (m *Metrics) RecordDecision(outcome string, cached bool, duration time.Duration) {
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
	m.DecisionDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for HTTP metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments an HTTP handler with request metrics.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
