// Prometheus metrics for the gateway: request counters plus pruning-specific
// counters for redactions, token savings, analysis runs, and prune actions.
package gateway

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contextgate_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contextgate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	redactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contextgate_redactions_total",
			Help: "Total number of tool results redacted from outgoing requests",
		},
	)

	tokensSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contextgate_tokens_saved_total",
			Help: "Estimated total tokens elided by redaction",
		},
	)

	pruneActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contextgate_prune_actions_total",
			Help: "Total explicit prune actions, by reason",
		},
		[]string{"reason"},
	)

	analysisRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "contextgate_analysis_runs_total",
			Help: "Total background pruning-analysis runs",
		},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "contextgate_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics. Safe to call multiple
// times; metrics are only registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		redactionsTotal,
		tokensSavedTotal,
		pruneActionsTotal,
		analysisRunsTotal,
		activeConnections,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		activeConnections.Inc()
		defer activeConnections.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath keeps metric label cardinality bounded.
func normalizePath(path string) string {
	switch path {
	case "/", "/healthz", "/metrics", "/gateway/prune", "/gateway/idle":
		return path
	}
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}

// MetricsHandler returns the Prometheus handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRedactions adds to the redaction counter.
func RecordRedactions(n int) {
	if IsMetricsEnabled() && n > 0 {
		redactionsTotal.Add(float64(n))
	}
}

// RecordTokensSaved adds to the tokens-saved counter.
func RecordTokensSaved(n int) {
	if IsMetricsEnabled() && n > 0 {
		tokensSavedTotal.Add(float64(n))
	}
}

// RecordPruneAction counts an explicit prune action.
func RecordPruneAction(reason string) {
	if IsMetricsEnabled() {
		pruneActionsTotal.WithLabelValues(reason).Inc()
	}
}

// RecordAnalysisRun counts a background analysis pass.
func RecordAnalysisRun() {
	if IsMetricsEnabled() {
		analysisRunsTotal.Inc()
	}
}
