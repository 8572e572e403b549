// Package metrics provides Prometheus instrumentation for the Tally service.
package metrics

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tally"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActivityLoggedTotal counts activity log entries by the surface that wrote them.
	ActivityLoggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_logged_total",
			Help:      "Total activity log entries recorded by source.",
		},
		[]string{"source"},
	)

	// ActionsCreatedTotal counts actions created.
	ActionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_created_total",
		Help:      "Total actions created.",
	})

	// AggregationDuration observes time spent building series, summaries and trends.
	AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent in aggregation operations in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	// SummaryCacheTotal counts summary cache lookups by result (hit, miss, error).
	SummaryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_cache_total",
			Help:      "Summary cache lookups by result.",
		},
		[]string{"result"},
	)

	// AuthAttemptsTotal counts login and token checks by method and result.
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActivityLoggedTotal,
		ActionsCreatedTotal,
		AggregationDuration,
		SummaryCacheTotal,
		AuthAttemptsTotal,
		ActiveWebSocketClients,
	)
}

// ObserveAggregation records the time elapsed since start for an aggregation
// operation. Use with defer:
//
//	defer metrics.ObserveAggregation("timeseries", time.Now())
func ObserveAggregation(operation string, start time.Time) {
	AggregationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RegisterDB exports the pool statistics of db as go_sql_* series labelled
// db_name="tally" on the default registry. The returned func removes them.
func RegisterDB(db *sql.DB) (unregister func()) {
	c := collectors.NewDBStatsCollector(db, namespace)
	if err := prometheus.Register(c); err != nil {
		// a pool from an earlier server in this process still owns the names
		return func() {}
	}
	return func() { prometheus.Unregister(c) }
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// route pattern, not the raw URL, so ids do not mint new series
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
