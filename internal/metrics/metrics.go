// Package metrics provides Prometheus instrumentation for proctord.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proctord",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proctord",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BatchesIngestedTotal counts event batches accepted by the gateway.
	BatchesIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctord",
		Name:      "batches_ingested_total",
		Help:      "Total event batches persisted.",
	})

	// EventsIngestedTotal counts individual behavioral events accepted.
	EventsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctord",
		Name:      "events_ingested_total",
		Help:      "Total behavioral events persisted across all batches.",
	})

	// WarningsPushedTotal counts live warnings pushed to candidates.
	WarningsPushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctord",
		Name:      "warnings_pushed_total",
		Help:      "Total proctoring warnings pushed over the realtime channel.",
	})

	// TerminationsTotal counts sessions terminated by the risk engine.
	TerminationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctord",
		Name:      "terminations_total",
		Help:      "Total sessions terminated for excessive tab switching.",
	})

	// BatchRiskScore observes the distribution of per-batch risk scores.
	BatchRiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proctord",
		Name:      "batch_risk_score",
		Help:      "Per-batch risk score distribution (0-100).",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// ActiveProctorClients tracks connected proctoring WebSocket clients.
	ActiveProctorClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctord",
		Name:      "active_proctor_clients",
		Help:      "Number of currently connected proctoring clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctord", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctord", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctord", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctord", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BatchesIngestedTotal,
		EventsIngestedTotal,
		WarningsPushedTotal,
		TerminationsTotal,
		BatchRiskScore,
		ActiveProctorClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
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
