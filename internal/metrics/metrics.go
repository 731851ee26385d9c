// Package metrics provides Prometheus instrumentation for the escrow engine.
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
			Namespace: "edupay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edupay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsTotal counts payment events by outcome (accepted, duplicate, rejected).
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupay",
			Name:      "payments_total",
			Help:      "Total payment events by outcome.",
		},
		[]string{"outcome"},
	)

	// MilestonesReleasedTotal counts milestone releases by milestone name.
	MilestonesReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupay",
			Name:      "milestones_released_total",
			Help:      "Total milestone releases committed after ledger confirmation.",
		},
		[]string{"milestone"},
	)

	// DisputesOpenedTotal counts disputes opened within the window.
	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edupay",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	// ResolutionsTotal counts terminal resolutions by action.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupay",
			Name:      "resolutions_total",
			Help:      "Total escrow resolutions by action (release, refund).",
		},
		[]string{"action"},
	)

	// SubmissionsTotal counts ledger submissions by kind and result.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupay",
			Name:      "ledger_submissions_total",
			Help:      "Total ledger submissions by kind (release, refund) and result.",
		},
		[]string{"kind", "result"},
	)

	// SubmissionsPending tracks submissions awaiting on-chain confirmation.
	SubmissionsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay",
		Name:      "ledger_submissions_pending",
		Help:      "Number of ledger submissions awaiting confirmation.",
	})

	// SubmissionsOverdueTotal counts submissions unresolved past the report bound.
	SubmissionsOverdueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edupay",
		Name:      "ledger_submissions_overdue_total",
		Help:      "Total submissions reported as unresolved past the configured bound.",
	})

	// SettleDuration observes time from escrow creation to terminal state.
	SettleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edupay",
		Name:      "escrow_settle_duration_seconds",
		Help:      "Time from escrow creation to resolution in seconds.",
		Buckets:   []float64{60, 600, 3600, 21600, 86400, 259200, 604800},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// ActiveWebSocketClients tracks connected realtime subscribers.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupay", Name: "websocket_clients",
		Help: "Number of connected WebSocket clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentsTotal,
		MilestonesReleasedTotal,
		DisputesOpenedTotal,
		ResolutionsTotal,
		SubmissionsTotal,
		SubmissionsPending,
		SubmissionsOverdueTotal,
		SettleDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
		ActiveWebSocketClients,
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
