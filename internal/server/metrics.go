package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_appends_total",
		Help: "Total audit entry append attempts by outcome (committed, duplicate, conflict, rejected).",
	}, []string{"outcome"})

	conflictsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_conflicts_resolved_total",
		Help: "Total conflict resolutions by mode (auto, manual).",
	}, []string{"mode"})

	accessDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinledger_access_denied_total",
		Help: "Total requests rejected by the access policy engine.",
	})

	verifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinledger_verify_failures_total",
		Help: "Total integrity verification failures (tamper findings).",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
