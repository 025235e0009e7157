package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// HandshakesTotal counts upstream login handshakes by trigger and outcome.
	HandshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetbakers_handshakes_total",
		Help: "Upstream login handshakes by trigger (implicit, explicit) and outcome.",
	}, []string{"trigger", "outcome"})

	// SessionCacheLookups counts session cache reads by result (hit, miss).
	SessionCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetbakers_session_cache_lookups_total",
		Help: "Session cache lookups by result.",
	}, []string{"result"})

	// StoreOperations counts document store calls by operation and outcome.
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetbakers_store_operations_total",
		Help: "Document store operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// StoreOperationDuration observes document store latency by operation.
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "budgetbakers_store_operation_duration_seconds",
		Help:    "Document store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// PrometheusMiddleware records request counts and latency per matched route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
