package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_service_http_requests_total",
		Help: "HTTP requests by route and response code",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_service_http_request_duration_seconds",
		Help:    "HTTP request latency by route and response code",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_service_http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})

	orderOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_service_order_operations_total",
		Help: "Checkout, payment and lifecycle operations by outcome",
	}, []string{"operation", "outcome"})
)

// PrometheusMiddleware records request count and latency per route.
// Unmatched routes are grouped under one label to bound cardinality.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := []string{c.Request.Method, path, strconv.Itoa(c.Writer.Status())}
		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

// RecordOrderOperation counts one handled operation (checkout, confirm,
// notification...) under the outcome its response code maps to.
func RecordOrderOperation(operation string, status int) {
	orderOperations.WithLabelValues(operation, operationOutcome(status)).Inc()
}

// operationOutcome buckets a response code: 2xx succeeded, 4xx was
// rejected by validation or a business rule, anything else failed.
func operationOutcome(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status >= 400 && status < 500:
		return "rejected"
	default:
		return "error"
	}
}
