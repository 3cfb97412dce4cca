package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	seqIdentitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seq_identities_appended_total",
		Help: "Total identities appended to the ledger.",
	})

	seqRootsMinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seq_roots_mined_total",
		Help: "Total mining confirmations recorded.",
	})

	seqCheckpointsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "seq_checkpoints",
		Help: "Number of recorded checkpoints by status.",
	}, []string{"status"})

	seqWebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seq_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	seqRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seq_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	seqRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seq_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		seqRequestsTotal.WithLabelValues(method, path, status).Inc()
		seqRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend counts a successful identity append.
func RecordAppend() {
	seqIdentitiesTotal.Inc()
}

// RecordMined counts a successful mining confirmation.
func RecordMined() {
	seqRootsMinedTotal.Inc()
}

// RecordWebhookDelivery counts one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	seqWebhookDeliveries.WithLabelValues(outcome).Inc()
}

// SetCheckpointsGauge sets the checkpoint count gauge for a given status.
func SetCheckpointsGauge(status string, count float64) {
	seqCheckpointsGauge.WithLabelValues(status).Set(count)
}
