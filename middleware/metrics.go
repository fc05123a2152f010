package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	reportsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_submitted_total",
			Help: "Total number of submitted reports by kind and final submission state",
		},
		[]string{"kind", "state"},
	)

	reportImagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_images_dropped_total",
			Help: "Images beyond the per-report cap that were never uploaded",
		},
		[]string{"kind"},
	)

	reportStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_status_changes_total",
			Help: "Total number of report status transitions",
		},
		[]string{"kind", "from_status", "to_status"},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Permission checks by capability and decision",
		},
		[]string{"capability", "decision"},
	)
)

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Metrics records request counts and latency. Paths are the matched route template,
// so ids never become label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordReportSubmitted counts a finished submission.
func RecordReportSubmitted(kind, state string, dropped int) {
	reportsSubmitted.WithLabelValues(kind, state).Inc()
	if dropped > 0 {
		reportImagesDropped.WithLabelValues(kind).Add(float64(dropped))
	}
}

// RecordReportStatusChange counts a status transition.
func RecordReportStatusChange(kind, from, to string) {
	reportStatusChanges.WithLabelValues(kind, from, to).Inc()
}

func recordAuthorization(capability, decision string) {
	authorizationDecisions.WithLabelValues(capability, decision).Inc()
}
