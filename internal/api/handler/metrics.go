package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
)

var (
	swRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steelwatch_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	swRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steelwatch_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	swLedgerAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steelwatch_ledger_appends_total",
		Help: "Total ledger blocks appended.",
	})

	swScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steelwatch_scans_total",
		Help: "Total anomaly scan attempts by outcome.",
	}, []string{"result"})

	swScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steelwatch_scan_duration_seconds",
		Help:    "Anomaly scan duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	swLastScanAnomalies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steelwatch_last_scan_anomalies",
		Help: "Anomalies found by the most recent completed scan.",
	})

	swAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steelwatch_alerts_total",
		Help: "Alert insert attempts by outcome.",
	}, []string{"outcome"})

	swTicketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steelwatch_tickets_total",
		Help: "Maintenance ticket insert attempts by outcome.",
	}, []string{"outcome"})

	swAuditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steelwatch_audit_failures_total",
		Help: "Audit sink deliveries that failed.",
	})
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
			path = "unmatched"
		}

		swRequestsTotal.WithLabelValues(method, path, status).Inc()
		swRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records a ledger append. It matches ledger.AppendRecorder.
func RecordLedgerAppend() {
	swLedgerAppendsTotal.Inc()
}

// RecordScan records a scan attempt. It matches anomaly.ScanRecorder.
func RecordScan(res *anomaly.Result, elapsed time.Duration, err error) {
	switch {
	case errors.Is(err, anomaly.ErrScanInProgress):
		swScansTotal.WithLabelValues("rejected").Inc()
		return
	case errors.Is(err, anomaly.ErrScoringUnavailable):
		swScansTotal.WithLabelValues("scoring_unavailable").Inc()
	case err != nil:
		swScansTotal.WithLabelValues("error").Inc()
	case res.Skipped:
		swScansTotal.WithLabelValues("skipped").Inc()
	default:
		swScansTotal.WithLabelValues("success").Inc()
	}

	swScanDuration.Observe(elapsed.Seconds())
	if res == nil {
		return
	}
	swLastScanAnomalies.Set(float64(res.AnomaliesFound))
	swAlertsTotal.WithLabelValues("created").Add(float64(res.AlertsCreated))
	swAlertsTotal.WithLabelValues("suppressed").Add(float64(res.AlertsSuppressed))
	swTicketsTotal.WithLabelValues("created").Add(float64(res.TicketsCreated))
	swTicketsTotal.WithLabelValues("suppressed").Add(float64(res.TicketsSuppressed))
	swAuditFailuresTotal.Add(float64(res.AuditFailures))
}
