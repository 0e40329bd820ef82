package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and pipeline flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	dispatchedTotal     *prometheus.CounterVec
	dispatchFailedTotal *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	dispatchInflight    *prometheus.GaugeVec
	retryScheduledTotal *prometheus.CounterVec
	confirmationsTotal  *prometheus.CounterVec
	monitorAlertsTotal  *prometheus.CounterVec
	staleSubmissions    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "submission_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "submissions_dispatched_total",
				Help:      "Total number of submissions successfully handed off per delivery method.",
			},
			[]string{"method"},
		),
		dispatchFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "submissions_failed_total",
				Help:      "Total number of submissions that ended in terminal failed state.",
			},
			[]string{"method", "reason"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "submission_engine",
				Name:      "dispatch_duration_seconds",
				Help:      "Delivery attempt duration in seconds grouped by delivery method.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"method"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "submission_engine",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by method.",
			},
			[]string{"method"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of submissions scheduled for a backoff retry.",
			},
			[]string{"method"},
		),
		confirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "confirmations_total",
				Help:      "Total number of confirmation signals processed by result.",
			},
			[]string{"result"},
		),
		monitorAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "submission_engine",
				Name:      "monitor_alerts_total",
				Help:      "Total number of anomaly alerts raised by the monitoring loop.",
			},
			[]string{"kind"},
		),
		staleSubmissions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "submission_engine",
				Name:      "stale_submissions",
				Help:      "Submissions stuck in submitted past the confirmation window at last scan.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchedTotal,
		m.dispatchFailedTotal,
		m.dispatchDuration,
		m.dispatchInflight,
		m.retryScheduledTotal,
		m.confirmationsTotal,
		m.monitorAlertsTotal,
		m.staleSubmissions,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatched(method string) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(normalizeMethod(method)).Inc()
}

func (m *Metrics) IncDispatchFailed(method string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.dispatchFailedTotal.WithLabelValues(normalizeMethod(method), reasonLabel).Inc()
}

func (m *Metrics) ObserveDispatchDuration(method string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.WithLabelValues(normalizeMethod(method)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(method string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeMethod(method)).Inc()
}

func (m *Metrics) DecDispatchInFlight(method string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeMethod(method)).Dec()
}

func (m *Metrics) IncRetryScheduled(method string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeMethod(method)).Inc()
}

func (m *Metrics) IncConfirmation(result string) {
	if m == nil {
		return
	}
	resultLabel := strings.TrimSpace(strings.ToLower(result))
	if resultLabel == "" {
		resultLabel = "unknown"
	}
	m.confirmationsTotal.WithLabelValues(resultLabel).Inc()
}

func (m *Metrics) IncMonitorAlert(kind string) {
	if m == nil {
		return
	}
	kindLabel := strings.TrimSpace(strings.ToLower(kind))
	if kindLabel == "" {
		kindLabel = "unknown"
	}
	m.monitorAlertsTotal.WithLabelValues(kindLabel).Inc()
}

func (m *Metrics) SetStaleSubmissions(n int) {
	if m == nil {
		return
	}
	m.staleSubmissions.Set(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeMethod(method string) string {
	normalized := strings.ToLower(strings.TrimSpace(method))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
