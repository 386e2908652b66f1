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

// Metrics stores Prometheus collectors used by API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	transfersSentTotal   prometheus.Counter
	transfersFailedTotal *prometheus.CounterVec
	transferDuration     prometheus.Histogram
	dispatchInflight     prometheus.Gauge
	retryAttemptsTotal   prometheus.Counter
	batchesFinishedTotal *prometheus.CounterVec
	finalizeTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "custody_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transfersSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "transfers_sent_total",
				Help:      "Total number of batch transfers that landed on the ledger.",
			},
		),
		transfersFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "transfers_failed_total",
				Help:      "Total number of batch transfers that exhausted their retries.",
			},
			[]string{"reason"},
		),
		transferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "custody_engine",
				Name:      "transfer_attempt_duration_seconds",
				Help:      "Ledger transfer attempt duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "custody_engine",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight transfer attempts.",
			},
		),
		retryAttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "retry_attempts_total",
				Help:      "Total number of transfer retry attempts.",
			},
		),
		batchesFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "batches_finished_total",
				Help:      "Total number of batches that reached a terminal status.",
			},
			[]string{"status"},
		),
		finalizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody_engine",
				Name:      "finalize_total",
				Help:      "Total number of finalize calls by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.transfersSentTotal,
		m.transfersFailedTotal,
		m.transferDuration,
		m.dispatchInflight,
		m.retryAttemptsTotal,
		m.batchesFinishedTotal,
		m.finalizeTotal,
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

func (m *Metrics) IncTransferSent() {
	if m == nil {
		return
	}
	m.transfersSentTotal.Inc()
}

func (m *Metrics) IncTransferFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.transfersFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) ObserveTransferDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.transferDuration.Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncRetryAttempt() {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.Inc()
}

func (m *Metrics) IncBatchFinished(status string) {
	if m == nil {
		return
	}
	statusLabel := strings.TrimSpace(strings.ToUpper(status))
	if statusLabel == "" {
		statusLabel = "UNKNOWN"
	}
	m.batchesFinishedTotal.WithLabelValues(statusLabel).Inc()
}

func (m *Metrics) IncFinalize(outcome string) {
	if m == nil {
		return
	}
	outcomeLabel := strings.TrimSpace(strings.ToLower(outcome))
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.finalizeTotal.WithLabelValues(outcomeLabel).Inc()
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
