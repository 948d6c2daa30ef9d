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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	deliveriesSentTotal   *prometheus.CounterVec
	deliveriesFailedTotal *prometheus.CounterVec
	deliverySendDuration  *prometheus.HistogramVec
	workerInflight        *prometheus.GaugeVec
	retryScheduledTotal   *prometheus.CounterVec
	broadcastSentTotal    prometheus.Counter
	broadcastFailedTotal  prometheus.Counter
	realtimeConnections   prometheus.Gauge
	realtimePushedTotal   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "deliveries_sent_total",
				Help:      "Total number of queue entries delivered successfully.",
			},
			[]string{"channel"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "deliveries_failed_total",
				Help:      "Total number of queue entries that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		deliverySendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "delivery_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notify_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of queue entries scheduled for retry.",
			},
			[]string{"channel"},
		),
		broadcastSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "broadcast_recipients_sent_total",
				Help:      "Total number of campaign recipients delivered successfully.",
			},
		),
		broadcastFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "broadcast_recipients_failed_total",
				Help:      "Total number of campaign recipients that failed delivery.",
			},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "notify_engine",
				Name:      "realtime_connections",
				Help:      "Current number of open realtime connections.",
			},
		),
		realtimePushedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "realtime_pushed_total",
				Help:      "Total number of events pushed over realtime connections.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesSentTotal,
		m.deliveriesFailedTotal,
		m.deliverySendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.broadcastSentTotal,
		m.broadcastFailedTotal,
		m.realtimeConnections,
		m.realtimePushedTotal,
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

func (m *Metrics) IncDeliverySent(channel string) {
	if m == nil {
		return
	}
	m.deliveriesSentTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncDeliveryFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveriesFailedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliverySendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliverySendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) AddBroadcastSent(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.broadcastSentTotal.Add(float64(count))
}

func (m *Metrics) AddBroadcastFailed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.broadcastFailedTotal.Add(float64(count))
}

func (m *Metrics) IncRealtimeConnections() {
	if m == nil {
		return
	}
	m.realtimeConnections.Inc()
}

func (m *Metrics) DecRealtimeConnections() {
	if m == nil {
		return
	}
	m.realtimeConnections.Dec()
}

func (m *Metrics) IncRealtimePushed() {
	if m == nil {
		return
	}
	m.realtimePushedTotal.Inc()
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

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
