package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for HTTP and socket traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec

	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	eventsSent    *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	rejections    *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by domain error code",
		}, []string{"method", "path", "code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Open socket connections",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_rooms_active",
			Help: "Ticket rooms currently held in memory",
		}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_sent_total",
			Help: "Outbound socket events queued for delivery",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Outbound socket events dropped because a send buffer was full",
		}, []string{"event"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_rejections_total",
			Help: "Inbound socket events rejected, by error code",
		}, []string{"code"}),
	}
	reg.MustRegister(
		m.requestCount, m.requestDuration, m.errorCount,
		m.connections, m.rooms, m.eventsSent, m.eventsDropped, m.rejections,
	)
	return m
}

// Registry exposes the underlying registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(method, path, code).Inc()
}

// ConnectionOpened tracks a new socket.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a socket going away.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SetRooms publishes the current room count.
func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

// EventSent counts an event accepted into a connection buffer.
func (m *Metrics) EventSent(event string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(event).Inc()
}

// EventDropped counts an event discarded for a slow connection.
func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}

// Rejected counts an inbound event that failed with the given code.
func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}
