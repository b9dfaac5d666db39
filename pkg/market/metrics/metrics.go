package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the marketplace server.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Voice WebSocket metrics
	WSConnectionsTotal  prometheus.Counter
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
	WSErrorsTotal       *prometheus.CounterVec
	WSReconnections     prometheus.Counter
	VoiceTurnsTotal     *prometheus.CounterVec
	VoiceTurnDuration   *prometheus.HistogramVec

	// Marketplace metrics
	BidsTotal          prometheus.Counter
	BiddingClosedTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agrimarket"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		WSConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_connections_total",
				Help:      "Total number of accepted WebSocket connections",
			},
		),
		WSConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections_active",
				Help:      "Number of open WebSocket connections",
			},
		),
		WSMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Inbound WebSocket messages by type",
			},
			[]string{"type"},
		),
		WSErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_errors_total",
				Help:      "WebSocket errors by code",
			},
			[]string{"code"},
		),
		WSReconnections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_reconnections_total",
				Help:      "Connections that restored an earlier connection state",
			},
		),
		VoiceTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voice_turns_total",
				Help:      "Assistant turns by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		VoiceTurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "voice_turn_duration_seconds",
				Help:      "Assistant turn duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		BidsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_placed_total",
				Help:      "Total number of accepted bids",
			},
		),
		BiddingClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidding_closed_total",
				Help:      "Listings whose bidding window ended, by final status",
			},
			[]string{"status"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.WSConnectionsTotal,
		m.WSConnectionsActive,
		m.WSMessagesTotal,
		m.WSErrorsTotal,
		m.WSReconnections,
		m.VoiceTurnsTotal,
		m.VoiceTurnDuration,
		m.BidsTotal,
		m.BiddingClosedTotal,
		m.RateLimitHits,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The Record methods are nil-safe so callers can run without metrics.

func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordWSConnect() {
	if m == nil {
		return
	}
	m.WSConnectionsTotal.Inc()
	m.WSConnectionsActive.Inc()
}

func (m *Metrics) RecordWSDisconnect() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Dec()
}

func (m *Metrics) RecordWSMessage(msgType string) {
	if m == nil {
		return
	}
	m.WSMessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordWSError(code int) {
	if m == nil {
		return
	}
	m.WSErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) RecordWSReconnect() {
	if m == nil {
		return
	}
	m.WSReconnections.Inc()
}

func (m *Metrics) RecordVoiceTurn(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VoiceTurnsTotal.WithLabelValues(mode, outcome).Inc()
	m.VoiceTurnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordBid() {
	if m == nil {
		return
	}
	m.BidsTotal.Inc()
}

func (m *Metrics) RecordBiddingClosed(status string) {
	if m == nil {
		return
	}
	m.BiddingClosedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
