// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concierge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	// Realtime hub
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "concierge_live_connections",
			Help: "Open realtime connections",
		},
	)

	LiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "concierge_live_rooms",
			Help: "Session rooms with at least one member",
		},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_messages_published_total",
			Help: "Chat messages persisted and fanned out",
		},
		[]string{"source"},
	)

	// Answer resolution
	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_answers_total",
			Help: "Resolved answers by source",
		},
		[]string{"source"}, // "knowledge", "generator", "fallback"
	)

	RelayChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concierge_relay_chunks_total",
			Help: "Content chunks re-emitted from upstream streams",
		},
	)

	RelayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_relay_failures_total",
			Help: "Upstream streams that ended in error",
		},
		[]string{"reason"}, // "read", "idle"
	)

	// Escalation
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concierge_escalations_total",
			Help: "Support requests recorded",
		},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_notify_failures_total",
			Help: "Operator notifications that could not be delivered",
		},
		[]string{"target"}, // "broadcast", "external"
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
