package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	RequestsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_requests_submitted_total",
			Help: "Message requests accepted for relay",
		},
	)

	FramesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_frames_delivered_total",
			Help: "new_request frames pushed to workers",
		},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_frames_received_total",
			Help: "Frames received from workers",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_frames_dropped_total",
			Help: "Worker frames dropped without effect",
		},
		[]string{"reason"}, // "malformed", "unknown_request", "invalid_transition"
	)

	WorkersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_workers_connected",
			Help: "Live worker sessions",
		},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_webhook_deliveries_total",
			Help: "Webhook delivery attempts",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	SSESubscriptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_sse_subscriptions_total",
			Help: "SSE subscriptions opened",
		},
	)
)
