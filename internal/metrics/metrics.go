package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cochat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cochat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	// Transcript metrics
	MessagesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cochat_messages_committed_total",
			Help: "Messages durably written to the transcript",
		},
		[]string{"role"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cochat_publish_failures_total",
			Help: "Fan-out publishes that failed after a successful write",
		},
		[]string{"type"},
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cochat_subscriber_events_dropped_total",
			Help: "Events dropped because a subscriber's buffer was full",
		},
		[]string{"type"},
	)

	// Relay metrics
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cochat_completions_total",
			Help: "Completion relays by terminal outcome",
		},
		[]string{"outcome"}, // "committed", "errored", "cancelled", "timeout"
	)

	FragmentsForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cochat_fragments_forwarded_total",
			Help: "Completion fragments forwarded to requesters",
		},
	)

	// Subscription metrics
	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cochat_active_subscribers",
			Help: "Websocket connections subscribed to a workspace topic",
		},
	)
)
