// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsPublished counts realtime events handed to a channel.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Realtime events published by a channel endpoint",
		},
		[]string{"transport", "type"},
	)

	// EventsDelivered counts realtime events delivered to a subscriber endpoint.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Realtime events delivered to subscribers",
		},
		[]string{"transport", "type"},
	)

	// EventsDropped counts events that never reached a handler.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Realtime events dropped (malformed, full mailbox, handler panic)",
		},
		[]string{"transport", "reason"},
	)

	// DuplicateMessages counts inbound messages ignored because their id was known.
	DuplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_duplicate_messages_total",
			Help: "Inbound messages ignored as duplicates",
		},
	)

	// MessagesTotal tracks messages applied to conversation state.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages applied to conversation state",
		},
		[]string{"origin", "conversation_type"},
	)

	// PresencePeers tracks the number of peers in each local identity's
	// presence directory.
	PresencePeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_directory_peers",
			Help: "Peers currently visible in the presence directory",
		},
		[]string{"identity_id"},
	)

	// PresenceExpired counts directory entries evicted by the expiry sweep.
	PresenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_expired_total",
			Help: "Presence entries evicted by the expiry sweep",
		},
	)

	// PersistenceFailures counts absorbed persistence gateway failures.
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Persistence gateway failures absorbed at the boundary",
		},
		[]string{"operation"},
	)

	// LLMDuration tracks AI responder latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "AI responder request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for an AI responder call.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
