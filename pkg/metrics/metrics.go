// Package metrics defines the process-wide Prometheus collectors. They are
// registered on the default registry and exposed by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events published to the in-process bus.
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streampatterns_events_published_total",
		Help: "Events published to the in-process event bus.",
	})

	// EventsDropped counts events evicted by saturated sinks (drop-oldest).
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streampatterns_events_dropped_total",
		Help: "Events dropped because a sink buffer was full.",
	})

	// MessagesProcessed counts entries acknowledged after successful processing.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streampatterns_messages_processed_total",
		Help: "Entries processed and acknowledged, by pattern.",
	}, []string{"pattern"})

	// MessagesReclaimed counts redeliveries of pending entries.
	MessagesReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streampatterns_messages_reclaimed_total",
		Help: "Pending entries reclaimed for retry, by pattern.",
	}, []string{"pattern"})

	// MessagesDeadLettered counts entries routed to a dead-letter log.
	MessagesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streampatterns_messages_dead_lettered_total",
		Help: "Entries routed to a dead-letter log, by pattern.",
	}, []string{"pattern"})

	// MessagesRouted counts destination copies appended by routing patterns.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streampatterns_messages_routed_total",
		Help: "Destination copies appended by routing, by pattern.",
	}, []string{"pattern"})

	// SchedulesMaterialized counts scheduled messages delivered to the output log.
	SchedulesMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streampatterns_schedules_materialized_total",
		Help: "Scheduled messages materialized to the output log.",
	})

	// RequestTimeouts counts synthesized timeout responses.
	RequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streampatterns_request_timeouts_total",
		Help: "Request/reply exchanges completed by a synthesized timeout.",
	})

	// StoreConnectRetries counts store connection attempts retried with backoff.
	StoreConnectRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streampatterns_store_connect_retries_total",
		Help: "Store connection attempts retried with backoff.",
	})

	// WebsocketConnections tracks currently connected telemetry clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streampatterns_websocket_connections",
		Help: "Currently connected WebSocket telemetry clients.",
	})
)
