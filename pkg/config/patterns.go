package config

import "time"

// DLQConfig contains the dead-letter pattern defaults. The claim
// parameters seed the per-stream runtime registry and can be changed per
// stream over the HTTP surface.
type DLQConfig struct {
	// Stream is the demo input log.
	Stream string `yaml:"stream"`

	// Group is the consumer group the pattern reads with.
	Group string `yaml:"group"`

	// Consumer is the default consumer name for single-shot operations.
	Consumer string `yaml:"consumer"`

	// MinIdle is how long an entry must sit unacked before another
	// consumer may claim it.
	MinIdle time.Duration `yaml:"min_idle"`

	// MaxDeliveries is the delivery count at which an entry is moved to
	// the dead-letter log instead of redelivered.
	MaxDeliveries int64 `yaml:"max_deliveries"`

	// Count is the claim batch size.
	Count int64 `yaml:"count"`
}

// DefaultDLQConfig returns the built-in dead-letter defaults.
func DefaultDLQConfig() *DLQConfig {
	return &DLQConfig{
		Stream:        "dlq.orders.v1",
		Group:         "dlq-group",
		Consumer:      "dlq-consumer",
		MinIdle:       100 * time.Millisecond,
		MaxDeliveries: 3,
		Count:         10,
	}
}

// WorkQueueConfig contains the competing-consumers pattern settings.
// These values control how workers poll, claim, and process entries.
type WorkQueueConfig struct {
	// Stream is the shared input log.
	Stream string `yaml:"stream"`

	// Group is the single consumer group all workers share.
	Group string `yaml:"group"`

	// WorkerCount is the number of worker goroutines competing on the
	// group.
	WorkerCount int `yaml:"worker_count"`

	// MinIdle is the idle threshold for claiming another worker's
	// pending entries.
	MinIdle time.Duration `yaml:"min_idle"`

	// MaxDeliveries is the delivery count at which an entry goes to the
	// dead-letter log.
	MaxDeliveries int64 `yaml:"max_deliveries"`

	// Batch is the per-iteration claim size.
	Batch int64 `yaml:"batch"`

	// PollInterval is the base sleep between worker iterations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`
}

// DefaultWorkQueueConfig returns the built-in work-queue defaults.
func DefaultWorkQueueConfig() *WorkQueueConfig {
	return &WorkQueueConfig{
		Stream:             "work-queue.tasks.v1",
		Group:              "work-queue-group",
		WorkerCount:        4,
		MinIdle:            100 * time.Millisecond,
		MaxDeliveries:      3,
		Batch:              10,
		PollInterval:       100 * time.Millisecond,
		PollIntervalJitter: 25 * time.Millisecond,
	}
}

// FanOutConfig contains the durable-broadcast pattern settings. Unlike
// the work queue, every worker owns a private consumer group, so each
// group observes the full input log.
type FanOutConfig struct {
	// Stream is the broadcast input log.
	Stream string `yaml:"stream"`

	// GroupPrefix names the per-worker groups: <prefix><worker index>.
	GroupPrefix string `yaml:"group_prefix"`

	// WorkerCount is the number of independent groups/workers.
	WorkerCount int `yaml:"worker_count"`

	// MinIdle is the idle threshold before redelivery within a group.
	MinIdle time.Duration `yaml:"min_idle"`

	// MaxDeliveries is the per-group delivery count at which an entry
	// goes to that group's dead-letter log.
	MaxDeliveries int64 `yaml:"max_deliveries"`

	// Batch is the per-iteration claim size.
	Batch int64 `yaml:"batch"`

	// PollInterval is the base sleep between worker iterations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`
}

// DefaultFanOutConfig returns the built-in fan-out defaults.
func DefaultFanOutConfig() *FanOutConfig {
	return &FanOutConfig{
		Stream:             "fan-out.events.v1",
		GroupPrefix:        "group-",
		WorkerCount:        4,
		MinIdle:            100 * time.Millisecond,
		MaxDeliveries:      3,
		Batch:              10,
		PollInterval:       100 * time.Millisecond,
		PollIntervalJitter: 25 * time.Millisecond,
	}
}

// TopicRoutingConfig contains the topic-exchange settings.
type TopicRoutingConfig struct {
	// Exchange is the input log rules are scoped to.
	Exchange string `yaml:"exchange"`

	// MaxRules caps the rule set per exchange.
	MaxRules int64 `yaml:"max_rules"`

	// SampleKeys are routing keys offered by the gallery UI.
	SampleKeys []string `yaml:"sample_keys"`
}

// DefaultTopicRoutingConfig returns the built-in topic-routing defaults.
func DefaultTopicRoutingConfig() *TopicRoutingConfig {
	return &TopicRoutingConfig{
		Exchange: "events.topic.v1",
		MaxRules: 50,
		SampleKeys: []string{
			"order.created.eu.v1",
			"order.vip.created",
			"order.cancelled.vip.eu.v1",
			"payment.vip.completed",
			"shipment.dispatched.us.v2",
		},
	}
}

// ContentRoutingConfig contains the content-based router's thresholds.
// Ranges are half-open: standard is [0, StandardMax), high-risk is
// [StandardMax, HighRiskMax), manual review is everything above.
type ContentRoutingConfig struct {
	// Prefix names the destination streams: <prefix>.standard,
	// <prefix>.highRisk, <prefix>.manualReview and <prefix>:dlq.
	Prefix string `yaml:"prefix"`

	// StandardMax is the exclusive upper bound of the standard range.
	StandardMax float64 `yaml:"standard_max"`

	// HighRiskMax is the exclusive upper bound of the high-risk range.
	HighRiskMax float64 `yaml:"high_risk_max"`
}

// DefaultContentRoutingConfig returns the built-in content-routing defaults.
func DefaultContentRoutingConfig() *ContentRoutingConfig {
	return &ContentRoutingConfig{
		Prefix:      "payments.v1",
		StandardMax: 100,
		HighRiskMax: 10000,
	}
}

// RequestReplyConfig contains the request/reply pattern settings.
type RequestReplyConfig struct {
	// RequestStream carries outgoing requests.
	RequestStream string `yaml:"request_stream"`

	// ResponseStream carries responses and synthesized timeouts.
	ResponseStream string `yaml:"response_stream"`

	// Group is the responder's consumer group on the request stream.
	Group string `yaml:"group"`

	// Consumer is the responder's consumer name.
	Consumer string `yaml:"consumer"`

	// DefaultTimeoutSec is the request timeout when the caller does not
	// supply one.
	DefaultTimeoutSec int64 `yaml:"default_timeout_sec"`

	// ResponderEnabled runs the built-in echo responder.
	ResponderEnabled bool `yaml:"responder_enabled"`

	// PollInterval is the responder's sleep between iterations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Batch is the responder's per-iteration read size.
	Batch int64 `yaml:"batch"`
}

// DefaultRequestReplyConfig returns the built-in request/reply defaults.
func DefaultRequestReplyConfig() *RequestReplyConfig {
	return &RequestReplyConfig{
		RequestStream:     "req-reply.requests.v1",
		ResponseStream:    "req-reply.responses.v1",
		Group:             "responders",
		Consumer:          "responder-1",
		DefaultTimeoutSec: 30,
		ResponderEnabled:  true,
		PollInterval:      100 * time.Millisecond,
		Batch:             10,
	}
}

// SchedulerConfig contains the delayed-message pattern settings.
type SchedulerConfig struct {
	// RemindersStream receives materialized due messages.
	RemindersStream string `yaml:"reminders_stream"`

	// PollInterval is the due-scan tick.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Batch is the maximum number of due items materialized per tick.
	Batch int64 `yaml:"batch"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RemindersStream: "reminders.v1",
		PollInterval:    500 * time.Millisecond,
		Batch:           10,
	}
}

// PubSubConfig contains the pattern-subscription settings.
type PubSubConfig struct {
	// Patterns are the glob subscriptions the demo listener holds.
	// "*" spans a single dot-separated segment.
	Patterns []string `yaml:"patterns"`
}

// DefaultPubSubConfig returns the built-in pub/sub defaults.
func DefaultPubSubConfig() *PubSubConfig {
	return &PubSubConfig{
		Patterns: []string{
			"orders.*",
			"payments.*.completed",
			"*.vip.*",
		},
	}
}

// MonitorConfig contains the stream-monitor settings.
type MonitorConfig struct {
	// Streams lists the logs to watch. Empty means every configured
	// pattern stream (see Config.MonitorStreams).
	Streams []string `yaml:"streams"`

	// Group is the monitor's own consumer group, created per watched
	// stream. It must never be shared with an application group.
	Group string `yaml:"group"`

	// Consumer is the monitor's consumer name.
	Consumer string `yaml:"consumer"`

	// PollInterval is the watch tick.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Batch is the per-stream read size per tick.
	Batch int64 `yaml:"batch"`
}

// DefaultMonitorConfig returns the built-in monitor defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Group:        "stream-monitor",
		Consumer:     "monitor-1",
		PollInterval: 500 * time.Millisecond,
		Batch:        10,
	}
}
