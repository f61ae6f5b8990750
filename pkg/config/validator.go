package config

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateStore(); err != nil {
		return err
	}
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateEvents(); err != nil {
		return err
	}
	if err := v.validateDLQ(); err != nil {
		return err
	}
	if err := v.validateWorkQueue(); err != nil {
		return err
	}
	if err := v.validateFanOut(); err != nil {
		return err
	}
	if err := v.validateTopicRouting(); err != nil {
		return err
	}
	if err := v.validateContentRouting(); err != nil {
		return err
	}
	if err := v.validateRequestReply(); err != nil {
		return err
	}
	if err := v.validateScheduler(); err != nil {
		return err
	}
	if err := v.validatePubSub(); err != nil {
		return err
	}
	return v.validateMonitor()
}

func (v *ConfigValidator) validateStore() error {
	s := v.cfg.Store
	if s.Addr == "" {
		return NewValidationError("store", "addr", fmt.Errorf("must not be empty"))
	}
	if s.DB < 0 {
		return NewValidationError("store", "db", fmt.Errorf("must be non-negative"))
	}
	if s.PoolSize < 1 {
		return NewValidationError("store", "pool_size", fmt.Errorf("must be at least 1"))
	}
	if s.MinIdleConns < 0 {
		return NewValidationError("store", "min_idle_conns", fmt.Errorf("must be non-negative"))
	}
	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"pool_timeout", s.PoolTimeout},
		{"dial_timeout", s.DialTimeout},
		{"read_timeout", s.ReadTimeout},
		{"write_timeout", s.WriteTimeout},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return NewValidationError("store", t.field, fmt.Errorf("must be positive"))
		}
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("must be in [1, 65535]"))
	}
	if s.ShutdownTimeout <= 0 {
		return NewValidationError("server", "shutdown_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateEvents() error {
	if v.cfg.Events.SinkBuffer < 1 {
		return NewValidationError("events", "sink_buffer", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateDLQ() error {
	d := v.cfg.DLQ
	if d.Stream == "" {
		return NewValidationError("dlq", "stream", fmt.Errorf("must not be empty"))
	}
	if d.Group == "" {
		return NewValidationError("dlq", "group", fmt.Errorf("must not be empty"))
	}
	if d.Consumer == "" {
		return NewValidationError("dlq", "consumer", fmt.Errorf("must not be empty"))
	}
	if d.MinIdle < 0 {
		return NewValidationError("dlq", "min_idle", fmt.Errorf("must be non-negative"))
	}
	if d.MaxDeliveries < 1 {
		return NewValidationError("dlq", "max_deliveries", fmt.Errorf("must be at least 1"))
	}
	if d.Count < 1 {
		return NewValidationError("dlq", "count", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateWorkQueue() error {
	w := v.cfg.WorkQueue
	if w.Stream == "" {
		return NewValidationError("work_queue", "stream", fmt.Errorf("must not be empty"))
	}
	if w.Group == "" {
		return NewValidationError("work_queue", "group", fmt.Errorf("must not be empty"))
	}
	return validateWorkerPool("work_queue", w.WorkerCount, w.MaxDeliveries, w.Batch, w.MinIdle, w.PollInterval, w.PollIntervalJitter)
}

func (v *ConfigValidator) validateFanOut() error {
	f := v.cfg.FanOut
	if f.Stream == "" {
		return NewValidationError("fan_out", "stream", fmt.Errorf("must not be empty"))
	}
	if f.GroupPrefix == "" {
		return NewValidationError("fan_out", "group_prefix", fmt.Errorf("must not be empty"))
	}
	return validateWorkerPool("fan_out", f.WorkerCount, f.MaxDeliveries, f.Batch, f.MinIdle, f.PollInterval, f.PollIntervalJitter)
}

// validateWorkerPool checks the knobs the work-queue and fan-out pools share.
func validateWorkerPool(section string, workers int, maxDeliveries, batch int64, minIdle, interval, jitter time.Duration) error {
	if workers < 1 {
		return NewValidationError(section, "worker_count", fmt.Errorf("must be at least 1"))
	}
	if maxDeliveries < 1 {
		return NewValidationError(section, "max_deliveries", fmt.Errorf("must be at least 1"))
	}
	if batch < 1 {
		return NewValidationError(section, "batch", fmt.Errorf("must be at least 1"))
	}
	if minIdle < 0 {
		return NewValidationError(section, "min_idle", fmt.Errorf("must be non-negative"))
	}
	if interval <= 0 {
		return NewValidationError(section, "poll_interval", fmt.Errorf("must be positive"))
	}
	if jitter < 0 {
		return NewValidationError(section, "poll_interval_jitter", fmt.Errorf("must be non-negative"))
	}
	if jitter >= interval {
		return NewValidationError(section, "poll_interval_jitter", fmt.Errorf("must be less than poll_interval"))
	}
	return nil
}

func (v *ConfigValidator) validateTopicRouting() error {
	t := v.cfg.TopicRouting
	if t.Exchange == "" {
		return NewValidationError("topic_routing", "exchange", fmt.Errorf("must not be empty"))
	}
	if t.MaxRules < 1 {
		return NewValidationError("topic_routing", "max_rules", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateContentRouting() error {
	c := v.cfg.ContentRouting
	if c.Prefix == "" {
		return NewValidationError("content_routing", "prefix", fmt.Errorf("must not be empty"))
	}
	if c.StandardMax <= 0 {
		return NewValidationError("content_routing", "standard_max", fmt.Errorf("must be positive"))
	}
	if c.HighRiskMax <= c.StandardMax {
		return NewValidationError("content_routing", "high_risk_max", fmt.Errorf("must be greater than standard_max"))
	}
	return nil
}

func (v *ConfigValidator) validateRequestReply() error {
	r := v.cfg.RequestReply
	if r.RequestStream == "" {
		return NewValidationError("request_reply", "request_stream", fmt.Errorf("must not be empty"))
	}
	if r.ResponseStream == "" {
		return NewValidationError("request_reply", "response_stream", fmt.Errorf("must not be empty"))
	}
	if r.RequestStream == r.ResponseStream {
		return NewValidationError("request_reply", "response_stream", fmt.Errorf("must differ from request_stream"))
	}
	if r.Group == "" {
		return NewValidationError("request_reply", "group", fmt.Errorf("must not be empty"))
	}
	if r.Consumer == "" {
		return NewValidationError("request_reply", "consumer", fmt.Errorf("must not be empty"))
	}
	if r.DefaultTimeoutSec < 1 {
		return NewValidationError("request_reply", "default_timeout_sec", fmt.Errorf("must be at least 1"))
	}
	if r.PollInterval <= 0 {
		return NewValidationError("request_reply", "poll_interval", fmt.Errorf("must be positive"))
	}
	if r.Batch < 1 {
		return NewValidationError("request_reply", "batch", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.RemindersStream == "" {
		return NewValidationError("scheduler", "reminders_stream", fmt.Errorf("must not be empty"))
	}
	if s.PollInterval <= 0 {
		return NewValidationError("scheduler", "poll_interval", fmt.Errorf("must be positive"))
	}
	if s.Batch < 1 {
		return NewValidationError("scheduler", "batch", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validatePubSub() error {
	for _, pattern := range v.cfg.PubSub.Patterns {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return NewValidationError("pubsub", "patterns", fmt.Errorf("invalid pattern %q: %v", pattern, err))
		}
	}
	return nil
}

func (v *ConfigValidator) validateMonitor() error {
	m := v.cfg.Monitor
	if m.Group == "" {
		return NewValidationError("monitor", "group", fmt.Errorf("must not be empty"))
	}
	if m.Consumer == "" {
		return NewValidationError("monitor", "consumer", fmt.Errorf("must not be empty"))
	}
	if m.PollInterval <= 0 {
		return NewValidationError("monitor", "poll_interval", fmt.Errorf("must be positive"))
	}
	if m.Batch < 1 {
		return NewValidationError("monitor", "batch", fmt.Errorf("must be at least 1"))
	}
	for _, stream := range m.Streams {
		if stream == "" {
			return NewValidationError("monitor", "streams", fmt.Errorf("stream names must not be empty"))
		}
	}
	return nil
}
