// Package patterns implements the messaging pattern engines: dead-letter
// retry, work queue, fan-out, topic and content routing, request/reply,
// delayed scheduling, pub/sub and the stream monitor. Every engine leans
// on the same primitive, an atomic claim-or-dead-letter fetch executed
// server-side, and reports its activity through the event bus.
package patterns

import (
	"context"
	"log/slog"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// claimBatch runs the combined fetch and translates the result into
// messages plus the bus events and metrics every claiming engine shares.
func claimBatch(ctx context.Context, scripts *store.Scripts, bus *events.Bus, cfg ClaimConfig, pattern string) ([]Message, []store.DLQRouting, error) {
	res, err := scripts.ReadClaimOrDLQ(ctx, cfg.Stream, cfg.DLQStream, cfg.Group, cfg.Consumer, cfg.MinIdle, cfg.Count, cfg.MaxDeliveries)
	if err != nil {
		return nil, nil, err
	}

	messages := make([]Message, 0, len(res.Ready))
	for _, entry := range res.Ready {
		messages = append(messages, Message{
			ID:            entry.ID,
			Fields:        entry.Fields,
			DeliveryCount: entry.DeliveryCount,
			IsRetry:       entry.IsRetry,
			Stream:        cfg.Stream,
			Group:         cfg.Group,
			Consumer:      cfg.Consumer,
		})
		if entry.IsRetry {
			bus.Publish(events.Reclaimed(cfg.Stream, cfg.Consumer, entry.ID, entry.DeliveryCount))
			metrics.MessagesReclaimed.WithLabelValues(pattern).Inc()
		}
	}
	for _, routing := range res.Routed {
		bus.Publish(events.ToDLQ(cfg.Stream, cfg.DLQStream, routing.SourceID, routing.DLQID))
		metrics.MessagesDeadLettered.WithLabelValues(pattern).Inc()
	}
	return messages, res.Routed, nil
}

// DLQEngine exposes the dead-letter pattern to callers: producing,
// claiming with retry accounting, explicit processing verdicts, and
// inspection of the main and dead-letter logs.
type DLQEngine struct {
	store    *store.Client
	scripts  *store.Scripts
	bus      *events.Bus
	registry *ConfigRegistry
	cfg      *config.DLQConfig
	logger   *slog.Logger
}

// NewDLQEngine builds the dead-letter engine.
func NewDLQEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, registry *ConfigRegistry, cfg *config.DLQConfig) *DLQEngine {
	return &DLQEngine{
		store:    st,
		scripts:  scripts,
		bus:      bus,
		registry: registry,
		cfg:      cfg,
		logger:   slog.With("pattern", "dlq"),
	}
}

// DefaultClaim returns the claim parameters for a stream: configured
// group and consumer, registry settings for the stream, derived
// dead-letter log. An empty stream selects the configured demo stream.
func (e *DLQEngine) DefaultClaim(stream string) ClaimConfig {
	if stream == "" {
		stream = e.cfg.Stream
	}
	s := e.registry.Get(stream)
	return ClaimConfig{
		Stream:        stream,
		DLQStream:     store.DLQStream(stream),
		Group:         e.cfg.Group,
		Consumer:      e.cfg.Consumer,
		MinIdle:       s.MinIdle,
		MaxDeliveries: s.MaxDeliveries,
		Count:         s.Count,
	}
}

// Produce appends a payload to a stream. An empty stream name selects
// the configured demo stream.
func (e *DLQEngine) Produce(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if stream == "" {
		stream = e.cfg.Stream
	}
	if len(fields) == 0 {
		return "", NewValidationError("payload", "must not be empty")
	}
	return e.store.Append(ctx, stream, fields)
}

// InitGroup creates the consumer group at the log origin if missing.
func (e *DLQEngine) InitGroup(ctx context.Context, stream, group string) error {
	if stream == "" {
		stream = e.cfg.Stream
	}
	if group == "" {
		group = e.cfg.Group
	}
	return e.store.CreateGroup(ctx, stream, group, "0")
}

// GetNextMessages runs one atomic claim: exhausted entries move to the
// dead-letter log, retryable ones are claimed for the consumer, and the
// batch is topped up with fresh entries. A missing consumer group is
// created at the origin and the claim retried once.
func (e *DLQEngine) GetNextMessages(ctx context.Context, cfg ClaimConfig) ([]Message, []store.DLQRouting, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = store.DLQStream(cfg.Stream)
	}

	messages, routed, err := claimBatch(ctx, e.scripts, e.bus, cfg, "dlq")
	if store.IsNotFound(err) {
		if initErr := e.InitGroup(ctx, cfg.Stream, cfg.Group); initErr != nil {
			return nil, nil, initErr
		}
		messages, routed, err = claimBatch(ctx, e.scripts, e.bus, cfg, "dlq")
	}
	if err != nil {
		return nil, nil, err
	}
	return messages, routed, nil
}

// Acknowledge removes an entry from the group's pending list. Acking an
// id that is not pending is a no-op; the returned count says how many
// entries were actually removed.
func (e *DLQEngine) Acknowledge(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if stream == "" {
		return 0, NewValidationError("streamName", "must not be empty")
	}
	if group == "" {
		return 0, NewValidationError("groupName", "must not be empty")
	}
	if len(ids) == 0 {
		return 0, NewValidationError("ids", "must not be empty")
	}
	n, err := e.store.Ack(ctx, stream, group, ids...)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.bus.Publish(events.Deleted(stream, group, id))
	}
	return n, nil
}

// ProcessOne claims at most one message and applies the caller's
// verdict: success acks the entry and records the processing, failure
// leaves it pending so it becomes claimable again after the idle
// threshold.
func (e *DLQEngine) ProcessOne(ctx context.Context, cfg ClaimConfig, shouldSucceed bool) (*ProcessResult, error) {
	cfg.Count = 1
	messages, routed, err := e.GetNextMessages(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{DeadLettered: routed}
	if len(messages) == 0 {
		return result, nil
	}
	msg := messages[0]
	result.Processed = true
	result.Message = &msg

	if !shouldSucceed {
		e.logger.Info("Processing declined, message stays pending",
			"stream", msg.Stream, "entry_id", msg.ID, "delivery_count", msg.DeliveryCount)
		return result, nil
	}

	if _, err := e.store.Ack(ctx, msg.Stream, msg.Group, msg.ID); err != nil {
		return nil, err
	}
	result.Acked = true
	e.bus.Publish(events.Processed(msg.Stream, msg.Consumer, msg.ID))
	metrics.MessagesProcessed.WithLabelValues("dlq").Inc()
	return result, nil
}

// LatestMessages returns the newest count entries of a stream in
// ascending id order.
func (e *DLQEngine) LatestMessages(ctx context.Context, stream string, count int64) ([]store.Entry, error) {
	if stream == "" {
		stream = e.cfg.Stream
	}
	if count < 1 {
		count = e.registry.Get(stream).Count
	}
	return e.store.RevRangeLatest(ctx, stream, count)
}

// PendingView projects a group's pending-entries list in id order.
func (e *DLQEngine) PendingView(ctx context.Context, stream, group string, count int64) ([]store.PendingEntry, error) {
	if stream == "" {
		stream = e.cfg.Stream
	}
	if group == "" {
		group = e.cfg.Group
	}
	if count < 1 {
		count = e.registry.Get(stream).Count
	}
	return e.store.Pending(ctx, stream, group, 0, count)
}

// NextPending returns the oldest pending entry id, or "" when the
// pending list is empty.
func (e *DLQEngine) NextPending(ctx context.Context, stream, group string) (string, error) {
	pending, err := e.PendingView(ctx, stream, group, 1)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}
	return pending[0].ID, nil
}

// Cleanup removes the configured demo stream and its dead-letter log.
func (e *DLQEngine) Cleanup(ctx context.Context) error {
	return e.store.Delete(ctx, e.cfg.Stream, store.DLQStream(e.cfg.Stream))
}

// DeleteStream removes one stream and its dead-letter log.
func (e *DLQEngine) DeleteStream(ctx context.Context, stream string) error {
	if stream == "" {
		return NewValidationError("streamName", "must not be empty")
	}
	return e.store.Delete(ctx, stream, store.DLQStream(stream))
}
