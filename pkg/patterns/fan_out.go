package patterns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// FanOutEngine delivers every message to each of N private consumer
// groups over one shared log. Each group retries independently and owns
// its own dead-letter and done logs, so one slow or failing subscriber
// never affects the others.
type FanOutEngine struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
	cfg     *config.FanOutConfig
	succeed SuccessPredicate
	logger  *slog.Logger

	workers []*worker
	started bool
}

// NewFanOutEngine builds the fan-out engine. A nil predicate selects
// ProcessingTypeOK.
func NewFanOutEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, cfg *config.FanOutConfig, succeed SuccessPredicate) *FanOutEngine {
	if succeed == nil {
		succeed = ProcessingTypeOK
	}
	return &FanOutEngine{
		store:   st,
		scripts: scripts,
		bus:     bus,
		cfg:     cfg,
		succeed: succeed,
		logger:  slog.With("pattern", "fan-out"),
	}
}

func (e *FanOutEngine) groupName(i int) string {
	return fmt.Sprintf("%s%d", e.cfg.GroupPrefix, i)
}

// Start creates every private group at the log origin and spawns one
// worker per group. Calling Start twice is a no-op.
func (e *FanOutEngine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Fan-out already started, ignoring duplicate start")
		return nil
	}

	for i := 0; i < e.cfg.WorkerCount; i++ {
		group := e.groupName(i)
		if err := e.store.CreateGroup(ctx, e.cfg.Stream, group, "0"); err != nil {
			return err
		}
		consumer := fmt.Sprintf("worker-%d", i)
		w := newWorker("fan-out-"+group, e.cfg.PollInterval, e.cfg.PollIntervalJitter, func(ctx context.Context) error {
			return e.processBatch(ctx, group, consumer)
		})
		e.workers = append(e.workers, w)
		w.Start(ctx)
	}
	e.started = true
	e.logger.Info("Fan-out started", "stream", e.cfg.Stream, "groups", e.cfg.WorkerCount)
	return nil
}

// Stop signals every worker and waits for in-flight iterations.
func (e *FanOutEngine) Stop() {
	for _, w := range e.workers {
		w.Stop()
	}
	e.logger.Info("Fan-out stopped")
}

// Health returns per-worker snapshots.
func (e *FanOutEngine) Health() []WorkerHealth {
	stats := make([]WorkerHealth, len(e.workers))
	for i, w := range e.workers {
		stats[i] = w.Health()
	}
	return stats
}

// Produce appends an event carrying its processing marker. Every group
// will see it.
func (e *FanOutEngine) Produce(ctx context.Context, processingType string, fields map[string]string) (string, error) {
	if processingType == "" {
		processingType = "OK"
	}
	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["processingType"] = processingType
	return e.store.Append(ctx, e.cfg.Stream, merged)
}

// Clear deletes the shared log plus every group's dead-letter and done
// logs, and recreates the groups at the log origin.
func (e *FanOutEngine) Clear(ctx context.Context) error {
	keys := []string{e.cfg.Stream}
	for i := 0; i < e.cfg.WorkerCount; i++ {
		keys = append(keys,
			store.GroupDLQStream(e.cfg.Stream, e.groupName(i)),
			store.DoneStream(e.cfg.Stream, fmt.Sprintf("worker-%d", i)),
		)
	}
	if err := e.store.Delete(ctx, keys...); err != nil {
		return err
	}
	for i := 0; i < e.cfg.WorkerCount; i++ {
		if err := e.store.CreateGroup(ctx, e.cfg.Stream, e.groupName(i), "0"); err != nil {
			return err
		}
	}
	return nil
}

// processBatch claims one batch for a group's worker. The claim runs
// against the group's own pending state and dead-letter log, which is
// what isolates the groups from each other.
func (e *FanOutEngine) processBatch(ctx context.Context, group, consumer string) error {
	cfg := ClaimConfig{
		Stream:        e.cfg.Stream,
		DLQStream:     store.GroupDLQStream(e.cfg.Stream, group),
		Group:         group,
		Consumer:      consumer,
		MinIdle:       e.cfg.MinIdle,
		MaxDeliveries: e.cfg.MaxDeliveries,
		Count:         e.cfg.Batch,
	}
	messages, _, err := claimBatch(ctx, e.scripts, e.bus, cfg, "fan-out")
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if !e.succeed(msg) {
			continue
		}
		done := store.DoneStream(e.cfg.Stream, msg.Consumer)
		if _, err := e.store.Append(ctx, done, msg.Fields); err != nil {
			return err
		}
		if _, err := e.store.Ack(ctx, msg.Stream, msg.Group, msg.ID); err != nil {
			return err
		}
		e.bus.Publish(events.Processed(msg.Stream, msg.Consumer, msg.ID))
		metrics.MessagesProcessed.WithLabelValues("fan-out").Inc()
	}
	return nil
}
