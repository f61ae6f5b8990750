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

// WorkQueueEngine runs competing consumers over one shared group: each
// message is claimed by exactly one worker, retried on failure, and
// dead-lettered once its deliveries are exhausted. Successful work is
// recorded on the worker's own done log before the ack, so completion is
// observable per worker.
type WorkQueueEngine struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
	cfg     *config.WorkQueueConfig
	succeed SuccessPredicate
	logger  *slog.Logger

	workers []*worker
	started bool
}

// NewWorkQueueEngine builds the work-queue engine. A nil predicate
// selects ProcessingTypeOK.
func NewWorkQueueEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, cfg *config.WorkQueueConfig, succeed SuccessPredicate) *WorkQueueEngine {
	if succeed == nil {
		succeed = ProcessingTypeOK
	}
	return &WorkQueueEngine{
		store:   st,
		scripts: scripts,
		bus:     bus,
		cfg:     cfg,
		succeed: succeed,
		logger:  slog.With("pattern", "work-queue"),
	}
}

func workQueueConsumer(i int) string {
	return fmt.Sprintf("worker-%d", i)
}

// Start creates the shared group at the log origin and spawns the
// workers. Calling Start twice is a no-op.
func (e *WorkQueueEngine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Work queue already started, ignoring duplicate start")
		return nil
	}

	if err := e.store.CreateGroup(ctx, e.cfg.Stream, e.cfg.Group, "0"); err != nil {
		return err
	}

	for i := 0; i < e.cfg.WorkerCount; i++ {
		consumer := workQueueConsumer(i)
		w := newWorker("work-queue-"+consumer, e.cfg.PollInterval, e.cfg.PollIntervalJitter, func(ctx context.Context) error {
			return e.processBatch(ctx, consumer)
		})
		e.workers = append(e.workers, w)
		w.Start(ctx)
	}
	e.started = true
	e.logger.Info("Work queue started", "stream", e.cfg.Stream, "group", e.cfg.Group, "workers", e.cfg.WorkerCount)
	return nil
}

// Stop signals every worker and waits for in-flight iterations.
func (e *WorkQueueEngine) Stop() {
	for _, w := range e.workers {
		w.Stop()
	}
	e.logger.Info("Work queue stopped")
}

// Health returns per-worker snapshots.
func (e *WorkQueueEngine) Health() []WorkerHealth {
	stats := make([]WorkerHealth, len(e.workers))
	for i, w := range e.workers {
		stats[i] = w.Health()
	}
	return stats
}

// Produce appends a task carrying its processing marker. An empty
// processingType defaults to "OK".
func (e *WorkQueueEngine) Produce(ctx context.Context, processingType string, fields map[string]string) (string, error) {
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

// Clear deletes the queue's streams, including the dead-letter and done
// logs, and recreates the shared group at the log origin.
func (e *WorkQueueEngine) Clear(ctx context.Context) error {
	keys := []string{e.cfg.Stream, store.DLQStream(e.cfg.Stream)}
	for i := 0; i < e.cfg.WorkerCount; i++ {
		keys = append(keys, store.DoneStream(e.cfg.Stream, workQueueConsumer(i)))
	}
	if err := e.store.Delete(ctx, keys...); err != nil {
		return err
	}
	return e.store.CreateGroup(ctx, e.cfg.Stream, e.cfg.Group, "0")
}

// processBatch claims one batch for a consumer and applies the success
// predicate to each message. Failed messages are left pending on
// purpose; the next claim past the idle threshold picks them up.
func (e *WorkQueueEngine) processBatch(ctx context.Context, consumer string) error {
	cfg := ClaimConfig{
		Stream:        e.cfg.Stream,
		DLQStream:     store.DLQStream(e.cfg.Stream),
		Group:         e.cfg.Group,
		Consumer:      consumer,
		MinIdle:       e.cfg.MinIdle,
		MaxDeliveries: e.cfg.MaxDeliveries,
		Count:         e.cfg.Batch,
	}
	messages, _, err := claimBatch(ctx, e.scripts, e.bus, cfg, "work-queue")
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if !e.succeed(msg) {
			continue
		}
		if err := e.recordDone(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// recordDone appends the processed entry to the worker's done log, then
// acks it. A crash between the two repeats the done append on retry,
// which is the at-least-once contract.
func (e *WorkQueueEngine) recordDone(ctx context.Context, msg Message) error {
	done := store.DoneStream(e.cfg.Stream, msg.Consumer)
	if _, err := e.store.Append(ctx, done, msg.Fields); err != nil {
		return err
	}
	if _, err := e.store.Ack(ctx, msg.Stream, msg.Group, msg.ID); err != nil {
		return err
	}
	e.bus.Publish(events.Processed(msg.Stream, msg.Consumer, msg.ID))
	metrics.MessagesProcessed.WithLabelValues("work-queue").Inc()
	return nil
}
