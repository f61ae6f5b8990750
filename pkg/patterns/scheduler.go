package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// ScheduledMessage is one delayed message: stored as a payload hash plus
// an index entry scored by due time, and appended to the reminders log
// once due.
type ScheduledMessage struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ScheduledFor int64  `json:"scheduledFor"` // epoch milliseconds
	CreatedAt    int64  `json:"createdAt"`    // epoch milliseconds
}

func (m *ScheduledMessage) fields() map[string]string {
	return map[string]string{
		"id":           m.ID,
		"title":        m.Title,
		"description":  m.Description,
		"scheduledFor": strconv.FormatInt(m.ScheduledFor, 10),
		"createdAt":    strconv.FormatInt(m.CreatedAt, 10),
	}
}

func scheduledFromFields(id string, fields map[string]string) *ScheduledMessage {
	msg := &ScheduledMessage{
		ID:          id,
		Title:       fields["title"],
		Description: fields["description"],
	}
	msg.ScheduledFor, _ = strconv.ParseInt(fields["scheduledFor"], 10, 64)
	msg.CreatedAt, _ = strconv.ParseInt(fields["createdAt"], 10, 64)
	return msg
}

// SchedulerEngine stores delayed messages and materializes them onto the
// reminders log when their time comes. The due scan is a poll over the
// score index; each due item moves atomically, so a crash mid-sweep
// re-runs cleanly.
type SchedulerEngine struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
	cfg     *config.SchedulerConfig
	logger  *slog.Logger

	poller  *worker
	started bool
}

// NewSchedulerEngine builds the scheduler.
func NewSchedulerEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, cfg *config.SchedulerConfig) *SchedulerEngine {
	return &SchedulerEngine{
		store:   st,
		scripts: scripts,
		bus:     bus,
		cfg:     cfg,
		logger:  slog.With("pattern", "scheduler"),
	}
}

// Start launches the due-scan poller. Calling Start twice is a no-op.
func (e *SchedulerEngine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Scheduler already started, ignoring duplicate start")
		return nil
	}
	e.poller = newWorker("scheduler-poller", e.cfg.PollInterval, 0, e.pollDue)
	e.poller.Start(ctx)
	e.started = true
	e.logger.Info("Scheduler started", "reminders_stream", e.cfg.RemindersStream, "poll_interval", e.cfg.PollInterval)
	return nil
}

// Stop shuts down the poller.
func (e *SchedulerEngine) Stop() {
	if e.poller != nil {
		e.poller.Stop()
	}
	e.logger.Info("Scheduler stopped")
}

// Health returns the poller snapshot, if one is running.
func (e *SchedulerEngine) Health() []WorkerHealth {
	if e.poller == nil {
		return nil
	}
	return []WorkerHealth{e.poller.Health()}
}

// Schedule validates and stores one delayed message. The due time must
// be in the future.
func (e *SchedulerEngine) Schedule(ctx context.Context, title, description string, scheduledFor int64) (*ScheduledMessage, error) {
	if title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	now := time.Now().UnixMilli()
	if scheduledFor <= now {
		return nil, NewValidationError("scheduledFor", "must be in the future")
	}

	msg := &ScheduledMessage{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
	}
	if err := e.store.SetHashWithIndex(ctx,
		store.ScheduledHashKey(msg.ID), msg.fields(),
		store.ScheduledIndexKey, float64(msg.ScheduledFor), store.ScheduledMember(msg.ID),
	); err != nil {
		return nil, err
	}
	e.logger.Info("Message scheduled", "id", msg.ID, "scheduled_for", msg.ScheduledFor)
	return msg, nil
}

// List returns every pending scheduled message in due order.
func (e *SchedulerEngine) List(ctx context.Context) ([]ScheduledMessage, error) {
	members, err := e.store.IndexRangeByScore(ctx, store.ScheduledIndexKey, "-inf", "+inf", -1)
	if err != nil {
		return nil, err
	}

	messages := make([]ScheduledMessage, 0, len(members))
	for _, member := range members {
		id, ok := store.ScheduledIDFromMember(member)
		if !ok {
			continue
		}
		fields, err := e.store.HashGetAll(ctx, store.ScheduledHashKey(id))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			// Materialized between the index read and here.
			continue
		}
		messages = append(messages, *scheduledFromFields(id, fields))
	}
	return messages, nil
}

// Get returns one scheduled message by id.
func (e *SchedulerEngine) Get(ctx context.Context, id string) (*ScheduledMessage, error) {
	if id == "" {
		return nil, NewValidationError("id", "must not be empty")
	}
	fields, err := e.store.HashGetAll(ctx, store.ScheduledHashKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("scheduled message %q: %w", id, ErrNotFound)
	}
	return scheduledFromFields(id, fields), nil
}

// Update rewrites a message and re-scores its index entry in one
// transaction. The new due time must be in the future.
func (e *SchedulerEngine) Update(ctx context.Context, id, title, description string, scheduledFor int64) (*ScheduledMessage, error) {
	existing, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	if scheduledFor <= time.Now().UnixMilli() {
		return nil, NewValidationError("scheduledFor", "must be in the future")
	}

	msg := &ScheduledMessage{
		ID:           id,
		Title:        title,
		Description:  description,
		ScheduledFor: scheduledFor,
		CreatedAt:    existing.CreatedAt,
	}
	if err := e.store.SetHashWithIndex(ctx,
		store.ScheduledHashKey(id), msg.fields(),
		store.ScheduledIndexKey, float64(scheduledFor), store.ScheduledMember(id),
	); err != nil {
		return nil, err
	}
	e.logger.Info("Scheduled message updated", "id", id, "scheduled_for", scheduledFor)
	return msg, nil
}

// Delete removes a message and its index entry.
func (e *SchedulerEngine) Delete(ctx context.Context, id string) error {
	if _, err := e.Get(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteHashWithIndex(ctx, store.ScheduledHashKey(id), store.ScheduledIndexKey, store.ScheduledMember(id))
}

// Clear removes every scheduled message and the index.
func (e *SchedulerEngine) Clear(ctx context.Context) error {
	members, err := e.store.IndexRangeByScore(ctx, store.ScheduledIndexKey, "-inf", "+inf", -1)
	if err != nil {
		return err
	}
	keys := []string{store.ScheduledIndexKey}
	for _, member := range members {
		if id, ok := store.ScheduledIDFromMember(member); ok {
			keys = append(keys, store.ScheduledHashKey(id))
		}
	}
	return e.store.Delete(ctx, keys...)
}

// pollDue materializes messages whose time has come, oldest first.
func (e *SchedulerEngine) pollDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := e.store.IndexRangeByScore(ctx, store.ScheduledIndexKey, "-inf", now, e.cfg.Batch)
	if err != nil {
		return err
	}

	for _, member := range members {
		id, ok := store.ScheduledIDFromMember(member)
		if !ok {
			// Junk member; drop it or the scan revisits it forever.
			e.logger.Warn("Removing malformed index member", "member", member)
			if _, err := e.store.IndexRemove(ctx, store.ScheduledIndexKey, member); err != nil {
				return err
			}
			continue
		}

		entryID, materialized, err := e.scripts.MaterializeDue(ctx,
			store.ScheduledIndexKey, store.ScheduledHashKey(id), e.cfg.RemindersStream, member)
		if err != nil {
			return err
		}
		if !materialized {
			continue
		}

		metrics.SchedulesMaterialized.Inc()
		e.bus.Publish(events.InfoFor(e.cfg.RemindersStream, "Scheduled message materialized", map[string]string{
			"scheduledId": id,
			"entryId":     entryID,
		}))
		e.logger.Info("Scheduled message materialized", "id", id, "entry_id", entryID)
	}
	return nil
}
