package patterns

import (
	"context"
	"log/slog"
	"sync"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// Monitor polls a set of logs with its own consumer group and turns
// every new entry into a produced event on the bus. It is observer-only:
// entries are acked immediately, so the monitor group never accumulates
// a pending list and never competes with application groups.
type Monitor struct {
	store   *store.Client
	bus     *events.Bus
	cfg     *config.MonitorConfig
	streams []string
	logger  *slog.Logger

	worker  *worker
	started bool

	mu      sync.Mutex
	ensured map[string]bool
}

// NewMonitor builds a monitor over the given streams.
func NewMonitor(st *store.Client, bus *events.Bus, cfg *config.MonitorConfig, streams []string) *Monitor {
	return &Monitor{
		store:   st,
		bus:     bus,
		cfg:     cfg,
		streams: streams,
		logger:  slog.With("pattern", "monitor"),
		ensured: make(map[string]bool),
	}
}

// Streams returns the watched stream names.
func (m *Monitor) Streams() []string {
	streams := make([]string, len(m.streams))
	copy(streams, m.streams)
	return streams
}

// Start launches the watch loop. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if m.started {
		m.logger.Warn("Monitor already started, ignoring duplicate start")
		return nil
	}
	m.worker = newWorker("stream-monitor", m.cfg.PollInterval, 0, m.pollOnce)
	m.worker.Start(ctx)
	m.started = true
	m.logger.Info("Monitor started", "streams", len(m.streams), "group", m.cfg.Group)
	return nil
}

// Stop shuts down the watch loop.
func (m *Monitor) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	m.logger.Info("Monitor stopped")
}

// Health returns the watcher snapshot, if one is running.
func (m *Monitor) Health() []WorkerHealth {
	if m.worker == nil {
		return nil
	}
	return []WorkerHealth{m.worker.Health()}
}

// pollOnce sweeps every watched stream. One failing stream does not
// block the others; the first error is returned so the worker backs off.
func (m *Monitor) pollOnce(ctx context.Context) error {
	var firstErr error
	for _, stream := range m.streams {
		if err := m.pollStream(ctx, stream); err != nil {
			m.logger.Warn("Monitor sweep failed for stream", "stream", stream, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// pollStream drains up to Batch new entries from one stream, emitting
// and acking each.
func (m *Monitor) pollStream(ctx context.Context, stream string) error {
	if err := m.ensureGroup(ctx, stream); err != nil {
		return err
	}

	entries, err := m.store.GroupRead(ctx, stream, m.cfg.Group, m.cfg.Consumer, m.cfg.Batch, 0)
	if err != nil {
		if store.IsNotFound(err) {
			// Stream deleted out from under the group; re-ensure next tick.
			m.forget(stream)
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		m.bus.Publish(events.Produced(stream, entry.ID, entry.Fields))
		ids = append(ids, entry.ID)
	}
	_, err = m.store.Ack(ctx, stream, m.cfg.Group, ids...)
	return err
}

// ensureGroup creates the monitor's group the first time a stream is
// swept. The group starts at the live end of the log; the monitor
// reports new activity, not history.
func (m *Monitor) ensureGroup(ctx context.Context, stream string) error {
	m.mu.Lock()
	ready := m.ensured[stream]
	m.mu.Unlock()
	if ready {
		return nil
	}

	if err := m.store.CreateGroup(ctx, stream, m.cfg.Group, "$"); err != nil {
		return err
	}
	m.mu.Lock()
	m.ensured[stream] = true
	m.mu.Unlock()
	return nil
}

func (m *Monitor) forget(stream string) {
	m.mu.Lock()
	delete(m.ensured, stream)
	m.mu.Unlock()
}
