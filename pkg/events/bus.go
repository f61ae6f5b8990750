package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/streampatterns/streampatterns/pkg/metrics"
)

// DefaultSinkBuffer is the per-sink buffer used when a subscriber does not
// ask for a specific size.
const DefaultSinkBuffer = 256

// SubscribeOptions configures one sink.
type SubscribeOptions struct {
	// BufferSize bounds the sink's queue; zero means DefaultSinkBuffer.
	BufferSize int

	// StreamFilter narrows delivery to events whose StreamName matches this
	// glob. Segments are '.'-separated and '*' spans a single segment.
	// Events without a stream name (INFO, ERROR) always pass.
	StreamFilter string
}

// Subscription is one registered sink. The event channel is never closed;
// after Unsubscribe the sink simply stops receiving.
type Subscription struct {
	id      string
	pattern string
	filter  glob.Glob
	ch      chan Event
	dropped atomic.Int64
}

// ID identifies the sink in logs.
func (s *Subscription) ID() string { return s.id }

// Events is the sink's receive side.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports how many events this sink has lost to overflow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// deliver enqueues without ever blocking: a full buffer evicts the oldest
// event to make room.
func (s *Subscription) deliver(evt Event) {
	if s.filter != nil && evt.StreamName != "" && !s.filter.Match(evt.StreamName) {
		return
	}

	select {
	case s.ch <- evt:
		return
	default:
	}

	// Full: evict the oldest, then try once more. A reader racing the
	// eviction can make the retry fail too; one event is lost either way.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}

	dropped := s.dropped.Add(1)
	metrics.EventsDropped.Inc()
	slog.Warn("Event sink overflow, dropped oldest",
		"sink_id", s.id,
		"event_type", evt.EventType,
		"dropped_total", dropped)
}

// Bus broadcasts events to all subscribed sinks. The sink set is
// copy-on-write: Publish reads an immutable snapshot and never contends
// with subscribe/unsubscribe.
type Bus struct {
	mu            sync.Mutex // serializes sink-set mutations
	subs          atomic.Pointer[[]*Subscription]
	defaultBuffer int
}

// NewBus builds a bus; defaultBuffer <= 0 selects DefaultSinkBuffer.
func NewBus(defaultBuffer int) *Bus {
	if defaultBuffer <= 0 {
		defaultBuffer = DefaultSinkBuffer
	}
	b := &Bus{defaultBuffer: defaultBuffer}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)
	return b
}

// Subscribe registers a sink and returns its subscription.
func (b *Bus) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	var filter glob.Glob
	if opts.StreamFilter != "" {
		compiled, err := glob.Compile(opts.StreamFilter, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid stream filter %q: %w", opts.StreamFilter, err)
		}
		filter = compiled
	}

	size := opts.BufferSize
	if size <= 0 {
		size = b.defaultBuffer
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: opts.StreamFilter,
		filter:  filter,
		ch:      make(chan Event, size),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]*Subscription, len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	b.subs.Store(&next)

	slog.Debug("Event sink subscribed",
		"sink_id", sub.id,
		"buffer", size,
		"filter", opts.StreamFilter)
	return sub, nil
}

// Unsubscribe removes a sink. In-flight publishes against the previous
// snapshot may still deliver a final event; the sink's channel stays open.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]*Subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)

	slog.Debug("Event sink unsubscribed", "sink_id", sub.id, "dropped_total", sub.Dropped())
}

// Publish fans an event out to every sink. Safe on a nil bus, which makes
// telemetry optional for library-style use.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp == "" {
		evt.Timestamp = now()
	}

	metrics.EventsPublished.Inc()
	for _, sub := range *b.subs.Load() {
		sub.deliver(evt)
	}
}

// SinkCount reports the number of registered sinks.
func (b *Bus) SinkCount() int {
	if b == nil {
		return 0
	}
	return len(*b.subs.Load())
}
