package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gobwas/glob"
	"github.com/redis/go-redis/v9"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// PubSubEngine implements fire-and-forget channel publishing plus a
// demo pattern subscriber. Deliveries exist only for the subscribers
// connected at publish time; nothing is stored or retried.
type PubSubEngine struct {
	store  *store.Client
	bus    *events.Bus
	cfg    *config.PubSubConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewPubSubEngine builds the pub/sub engine.
func NewPubSubEngine(st *store.Client, bus *events.Bus, cfg *config.PubSubConfig) *PubSubEngine {
	return &PubSubEngine{
		store:  st,
		bus:    bus,
		cfg:    cfg,
		logger: slog.With("pattern", "pubsub"),
		stopCh: make(chan struct{}),
	}
}

// Patterns returns the configured subscription patterns.
func (e *PubSubEngine) Patterns() []string {
	patterns := make([]string, len(e.cfg.Patterns))
	copy(patterns, e.cfg.Patterns)
	return patterns
}

// Publish sends a payload to one channel and reports how many
// subscribers received it. Zero subscribers is not an error; the message
// is simply gone.
func (e *PubSubEngine) Publish(ctx context.Context, channel, payload string) (int64, error) {
	if channel == "" {
		return 0, NewValidationError("channel", "must not be empty")
	}
	n, err := e.store.Publish(ctx, channel, payload)
	if err != nil {
		return 0, err
	}
	e.bus.Publish(events.InfoFor(channel, fmt.Sprintf("Published to %d subscriber(s)", n), map[string]string{
		"channel": channel,
	}))
	return n, nil
}

// PublishRouted publishes to the channel named by the routing key:
// topic-style pub/sub where subscribers pick messages with patterns
// instead of the broker holding a rule table.
func (e *PubSubEngine) PublishRouted(ctx context.Context, routingKey, payload string) (int64, error) {
	if routingKey == "" {
		return 0, NewValidationError("routingKey", "must not be empty")
	}
	return e.Publish(ctx, routingKey, payload)
}

// Start compiles the configured patterns and opens the demo
// subscription. Calling Start twice is a no-op.
func (e *PubSubEngine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Pub/sub engine already started, ignoring duplicate start")
		return nil
	}
	e.started = true

	if len(e.cfg.Patterns) == 0 {
		e.logger.Info("No subscription patterns configured")
		return nil
	}

	matchers := make(map[string]glob.Glob, len(e.cfg.Patterns))
	for _, pattern := range e.cfg.Patterns {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return NewValidationError("patterns", fmt.Sprintf("invalid pattern %q", pattern))
		}
		matchers[pattern] = g
	}

	sub := e.store.PSubscribe(ctx, e.cfg.Patterns...)
	e.wg.Add(1)
	go e.runSubscriber(ctx, sub, matchers)
	return nil
}

// Stop closes the subscription and waits for the delivery loop.
func (e *PubSubEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.logger.Info("Pub/sub engine stopped")
}

// runSubscriber forwards matched deliveries to the event bus. The
// server's pattern match is a superset of the dot-segmented semantics
// ("*" there crosses separators), so every delivery is re-checked with
// the compiled glob before fan-out.
func (e *PubSubEngine) runSubscriber(ctx context.Context, sub *redis.PubSub, matchers map[string]glob.Glob) {
	defer e.wg.Done()
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()

	e.logger.Info("Pattern subscriber started", "patterns", len(matchers))
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				e.logger.Warn("Pattern subscription closed")
				return
			}
			g, ok := matchers[msg.Pattern]
			if !ok || !g.Match(msg.Channel) {
				continue
			}
			e.bus.Publish(events.InfoFor(msg.Channel, "Pattern subscription delivery", map[string]string{
				"pattern": msg.Pattern,
				"payload": msg.Payload,
			}))
		}
	}
}
