package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/store"
)

func requestReplyTestConfig(t *testing.T) *config.RequestReplyConfig {
	return &config.RequestReplyConfig{
		RequestStream:     uniqueName(t, "requests"),
		ResponseStream:    uniqueName(t, "responses"),
		Group:             "responders",
		Consumer:          "responder-1",
		DefaultTimeoutSec: 30,
		ResponderEnabled:  true,
		PollInterval:      20 * time.Millisecond,
		Batch:             10,
	}
}

func TestRequestReplyEngine_SendValidation(t *testing.T) {
	engine := NewRequestReplyEngine(nil, nil, events.NewBus(4), requestReplyTestConfig(t))

	_, err := engine.Send(context.Background(), SendRequest{TimeoutSec: -1})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = engine.Respond(context.Background(), "", "biz", nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRequestReplyEngine_EchoRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	cfg := requestReplyTestConfig(t)
	engine := NewRequestReplyEngine(deps.store, deps.scripts, deps.bus, cfg)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	res, err := engine.Send(ctx, SendRequest{
		BusinessID: "order-7",
		Payload:    map[string]any{"question": "total?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order-7", res.BusinessID)
	assert.Equal(t, int64(30), res.TimeoutSec)
	assert.NotEmpty(t, res.CorrelationID)
	assert.NotEmpty(t, res.RequestID)

	var reply store.Entry
	require.Eventually(t, func() bool {
		entries, err := engine.Responses(ctx, 10)
		if err != nil {
			return false
		}
		for _, entry := range entries {
			if entry.Fields["correlationId"] == res.CorrelationID {
				reply = entry
				return true
			}
		}
		return false
	}, 10*time.Second, 25*time.Millisecond, "responder should echo the request")

	assert.Equal(t, "OK", reply.Fields["status"])
	assert.Equal(t, "order-7", reply.Fields["businessId"])
	assert.Equal(t, "total?", reply.Fields["question"], "request payload echoes back")

	// The response disarmed the timeout, so no marker is left to expire.
	_, err = deps.store.Get(ctx, store.TimeoutKey(res.CorrelationID))
	assert.True(t, store.IsNotFound(err))
}

func TestRequestReplyEngine_TimeoutSynthesis(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	cfg := requestReplyTestConfig(t)
	engine := NewRequestReplyEngine(deps.store, deps.scripts, deps.bus, cfg)

	// Expired-key events only flow once keyspace notifications are on.
	require.NoError(t, deps.store.EnableKeyEventNotifications(ctx))
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	res, err := engine.Send(ctx, SendRequest{
		BusinessID:      "order-9",
		TimeoutSec:      1,
		SimulateTimeout: true,
	})
	require.NoError(t, err)

	var synthesized store.Entry
	require.Eventually(t, func() bool {
		entries, err := engine.Responses(ctx, 10)
		if err != nil {
			return false
		}
		for _, entry := range entries {
			if entry.Fields["correlationId"] == res.CorrelationID {
				synthesized = entry
				return true
			}
		}
		return false
	}, 15*time.Second, 50*time.Millisecond, "expiration should synthesize a response")

	assert.Equal(t, "TIMEOUT", synthesized.Fields["status"])
	assert.Equal(t, "order-9", synthesized.Fields["businessId"])

	// Synthesis consumes the shadow.
	shadow, err := deps.store.HashGetAll(ctx, store.TimeoutShadowKey(res.CorrelationID))
	require.NoError(t, err)
	assert.Empty(t, shadow)

	// The simulated request itself was acked, not left pending.
	require.Eventually(t, func() bool {
		pending, err := deps.store.Pending(ctx, cfg.RequestStream, cfg.Group, 0, 10)
		return err == nil && len(pending) == 0
	}, 10*time.Second, 50*time.Millisecond)
}

func TestRequestReplyEngine_ManualRespond(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	cfg := requestReplyTestConfig(t)
	cfg.ResponderEnabled = false
	engine := NewRequestReplyEngine(deps.store, deps.scripts, deps.bus, cfg)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()
	assert.Nil(t, engine.Health(), "no responder, no worker snapshot")

	res, err := engine.Send(ctx, SendRequest{BusinessID: "inv-1", Payload: map[string]any{"total": "42"}})
	require.NoError(t, err)

	id, err := engine.Respond(ctx, res.CorrelationID, res.BusinessID, map[string]any{"status": "OK", "approved": "yes"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := engine.Responses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.CorrelationID, entries[0].Fields["correlationId"])
	assert.Equal(t, "yes", entries[0].Fields["approved"])

	_, err = deps.store.Get(ctx, store.TimeoutKey(res.CorrelationID))
	assert.True(t, store.IsNotFound(err))
}
