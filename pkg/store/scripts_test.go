package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScripts(t *testing.T) (*Client, *Scripts) {
	client := newTestClient(t)
	scripts := NewScripts(client)
	require.NoError(t, scripts.Load(context.Background()))
	return client, scripts
}

func TestScripts_LoadIdempotent(t *testing.T) {
	_, scripts := newTestScripts(t)
	require.NoError(t, scripts.Load(context.Background()))
	require.NoError(t, scripts.Load(context.Background()))
}

func TestScripts_ReadClaimOrDLQ_LifecycleToDeadLetter(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	main := testStream(t, "dlq.main")
	dlq := DLQStream(main)

	require.NoError(t, client.CreateGroup(ctx, main, "g", "0"))
	srcID, err := client.Append(ctx, main, map[string]string{"orderId": "42", "status": "created"})
	require.NoError(t, err)

	// First fetch: delivered fresh.
	res, err := scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 3)
	require.NoError(t, err)
	require.Len(t, res.Ready, 1)
	assert.Empty(t, res.Routed)
	assert.False(t, res.Ready[0].IsRetry)
	assert.Equal(t, int64(1), res.Ready[0].DeliveryCount)
	assert.Equal(t, srcID, res.Ready[0].ID)

	// Never acked: two more fetches redeliver it as a retry.
	for want := int64(2); want <= 3; want++ {
		res, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 3)
		require.NoError(t, err)
		require.Len(t, res.Ready, 1)
		assert.True(t, res.Ready[0].IsRetry)
		assert.Equal(t, want, res.Ready[0].DeliveryCount)
	}

	// Delivery count reached the cap: next fetch dead-letters instead.
	res, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, res.Ready)
	require.Len(t, res.Routed, 1)
	assert.Equal(t, srcID, res.Routed[0].SourceID)
	assert.NotEmpty(t, res.Routed[0].DLQID)

	// The dead-letter copy keeps the original fields verbatim.
	copies, err := client.Range(ctx, dlq, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, map[string]string{"orderId": "42", "status": "created"}, copies[0].Fields)

	// The entry is gone from the group's view: nothing left to fetch.
	res, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, res.Ready)
	assert.Empty(t, res.Routed)
}

func TestScripts_ReadClaimOrDLQ_RetriesBeforeFresh(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	main := testStream(t, "dlq.order")
	dlq := DLQStream(main)

	require.NoError(t, client.CreateGroup(ctx, main, "g", "0"))
	oldID, err := client.Append(ctx, main, map[string]string{"n": "old"})
	require.NoError(t, err)

	// Deliver once without acking so it becomes pending.
	_, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 5)
	require.NoError(t, err)

	newID, err := client.Append(ctx, main, map[string]string{"n": "new"})
	require.NoError(t, err)

	res, err := scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 10, 5)
	require.NoError(t, err)
	require.Len(t, res.Ready, 2)
	assert.Equal(t, oldID, res.Ready[0].ID)
	assert.True(t, res.Ready[0].IsRetry)
	assert.Equal(t, newID, res.Ready[1].ID)
	assert.False(t, res.Ready[1].IsRetry)
}

func TestScripts_ReadClaimOrDLQ_CountCap(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	main := testStream(t, "dlq.cap")
	dlq := DLQStream(main)

	require.NoError(t, client.CreateGroup(ctx, main, "g", "0"))
	for i := 0; i < 5; i++ {
		_, err := client.Append(ctx, main, map[string]string{"i": "x"})
		require.NoError(t, err)
	}

	res, err := scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 3, 5)
	require.NoError(t, err)
	assert.Len(t, res.Ready, 3)

	// Pending retries fill the cap before any fresh entry.
	res, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", 0, 3, 5)
	require.NoError(t, err)
	require.Len(t, res.Ready, 3)
	for _, entry := range res.Ready {
		assert.True(t, entry.IsRetry)
	}
}

func TestScripts_ReadClaimOrDLQ_RespectsMinIdle(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	main := testStream(t, "dlq.idle")
	dlq := DLQStream(main)

	require.NoError(t, client.CreateGroup(ctx, main, "g", "0"))
	_, err := client.Append(ctx, main, map[string]string{"k": "v"})
	require.NoError(t, err)

	_, err = scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c1", time.Hour, 10, 3)
	require.NoError(t, err)

	// Pending but not idle long enough: another consumer cannot steal it.
	res, err := scripts.ReadClaimOrDLQ(ctx, main, dlq, "g", "c2", time.Hour, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, res.Ready)
	assert.Empty(t, res.Routed)
}

func routingRule(id, pattern, destination string, priority int, stopOnMatch bool) string {
	raw, _ := json.Marshal(map[string]any{
		"id":          id,
		"pattern":     pattern,
		"destination": destination,
		"priority":    priority,
		"enabled":     true,
		"stopOnMatch": stopOnMatch,
		"description": "",
	})
	return string(raw)
}

func TestScripts_RouteMessage_MultiDestination(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	exchange := testStream(t, "exchange")
	orders := testStream(t, "dest.orders")
	vip := testStream(t, "dest.vip")

	require.NoError(t, client.HashSet(ctx, RoutingRulesKey(exchange), map[string]string{
		"R10": routingRule("R10", `^order%.`, orders, 100, false),
		"R20": routingRule("R20", `%.vip%.`, vip, 100, false),
	}))

	res, err := scripts.RouteMessage(ctx, exchange, "order.vip.created", map[string]any{"orderId": "7"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExchangeID)
	require.Len(t, res.Routed, 2)
	assert.Equal(t, orders, res.Routed[0].Stream)
	assert.Equal(t, vip, res.Routed[1].Stream)

	// Exchange keeps the message tagged with the routing key.
	entries, err := client.Range(ctx, exchange, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "order.vip.created", entries[0].Fields["_routingKey"])
	assert.Equal(t, "7", entries[0].Fields["orderId"])

	// Each destination copy is tagged with the matching rule.
	ordersEntries, err := client.Range(ctx, orders, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, ordersEntries, 1)
	assert.Equal(t, "R10", ordersEntries[0].Fields["_ruleId"])

	vipEntries, err := client.Range(ctx, vip, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, vipEntries, 1)
	assert.Equal(t, "R20", vipEntries[0].Fields["_ruleId"])
}

func TestScripts_RouteMessage_StopOnMatchWinsByPriority(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	exchange := testStream(t, "exchange.stop")
	orders := testStream(t, "dest.orders")
	audit := testStream(t, "dest.audit")

	require.NoError(t, client.HashSet(ctx, RoutingRulesKey(exchange), map[string]string{
		"R10": routingRule("R10", `^order%.`, orders, 100, false),
		"R99": routingRule("R99", `^order%.cancelled%.`, audit, 10, true),
	}))

	res, err := scripts.RouteMessage(ctx, exchange, "order.cancelled.777", map[string]any{"orderId": "777"})
	require.NoError(t, err)
	require.Len(t, res.Routed, 1, "stop-on-match at priority 10 must preempt the broader rule")
	assert.Equal(t, audit, res.Routed[0].Stream)

	n, err := client.StreamLen(ctx, orders)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScripts_RouteMessage_NoMatchStillRecords(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	exchange := testStream(t, "exchange.nomatch")

	require.NoError(t, client.HashSet(ctx, RoutingRulesKey(exchange), map[string]string{
		"R10": routingRule("R10", `^order%.`, testStream(t, "dest"), 100, false),
	}))

	res, err := scripts.RouteMessage(ctx, exchange, "payment.settled", map[string]any{"x": "1"})
	require.NoError(t, err)
	assert.Empty(t, res.Routed)

	n, err := client.StreamLen(ctx, exchange)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScripts_RouteMessage_DisabledRuleSkipped(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	exchange := testStream(t, "exchange.disabled")
	dest := testStream(t, "dest.disabled")

	rule := map[string]any{
		"id": "R1", "pattern": `^order%.`, "destination": dest,
		"priority": 100, "enabled": false, "stopOnMatch": false,
	}
	raw, err := json.Marshal(rule)
	require.NoError(t, err)
	require.NoError(t, client.HashSet(ctx, RoutingRulesKey(exchange), map[string]string{"R1": string(raw)}))

	res, err := scripts.RouteMessage(ctx, exchange, "order.created.1", map[string]any{"x": "1"})
	require.NoError(t, err)
	assert.Empty(t, res.Routed)
}

func TestScripts_RequestArmsTimeoutAndAppends(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	requests := testStream(t, "req")
	responses := testStream(t, "resp")

	id, err := scripts.Request(ctx, requests, responses, "corr-1", "biz-9", 30*time.Second,
		map[string]any{"action": "quote", "amount": 12.5})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ttl, err := client.TTL(ctx, TimeoutKey("corr-1"))
	require.NoError(t, err)
	assert.Greater(t, ttl, 20*time.Second)

	shadow, err := client.HashGetAll(ctx, TimeoutShadowKey("corr-1"))
	require.NoError(t, err)
	assert.Equal(t, "biz-9", shadow["businessId"])
	assert.Equal(t, responses, shadow["responseStream"])

	shadowTTL, err := client.TTL(ctx, TimeoutShadowKey("corr-1"))
	require.NoError(t, err)
	assert.Greater(t, shadowTTL, ttl, "shadow must outlive the timeout key")

	entries, err := client.Range(ctx, requests, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-1", entries[0].Fields["correlationId"])
	assert.Equal(t, "biz-9", entries[0].Fields["businessId"])
	assert.Equal(t, "quote", entries[0].Fields["action"])
	assert.Equal(t, "12.5", entries[0].Fields["amount"])
}

func TestScripts_ResponseDisarmsTimeout(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	requests := testStream(t, "req2")
	responses := testStream(t, "resp2")

	_, err := scripts.Request(ctx, requests, responses, "corr-2", "biz-2", 30*time.Second,
		map[string]any{"action": "quote"})
	require.NoError(t, err)

	id, err := scripts.Response(ctx, responses, "corr-2", "biz-2", map[string]any{"status": "OK"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = client.Get(ctx, TimeoutKey("corr-2"))
	assert.True(t, IsNotFound(err), "timeout key must be disarmed by the response")

	entries, err := client.Range(ctx, responses, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-2", entries[0].Fields["correlationId"])
	assert.Equal(t, "OK", entries[0].Fields["status"])
}

func TestScripts_MaterializeDue(t *testing.T) {
	client, scripts := newTestScripts(t)
	ctx := context.Background()
	indexKey := testStream(t, "sched.index")
	hashKey := ScheduledHashKey("m1-" + testStream(t, "sched"))
	out := testStream(t, "reminders")

	require.NoError(t, client.SetHashWithIndex(ctx, hashKey,
		map[string]string{"id": "m1", "title": "pay rent"},
		indexKey, 1000, "message:m1"))

	id, ok, err := scripts.MaterializeDue(ctx, indexKey, hashKey, out, "message:m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, id)

	entries, err := client.Range(ctx, out, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pay rent", entries[0].Fields["title"])

	n, err := client.IndexLen(ctx, indexKey)
	require.NoError(t, err)
	assert.Zero(t, n)

	fields, err := client.HashGetAll(ctx, hashKey)
	require.NoError(t, err)
	assert.Empty(t, fields)

	// Re-running for a gone item is a clean no-op.
	_, ok, err = scripts.MaterializeDue(ctx, indexKey, hashKey, out, "message:m1")
	require.NoError(t, err)
	assert.False(t, ok)
}
