// Package store provides the log-store client, the server-side script
// library and the error taxonomy shared by every messaging pattern.
//
// The store is Redis-shaped: append-only logs are streams, consumer groups
// track per-group delivery state, schedules live in a sorted set, and the
// multi-step transitions run inside server-side Lua scripts. A Redis 7+
// server is assumed (the scripts call consumer-group reads, which older
// servers reject inside scripts).
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streampatterns/streampatterns/pkg/metrics"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Config holds store connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration // max wait for a pooled connection

	// Per-call settings
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Entry is one log entry: the store-assigned id and the field/value payload.
type Entry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry describes one pending-entry-list row for a consumer group.
type PendingEntry struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// Client wraps the go-redis client with typed, error-classified operations.
// It is safe for concurrent use.
type Client struct {
	rdb *redis.Client
}

// NewClient dials the store once and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		PoolTimeout:  cfg.PoolTimeout,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, classify("ping", "", err)
	}
	return &Client{rdb: rdb}, nil
}

// Connect dials the store, retrying transient failures with capped
// exponential backoff until ctx is done. Non-transient failures return
// immediately.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	backoff := retryBaseDelay
	for {
		client, err := NewClient(ctx, cfg)
		if err == nil {
			return client, nil
		}
		if !IsConnectivity(err) && !IsTimeout(err) {
			return nil, err
		}

		metrics.StoreConnectRetries.Inc()
		slog.Warn("Store unreachable, retrying",
			"addr", cfg.Addr,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, classify("connect", "", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryMaxDelay {
			backoff = retryMaxDelay
		}
	}
}

// Ping probes store liveness.
func (c *Client) Ping(ctx context.Context) error {
	return classify("ping", "", c.rdb.Ping(ctx).Err())
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Append adds an entry to a log with a store-assigned id and returns it.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: fields,
	}).Result()
	if err != nil {
		return "", classify("append", stream, err)
	}
	return id, nil
}

// Range reads entries in [start, end] in ascending id order, up to count.
// Use "-" and "+" for the open ends.
func (c *Client) Range(ctx context.Context, stream, start, end string, count int64) ([]Entry, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, start, end, count).Result()
	if err != nil {
		return nil, classify("range", stream, err)
	}
	return entriesFromMessages(msgs), nil
}

// RevRangeLatest reads the newest count entries, returned in ascending id order.
func (c *Client) RevRangeLatest(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, classify("revrange", stream, err)
	}
	entries := entriesFromMessages(msgs)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GroupRead delivers new entries to the consumer inside the group. A
// non-positive block makes the call non-blocking; an empty read returns
// (nil, nil).
func (c *Client) GroupRead(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, classify("group_read", stream, err)
	}
	for _, s := range streams {
		if s.Stream == stream {
			return entriesFromMessages(s.Messages), nil
		}
	}
	return nil, nil
}

// Ack removes delivered entries from the group's pending list and returns
// how many were actually pending. Acking an unknown id is a no-op.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := c.rdb.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		return 0, classify("ack", stream, err)
	}
	return n, nil
}

// Claim transfers pending entries idle for at least minIdle to the consumer.
// Entries that are no longer pending, or not idle long enough, are skipped.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]Entry, error) {
	msgs, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, classify("claim", stream, err)
	}
	return entriesFromMessages(msgs), nil
}

// Pending lists up to count pending entries idle for at least minIdle,
// oldest id first.
func (c *Client) Pending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	rows, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, classify("pending", stream, err)
	}
	pending := make([]PendingEntry, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, PendingEntry{
			ID:            row.ID,
			Consumer:      row.Consumer,
			Idle:          row.Idle,
			DeliveryCount: row.RetryCount,
		})
	}
	return pending, nil
}

// CreateGroup creates a consumer group at the given origin id, creating the
// log if needed. Creating a group that already exists is a no-op.
func (c *Client) CreateGroup(ctx context.Context, stream, group, start string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !redis.HasErrorPrefix(err, "BUSYGROUP") {
		return classify("create_group", stream, err)
	}
	return nil
}

// StreamLen returns the number of entries in a log (0 for a missing log).
func (c *Client) StreamLen(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, classify("stream_len", stream, err)
	}
	return n, nil
}

// Trim caps a log at maxLen entries, dropping the oldest.
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	return classify("trim", stream, c.rdb.XTrimMaxLen(ctx, stream, maxLen).Err())
}

// Delete removes keys of any type. Missing keys are ignored.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return classify("delete", keys[0], c.rdb.Del(ctx, keys...).Err())
}

// SetWithTTL writes a string key with an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return classify("set", key, c.rdb.Set(ctx, key, value, ttl).Err())
}

// Get reads a string key; a missing key is a KindNotFound error.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", classify("get", key, err)
	}
	return value, nil
}

// TTL returns a key's remaining time to live. Keys without an expiry
// report a negative duration.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, classify("ttl", key, err)
	}
	return ttl, nil
}

// HashSet writes the given fields into a hash key.
func (c *Client) HashSet(ctx context.Context, key string, fields map[string]string) error {
	return classify("hash_set", key, c.rdb.HSet(ctx, key, fields).Err())
}

// HashSetField writes a single hash field.
func (c *Client) HashSetField(ctx context.Context, key, field, value string) error {
	return classify("hash_set", key, c.rdb.HSet(ctx, key, field, value).Err())
}

// HashGetAll reads a whole hash; a missing key yields an empty map.
func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, classify("hash_get_all", key, err)
	}
	return fields, nil
}

// HashGetField reads a single hash field. A missing field or key is a
// NotFound error.
func (c *Client) HashGetField(ctx context.Context, key, field string) (string, error) {
	value, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", NewError(KindNotFound, "hash_get", key, err)
	}
	if err != nil {
		return "", classify("hash_get", key, err)
	}
	return value, nil
}

// HashIncrBy atomically increments an integer hash field, creating it at
// delta when absent, and returns the new value.
func (c *Client) HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := c.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, classify("hash_incr_by", key, err)
	}
	return n, nil
}

// HashDelete removes fields from a hash and reports how many existed.
func (c *Client) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := c.rdb.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, classify("hash_delete", key, err)
	}
	return n, nil
}

// HashLen returns the number of fields in a hash.
func (c *Client) HashLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, classify("hash_len", key, err)
	}
	return n, nil
}

// Expire sets a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return classify("expire", key, c.rdb.Expire(ctx, key, ttl).Err())
}

// SetHashWithIndex writes a payload hash and its sorted-set index entry as
// one transaction, so a schedule is never half-visible.
func (c *Client) SetHashWithIndex(ctx context.Context, hashKey string, fields map[string]string, indexKey string, score float64, member string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, fields)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: member})
		return nil
	})
	return classify("set_hash_with_index", hashKey, err)
}

// DeleteHashWithIndex removes a payload hash and its index entry as one
// transaction.
func (c *Client) DeleteHashWithIndex(ctx context.Context, hashKey, indexKey, member string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hashKey)
		pipe.ZRem(ctx, indexKey, member)
		return nil
	})
	return classify("delete_hash_with_index", hashKey, err)
}

// IndexRangeByScore lists up to count members with min <= score <= max in
// score order (ties in member order). Use "-inf"/"+inf" for open ends.
func (c *Client) IndexRangeByScore(ctx context.Context, indexKey, min, max string, count int64) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, classify("index_range", indexKey, err)
	}
	return members, nil
}

// IndexLen returns the number of members in a sorted-set index.
func (c *Client) IndexLen(ctx context.Context, indexKey string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, classify("index_len", indexKey, err)
	}
	return n, nil
}

// IndexRemove drops members from a sorted-set index without touching any
// associated payload keys.
func (c *Client) IndexRemove(ctx context.Context, indexKey string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := c.rdb.ZRem(ctx, indexKey, args...).Result()
	if err != nil {
		return 0, classify("index_remove", indexKey, err)
	}
	return n, nil
}

// Publish sends a fire-and-forget message to a channel and returns the
// number of subscribers that received it.
func (c *Client) Publish(ctx context.Context, channel, payload string) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, classify("publish", channel, err)
	}
	return n, nil
}

// Subscribe opens a subscription to exact channels. The caller owns the
// returned subscription and must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// PSubscribe opens a subscription to channel patterns. The caller owns the
// returned subscription and must Close it.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, patterns...)
}

// EnableKeyEventNotifications makes sure the server emits expired-key
// events, without clobbering whatever notification classes are already on.
// Idempotent.
func (c *Client) EnableKeyEventNotifications(ctx context.Context) error {
	const param = "notify-keyspace-events"

	current, err := c.rdb.ConfigGet(ctx, param).Result()
	if err != nil {
		return classify("config_get", param, err)
	}

	flags := current[param]
	want := flags
	if !strings.ContainsAny(want, "E") {
		want += "E"
	}
	// "A" enables every event class including expirations.
	if !strings.ContainsAny(want, "xA") {
		want += "x"
	}
	if want == flags {
		return nil
	}

	if err := c.rdb.ConfigSet(ctx, param, want).Err(); err != nil {
		return classify("config_set", param, err)
	}
	slog.Info("Enabled expired-key event notifications", "flags", want)
	return nil
}

func entriesFromMessages(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: fieldsFromValues(msg.Values)})
	}
	return entries
}

func fieldsFromValues(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}
