package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// readClaimOrDLQSource is the combined fetch for retrying consumers.
// In one atomic unit it walks the group's idle pending entries oldest
// first, dead-letters the exhausted ones, claims the retryable ones for
// the caller, then tops the batch up with never-delivered entries.
//
// KEYS[1] - main log
// KEYS[2] - dead-letter log
// ARGV[1] - group
// ARGV[2] - consumer
// ARGV[3] - min idle millis before a pending entry is up for grabs
// ARGV[4] - max entries to return
// ARGV[5] - delivery count at which an entry is dead-lettered
//
// Returns {retries, fresh, routed}: retries as {id, fields, deliveries},
// fresh as {id, fields}, routed as {id, dlqId}. Retries and routed are
// disjoint: a dead-lettered entry is acked before anything else can see it.
const readClaimOrDLQSource = `
local group = ARGV[1]
local consumer = ARGV[2]
local minIdle = tonumber(ARGV[3])
local count = tonumber(ARGV[4])
local maxDeliveries = tonumber(ARGV[5])

local retries = {}
local fresh = {}
local routed = {}

local pending = redis.call("XPENDING", KEYS[1], group, "IDLE", minIdle, "-", "+", count)
for i = 1, #pending do
	local id = pending[i][1]
	local deliveries = tonumber(pending[i][4])
	local claimed = redis.call("XCLAIM", KEYS[1], group, consumer, minIdle, id)
	if claimed and claimed[1] and claimed[1][2] then
		if deliveries >= maxDeliveries then
			local dlqId = redis.call("XADD", KEYS[2], "*", unpack(claimed[1][2]))
			redis.call("XACK", KEYS[1], group, id)
			routed[#routed + 1] = {id, dlqId}
		else
			retries[#retries + 1] = {id, claimed[1][2], deliveries + 1}
		end
	end
end

local remaining = count - #retries
if remaining > 0 then
	local read = redis.call("XREADGROUP", "GROUP", group, consumer, "COUNT", remaining, "STREAMS", KEYS[1], ">")
	if read then
		local entries = read[1][2]
		for i = 1, #entries do
			fresh[#fresh + 1] = {entries[i][1], entries[i][2]}
		end
	end
end

return {retries, fresh, routed}
`

// routeMessageSource records a message on the exchange log and fans copies
// out to every destination whose rule matches the routing key, atomically.
// Rules are walked in (priority asc, id asc) order; a matching rule with
// stopOnMatch set ends the walk. Patterns use the store's native pattern
// syntax (Lua patterns).
//
// KEYS[1] - exchange log
// KEYS[2] - rules hash (rule id -> rule JSON)
// KEYS[3] - rule-set metadata hash
// ARGV[1] - routing key
// ARGV[2] - payload as a JSON object
//
// Returns {exchangeId, {dest1, id1, dest2, id2, ...}}. Destination logs are
// dynamic keys, which assumes a non-clustered store.
const routeMessageSource = `
local routingKey = ARGV[1]
local payload = cjson.decode(ARGV[2])

local fields = {}
for name, value in pairs(payload) do
	if value ~= cjson.null then
		fields[#fields + 1] = name
		if type(value) == "table" then
			fields[#fields + 1] = cjson.encode(value)
		else
			fields[#fields + 1] = tostring(value)
		end
	end
end
fields[#fields + 1] = "_routingKey"
fields[#fields + 1] = routingKey

local exchangeId = redis.call("XADD", KEYS[1], "*", unpack(fields))

local rules = {}
local raw = redis.call("HGETALL", KEYS[2])
for i = 1, #raw, 2 do
	local ok, rule = pcall(cjson.decode, raw[i + 1])
	if ok and rule.enabled then
		rules[#rules + 1] = rule
	end
end
table.sort(rules, function(a, b)
	if a.priority ~= b.priority then
		return a.priority < b.priority
	end
	return a.id < b.id
end)

local maxRules = tonumber(redis.call("HGET", KEYS[3], "maxRules") or "0")
if maxRules > 0 and #rules > maxRules then
	for i = #rules, maxRules + 1, -1 do
		rules[i] = nil
	end
end

local routed = {}
for i = 1, #rules do
	local rule = rules[i]
	if string.find(routingKey, rule.pattern) then
		local copy = {}
		for j = 1, #fields do
			copy[j] = fields[j]
		end
		copy[#copy + 1] = "_ruleId"
		copy[#copy + 1] = rule.id
		local destId = redis.call("XADD", rule.destination, "*", unpack(copy))
		routed[#routed + 1] = rule.destination
		routed[#routed + 1] = destId
		if rule.stopOnMatch then
			break
		end
	end
end

return {exchangeId, routed}
`

// requestSource opens one request/reply exchange: it arms the expiring
// timeout marker, writes the shadow holding what a timeout would need, and
// appends the correlated request, all atomically.
//
// KEYS[1] - timeout key
// KEYS[2] - timeout shadow key (outlives the timeout key by a grace period)
// KEYS[3] - request log
// ARGV[1] - correlation id
// ARGV[2] - business id
// ARGV[3] - response log the reply or timeout must land on
// ARGV[4] - timeout seconds
// ARGV[5] - payload as a JSON object
//
// Returns the request entry id.
const requestSource = `
local timeoutSec = tonumber(ARGV[4])
redis.call("SET", KEYS[1], ARGV[2], "EX", timeoutSec)
redis.call("HSET", KEYS[2], "businessId", ARGV[2], "responseStream", ARGV[3])
redis.call("EXPIRE", KEYS[2], timeoutSec + 10)

local payload = cjson.decode(ARGV[5])
payload["correlationId"] = ARGV[1]
payload["businessId"] = ARGV[2]

local fields = {}
for name, value in pairs(payload) do
	if value ~= cjson.null then
		fields[#fields + 1] = name
		if type(value) == "table" then
			fields[#fields + 1] = cjson.encode(value)
		else
			fields[#fields + 1] = tostring(value)
		end
	end
end

return redis.call("XADD", KEYS[3], "*", unpack(fields))
`

// responseSource completes one request/reply exchange: it disarms the
// timeout marker and appends the correlated response. Disarming first is
// what makes a racing expiration lose.
//
// KEYS[1] - timeout key
// KEYS[2] - response log
// ARGV[1] - correlation id
// ARGV[2] - business id
// ARGV[3] - payload as a JSON object
//
// Returns the response entry id.
const responseSource = `
redis.call("DEL", KEYS[1])

local payload = cjson.decode(ARGV[3])
payload["correlationId"] = ARGV[1]
payload["businessId"] = ARGV[2]

local fields = {}
for name, value in pairs(payload) do
	if value ~= cjson.null then
		fields[#fields + 1] = name
		if type(value) == "table" then
			fields[#fields + 1] = cjson.encode(value)
		else
			fields[#fields + 1] = tostring(value)
		end
	end
end

return redis.call("XADD", KEYS[2], "*", unpack(fields))
`

// materializeDueSource moves one due scheduled message from its hash to the
// output log and drops it from the index, atomically, so a crash in the
// middle leaves the item re-runnable rather than half-delivered.
//
// KEYS[1] - schedule index (sorted set)
// KEYS[2] - payload hash
// KEYS[3] - output log
// ARGV[1] - index member
//
// Returns the appended entry id, or false when the payload is already gone
// (the member is removed from the index either way).
const materializeDueSource = `
local payload = redis.call("HGETALL", KEYS[2])
if #payload == 0 then
	redis.call("ZREM", KEYS[1], ARGV[1])
	return false
end

local id = redis.call("XADD", KEYS[3], "*", unpack(payload))
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
return id
`

// probePatternSource checks that a match pattern compiles in the engine
// that will evaluate it at routing time. Probing at write time turns a
// malformed pattern into a validation failure instead of a routing error.
//
// ARGV[1] - the pattern
//
// Returns 1 when the pattern is usable, 0 when it is malformed.
const probePatternSource = `
local ok = pcall(string.find, "", ARGV[1])
if ok then
	return 1
end
return 0
`

// ClaimedEntry is one entry handed to a consumer by the combined fetch.
type ClaimedEntry struct {
	Entry
	DeliveryCount int64
	IsRetry       bool
}

// DLQRouting records one entry the combined fetch dead-lettered.
type DLQRouting struct {
	SourceID string `json:"sourceId"`
	DLQID    string `json:"dlqId"`
}

// ClaimResult is the outcome of one combined fetch: entries ready for
// processing (retries first) and entries routed to the dead-letter log.
type ClaimResult struct {
	Ready  []ClaimedEntry
	Routed []DLQRouting
}

// RoutedCopy records one destination append made by the routing script.
type RoutedCopy struct {
	Stream string `json:"stream"`
	ID     string `json:"id"`
}

// RouteResult is the outcome of routing one message through an exchange.
type RouteResult struct {
	ExchangeID string       `json:"exchangeId"`
	Routed     []RoutedCopy `json:"routed"`
}

// Scripts holds the registered server-side scripts. Run resolves by hash
// and falls back to sending the source, so a flushed script cache heals
// itself.
type Scripts struct {
	client *Client

	readClaimOrDLQ *redis.Script
	routeMessage   *redis.Script
	request        *redis.Script
	response       *redis.Script
	materializeDue *redis.Script
	probePattern   *redis.Script
}

// NewScripts builds the script set bound to a client.
func NewScripts(client *Client) *Scripts {
	return &Scripts{
		client:         client,
		readClaimOrDLQ: redis.NewScript(readClaimOrDLQSource),
		routeMessage:   redis.NewScript(routeMessageSource),
		request:        redis.NewScript(requestSource),
		response:       redis.NewScript(responseSource),
		materializeDue: redis.NewScript(materializeDueSource),
		probePattern:   redis.NewScript(probePatternSource),
	}
}

// Load registers every script with the server. Registration is keyed by
// content hash, so reloading on every startup is an idempotent replace.
func (s *Scripts) Load(ctx context.Context) error {
	for name, script := range map[string]*redis.Script{
		"read_claim_or_dlq": s.readClaimOrDLQ,
		"route_message":     s.routeMessage,
		"request":           s.request,
		"response":          s.response,
		"materialize_due":   s.materializeDue,
		"probe_pattern":     s.probePattern,
	} {
		if err := script.Load(ctx, s.client.rdb).Err(); err != nil {
			return classifyScript("script_load", name, err)
		}
	}
	return nil
}

// ReadClaimOrDLQ runs the combined fetch for one consumer: exhausted
// pending entries move to the dead-letter log, retryable ones are claimed,
// and the batch is topped up with new entries, up to count in total.
func (s *Scripts) ReadClaimOrDLQ(ctx context.Context, mainStream, dlqStream, group, consumer string, minIdle time.Duration, count, maxDeliveries int64) (*ClaimResult, error) {
	raw, err := s.readClaimOrDLQ.Run(ctx, s.client.rdb,
		[]string{mainStream, dlqStream},
		group, consumer, minIdle.Milliseconds(), count, maxDeliveries,
	).Result()
	if err != nil {
		return nil, classifyScript("read_claim_or_dlq", mainStream, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 3 {
		return nil, NewError(KindProtocol, "read_claim_or_dlq", mainStream, fmt.Errorf("unexpected reply shape %T", raw))
	}

	result := &ClaimResult{}
	for _, item := range asSlice(parts[0]) {
		row := asSlice(item)
		if len(row) < 3 {
			continue
		}
		result.Ready = append(result.Ready, ClaimedEntry{
			Entry:         Entry{ID: asString(row[0]), Fields: fieldsFromFlat(asSlice(row[1]))},
			DeliveryCount: asInt(row[2]),
			IsRetry:       true,
		})
	}
	for _, item := range asSlice(parts[1]) {
		row := asSlice(item)
		if len(row) < 2 {
			continue
		}
		result.Ready = append(result.Ready, ClaimedEntry{
			Entry:         Entry{ID: asString(row[0]), Fields: fieldsFromFlat(asSlice(row[1]))},
			DeliveryCount: 1,
		})
	}
	for _, item := range asSlice(parts[2]) {
		row := asSlice(item)
		if len(row) < 2 {
			continue
		}
		result.Routed = append(result.Routed, DLQRouting{SourceID: asString(row[0]), DLQID: asString(row[1])})
	}
	return result, nil
}

// RouteMessage records the message on the exchange and fans copies out per
// the exchange's rule set, atomically.
func (s *Scripts) RouteMessage(ctx context.Context, exchange, routingKey string, payload map[string]any) (*RouteResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindValidation, "route_message", exchange, err)
	}

	raw, err := s.routeMessage.Run(ctx, s.client.rdb,
		[]string{exchange, RoutingRulesKey(exchange), RoutingMetaKey(exchange)},
		routingKey, string(encoded),
	).Result()
	if err != nil {
		return nil, classifyScript("route_message", exchange, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, NewError(KindProtocol, "route_message", exchange, fmt.Errorf("unexpected reply shape %T", raw))
	}

	result := &RouteResult{ExchangeID: asString(parts[0])}
	flat := asSlice(parts[1])
	for i := 0; i+1 < len(flat); i += 2 {
		result.Routed = append(result.Routed, RoutedCopy{Stream: asString(flat[i]), ID: asString(flat[i+1])})
	}
	return result, nil
}

// Request arms the timeout marker and shadow for one correlation id and
// appends the correlated request, atomically. Returns the request entry id.
func (s *Scripts) Request(ctx context.Context, requestStream, responseStream, correlationID, businessID string, timeout time.Duration, payload map[string]any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", NewError(KindValidation, "request", requestStream, err)
	}

	id, err := s.request.Run(ctx, s.client.rdb,
		[]string{TimeoutKey(correlationID), TimeoutShadowKey(correlationID), requestStream},
		correlationID, businessID, responseStream, int64(timeout.Seconds()), string(encoded),
	).Text()
	if err != nil {
		return "", classifyScript("request", requestStream, err)
	}
	return id, nil
}

// Response disarms the timeout marker and appends the correlated response,
// atomically. Returns the response entry id.
func (s *Scripts) Response(ctx context.Context, responseStream, correlationID, businessID string, payload map[string]any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", NewError(KindValidation, "response", responseStream, err)
	}

	id, err := s.response.Run(ctx, s.client.rdb,
		[]string{TimeoutKey(correlationID), responseStream},
		correlationID, businessID, string(encoded),
	).Text()
	if err != nil {
		return "", classifyScript("response", responseStream, err)
	}
	return id, nil
}

// MaterializeDue moves one due scheduled message to the output log. The
// returned flag is false when the payload was already gone and nothing was
// appended.
func (s *Scripts) MaterializeDue(ctx context.Context, indexKey, hashKey, outStream, member string) (string, bool, error) {
	id, err := s.materializeDue.Run(ctx, s.client.rdb,
		[]string{indexKey, hashKey, outStream},
		member,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, classifyScript("materialize_due", hashKey, err)
	}
	return id, true, nil
}

// ProbePattern reports whether a match pattern compiles server-side.
func (s *Scripts) ProbePattern(ctx context.Context, pattern string) (bool, error) {
	ok, err := s.probePattern.Run(ctx, s.client.rdb, nil, pattern).Int64()
	if err != nil {
		return false, classifyScript("probe_pattern", "", err)
	}
	return ok == 1, nil
}

// classifyScript is classify with script-aware defaults: a server reply
// error that is not one of the known command failures came from the script
// body itself.
func classifyScript(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	kind := kindFor(err)
	if kind == KindProtocol {
		kind = KindScript
	}
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		var parsed int64
		_, _ = fmt.Sscan(n, &parsed)
		return parsed
	default:
		return 0
	}
}

func fieldsFromFlat(flat []interface{}) map[string]string {
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[asString(flat[i])] = asString(flat[i+1])
	}
	return fields
}
