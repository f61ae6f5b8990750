package store

// Key layout shared by the patterns. Logs are named
// <pattern>.<name>[.vN]; auxiliary keys derive from the log or the
// correlation id they belong to.
const (
	timeoutKeyPrefix       = "req.timeout:"
	timeoutShadowKeyPrefix = "req.timeout.shadow:"
	routingRulesKeyPrefix  = "routing:rules:"
	routingMetaKeyPrefix   = "routing:meta:"
	scheduledHashKeyPrefix = "scheduled:message:"
	scheduledMemberPrefix  = "message:"

	// ScheduledIndexKey is the sorted set indexing scheduled messages by due time.
	ScheduledIndexKey = "scheduled.index"

	// ExpiredKeyEventPattern matches the server's expired-key notifications
	// on any database.
	ExpiredKeyEventPattern = "__keyevent@*__:expired"
)

// TimeoutKey is the expiring marker for one in-flight request.
func TimeoutKey(correlationID string) string { return timeoutKeyPrefix + correlationID }

// TimeoutShadowKey survives the timeout key by a grace period and carries
// what the timeout listener needs to synthesize a response.
func TimeoutShadowKey(correlationID string) string { return timeoutShadowKeyPrefix + correlationID }

// CorrelationIDFromTimeoutKey extracts the correlation id from an expired
// timeout key, or returns false for unrelated keys (including shadows).
func CorrelationIDFromTimeoutKey(key string) (string, bool) {
	if len(key) <= len(timeoutKeyPrefix) || key[:len(timeoutKeyPrefix)] != timeoutKeyPrefix {
		return "", false
	}
	rest := key[len(timeoutKeyPrefix):]
	if len(rest) >= len("shadow:") && rest[:len("shadow:")] == "shadow:" {
		return "", false
	}
	return rest, true
}

// RoutingRulesKey is the hash holding one exchange's rules, keyed by rule id.
func RoutingRulesKey(exchange string) string { return routingRulesKeyPrefix + exchange }

// RoutingMetaKey is the hash holding one exchange's rule-set metadata.
func RoutingMetaKey(exchange string) string { return routingMetaKeyPrefix + exchange }

// ScheduledHashKey is the payload hash for one scheduled message.
func ScheduledHashKey(id string) string { return scheduledHashKeyPrefix + id }

// ScheduledMember is the index member for one scheduled message.
func ScheduledMember(id string) string { return scheduledMemberPrefix + id }

// ScheduledIDFromMember extracts the message id from an index member.
func ScheduledIDFromMember(member string) (string, bool) {
	if len(member) <= len(scheduledMemberPrefix) || member[:len(scheduledMemberPrefix)] != scheduledMemberPrefix {
		return "", false
	}
	return member[len(scheduledMemberPrefix):], true
}

// DLQStream names the dead-letter log paired with a main log.
func DLQStream(stream string) string { return stream + ":dlq" }

// GroupDLQStream names a per-group dead-letter log, used where each group
// retries independently.
func GroupDLQStream(stream, group string) string { return stream + ":dlq:" + group }

// DoneStream names the per-consumer completion log paired with a main log.
func DoneStream(stream, consumer string) string { return stream + ":done:" + consumer }
