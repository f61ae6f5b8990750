// Package events implements the in-process event bus used for real-time
// telemetry.
//
// Engines publish lifecycle events (produced, processed, reclaimed,
// dead-lettered) and the bus fans them out to subscribed sinks, typically
// WebSocket clients. Delivery is best-effort: each sink has a bounded
// buffer, and a saturated sink loses its oldest event rather than slowing
// the producer down.
package events

import (
	"strconv"
	"time"
)

// Event types delivered to sinks.
const (
	TypeMessageProduced  = "MESSAGE_PRODUCED"
	TypeMessageDeleted   = "MESSAGE_DELETED"
	TypeMessageProcessed = "MESSAGE_PROCESSED"
	TypeMessageReclaimed = "MESSAGE_RECLAIMED"
	TypeMessageToDLQ     = "MESSAGE_TO_DLQ"
	TypeInfo             = "INFO"
	TypeError            = "ERROR"
)

// Event is the JSON value object delivered to sinks. Optional fields are
// omitted when empty; Timestamp is ISO-8601 in UTC.
type Event struct {
	EventType  string            `json:"eventType"`
	MessageID  string            `json:"messageId,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	StreamName string            `json:"streamName,omitempty"`
	Consumer   string            `json:"consumer,omitempty"`
	Details    string            `json:"details,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Produced reports a new entry observed on a log.
func Produced(stream, id string, fields map[string]string) Event {
	return Event{
		EventType:  TypeMessageProduced,
		MessageID:  id,
		Payload:    fields,
		StreamName: stream,
		Timestamp:  now(),
	}
}

// Deleted reports an entry removed from a group's view by an acknowledge.
func Deleted(stream, group, id string) Event {
	return Event{
		EventType:  TypeMessageDeleted,
		MessageID:  id,
		StreamName: stream,
		Consumer:   group,
		Timestamp:  now(),
	}
}

// Processed reports an entry a consumer finished successfully.
func Processed(stream, consumer, id string) Event {
	return Event{
		EventType:  TypeMessageProcessed,
		MessageID:  id,
		StreamName: stream,
		Consumer:   consumer,
		Timestamp:  now(),
	}
}

// Reclaimed reports a pending entry redelivered for retry.
func Reclaimed(stream, consumer, id string, deliveryCount int64) Event {
	return Event{
		EventType:  TypeMessageReclaimed,
		MessageID:  id,
		Payload:    map[string]string{"deliveryCount": strconv.FormatInt(deliveryCount, 10)},
		StreamName: stream,
		Consumer:   consumer,
		Timestamp:  now(),
	}
}

// ToDLQ reports an entry routed to a dead-letter log.
func ToDLQ(stream, dlqStream, sourceID, dlqID string) Event {
	return Event{
		EventType:  TypeMessageToDLQ,
		MessageID:  sourceID,
		Payload:    map[string]string{"dlqStream": dlqStream, "dlqId": dlqID},
		StreamName: stream,
		Timestamp:  now(),
	}
}

// Info reports an informational condition.
func Info(details string) Event {
	return Event{
		EventType: TypeInfo,
		Details:   details,
		Timestamp: now(),
	}
}

// InfoFor reports an informational condition tied to one log or channel.
func InfoFor(stream, details string, payload map[string]string) Event {
	return Event{
		EventType:  TypeInfo,
		Payload:    payload,
		StreamName: stream,
		Details:    details,
		Timestamp:  now(),
	}
}

// Failure reports an error condition worth surfacing to telemetry clients.
func Failure(details string) Event {
	return Event{
		EventType: TypeError,
		Details:   details,
		Timestamp: now(),
	}
}
