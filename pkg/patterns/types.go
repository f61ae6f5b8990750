package patterns

import (
	"time"

	"github.com/streampatterns/streampatterns/pkg/store"
)

// Message is one claimed log entry together with its delivery bookkeeping
// and the coordinates it was claimed under.
type Message struct {
	ID            string            `json:"id"`
	Fields        map[string]string `json:"fields"`
	DeliveryCount int64             `json:"deliveryCount"`
	IsRetry       bool              `json:"isRetry"`
	Stream        string            `json:"stream"`
	Group         string            `json:"group"`
	Consumer      string            `json:"consumer"`
}

// ClaimConfig parameterizes one atomic claim-or-dead-letter call.
type ClaimConfig struct {
	Stream        string
	DLQStream     string
	Group         string
	Consumer      string
	MinIdle       time.Duration
	MaxDeliveries int64
	Count         int64
}

// Validate reports the first invalid claim parameter.
func (c ClaimConfig) Validate() error {
	switch {
	case c.Stream == "":
		return NewValidationError("streamName", "must not be empty")
	case c.Group == "":
		return NewValidationError("consumerGroup", "must not be empty")
	case c.Consumer == "":
		return NewValidationError("consumerName", "must not be empty")
	case c.MinIdle < 0:
		return NewValidationError("minIdleMs", "must be non-negative")
	case c.MaxDeliveries < 1:
		return NewValidationError("maxDeliveries", "must be at least 1")
	case c.Count < 1:
		return NewValidationError("count", "must be at least 1")
	}
	return nil
}

// ProcessResult reports one single-shot consume attempt.
type ProcessResult struct {
	Processed    bool               `json:"processed"`
	Acked        bool               `json:"acked"`
	Message      *Message           `json:"message,omitempty"`
	DeadLettered []store.DLQRouting `json:"deadLettered,omitempty"`
}

// SuccessPredicate decides whether a worker handled a message
// successfully. A false verdict is not an error: the entry stays pending
// and becomes claimable again once its idle time passes the threshold.
type SuccessPredicate func(Message) bool

// ProcessingTypeOK is the default predicate: a message succeeds when its
// processingType field is "OK". Producers set the field, which makes
// failure injection a one-parameter affair.
func ProcessingTypeOK(msg Message) bool {
	return msg.Fields["processingType"] == "OK"
}
