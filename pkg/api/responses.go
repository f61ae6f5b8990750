package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
	"github.com/streampatterns/streampatterns/pkg/store"
)

const (
	healthStatusStarting  = "starting"
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// Response is the uniform JSON envelope: 2xx bodies carry success plus the
// operation's data, non-2xx bodies carry success=false and the error.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                            `json:"status"`
	Checks  map[string]HealthCheck            `json:"checks,omitempty"`
	Workers map[string][]patterns.WorkerHealth `json:"workers,omitempty"`
}

// HealthCheck is one component's health verdict.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// EntryView is a log entry in API responses.
type EntryView struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

func entryViews(entries []store.Entry) []EntryView {
	views := make([]EntryView, len(entries))
	for i, entry := range entries {
		views[i] = EntryView{ID: entry.ID, Fields: entry.Fields}
	}
	return views
}

// PendingEntryView is one pending-entry-list row in API responses.
type PendingEntryView struct {
	ID            string `json:"id"`
	Consumer      string `json:"consumer"`
	IdleMs        int64  `json:"idleMs"`
	DeliveryCount int64  `json:"deliveryCount"`
}

func pendingViews(entries []store.PendingEntry) []PendingEntryView {
	views := make([]PendingEntryView, len(entries))
	for i, entry := range entries {
		views[i] = PendingEntryView{
			ID:            entry.ID,
			Consumer:      entry.Consumer,
			IdleMs:        entry.Idle.Milliseconds(),
			DeliveryCount: entry.DeliveryCount,
		}
	}
	return views
}

// ClaimResponse is returned by POST /api/dlq/claim.
type ClaimResponse struct {
	Messages     []patterns.Message `json:"messages"`
	DeadLettered []store.DLQRouting `json:"deadLettered,omitempty"`
}

// ProduceResponse is returned by the produce endpoints.
type ProduceResponse struct {
	StreamName string `json:"streamName"`
	ID         string `json:"id"`
}

// DLQConfigView is the per-stream claim configuration in API responses.
type DLQConfigView struct {
	StreamName    string `json:"streamName"`
	MinIdleMs     int64  `json:"minIdleMs"`
	MaxDeliveries int64  `json:"maxDeliveries"`
	Count         int64  `json:"count"`
}

func dlqConfigView(stream string, s patterns.DLQSettings) DLQConfigView {
	return DLQConfigView{
		StreamName:    stream,
		MinIdleMs:     s.MinIdle.Milliseconds(),
		MaxDeliveries: s.MaxDeliveries,
		Count:         s.Count,
	}
}

// PublishResponse is returned by the pub/sub publish endpoints.
type PublishResponse struct {
	Channel     string `json:"channel"`
	Subscribers int64  `json:"subscribers"`
}
