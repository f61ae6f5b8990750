package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
)

// claimRequest is the body of POST /api/dlq/claim. Omitted fields fall
// back to the configured defaults for the stream.
type claimRequest struct {
	StreamName    string `json:"streamName"`
	DLQStreamName string `json:"dlqStreamName"`
	ConsumerGroup string `json:"consumerGroup"`
	ConsumerName  string `json:"consumerName"`
	MinIdleMs     int64  `json:"minIdleMs"`
	Count         int64  `json:"count"`
	MaxDeliveries int64  `json:"maxDeliveries"`
}

func (s *Server) claimConfigFrom(req claimRequest) patterns.ClaimConfig {
	cfg := s.engines.DLQ.DefaultClaim(req.StreamName)
	if req.DLQStreamName != "" {
		cfg.DLQStream = req.DLQStreamName
	}
	if req.ConsumerGroup != "" {
		cfg.Group = req.ConsumerGroup
	}
	if req.ConsumerName != "" {
		cfg.Consumer = req.ConsumerName
	}
	if req.MinIdleMs > 0 {
		cfg.MinIdle = time.Duration(req.MinIdleMs) * time.Millisecond
	}
	if req.Count > 0 {
		cfg.Count = req.Count
	}
	if req.MaxDeliveries > 0 {
		cfg.MaxDeliveries = req.MaxDeliveries
	}
	return cfg
}

// dlqClaimHandler handles POST /api/dlq/claim: one atomic
// retry-or-dead-letter claim batch.
func (s *Server) dlqClaimHandler(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	messages, routed, err := s.engines.DLQ.GetNextMessages(c.Request.Context(), s.claimConfigFrom(req))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, &ClaimResponse{Messages: messages, DeadLettered: routed})
}

// dlqInitHandler handles POST /api/dlq/init.
func (s *Server) dlqInitHandler(c *gin.Context) {
	var req struct {
		StreamName    string `json:"streamName"`
		ConsumerGroup string `json:"consumerGroup"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := s.engines.DLQ.InitGroup(c.Request.Context(), req.StreamName, req.ConsumerGroup); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"streamName": req.StreamName, "initialized": true})
}

// dlqProduceHandler handles POST /api/dlq/produce.
func (s *Server) dlqProduceHandler(c *gin.Context) {
	var req struct {
		StreamName string            `json:"streamName"`
		Payload    map[string]string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	id, err := s.engines.DLQ.Produce(c.Request.Context(), req.StreamName, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, &ProduceResponse{StreamName: req.StreamName, ID: id})
}

// dlqMessagesHandler handles GET /api/dlq/messages.
func (s *Server) dlqMessagesHandler(c *gin.Context) {
	entries, err := s.engines.DLQ.LatestMessages(c.Request.Context(), c.Query("streamName"), queryCount(c, 10))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"messages": entryViews(entries)})
}

// dlqPendingMessagesHandler handles GET /api/dlq/pending-messages.
func (s *Server) dlqPendingMessagesHandler(c *gin.Context) {
	entries, err := s.engines.DLQ.PendingView(c.Request.Context(),
		c.Query("streamName"), c.Query("groupName"), queryCount(c, 10))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"pendingMessages": pendingViews(entries)})
}

// dlqNextMessageHandler handles GET /api/dlq/next-message. The id is null
// when the pending list is empty.
func (s *Server) dlqNextMessageHandler(c *gin.Context) {
	id, err := s.engines.DLQ.NextPending(c.Request.Context(), c.Query("streamName"), c.Query("groupName"))
	if err != nil {
		respondError(c, err)
		return
	}
	if id == "" {
		respondOK(c, gin.H{"messageId": nil})
		return
	}
	respondOK(c, gin.H{"messageId": id})
}

// dlqProcessHandler handles POST /api/dlq/process: claim one message and
// apply the caller's verdict.
func (s *Server) dlqProcessHandler(c *gin.Context) {
	var req struct {
		StreamName    string `json:"streamName"`
		ShouldSucceed *bool  `json:"shouldSucceed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	cfg := s.engines.DLQ.DefaultClaim(req.StreamName)
	result, err := s.engines.DLQ.ProcessOne(c.Request.Context(), cfg, *req.ShouldSucceed)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// dlqGetConfigHandler handles GET /api/dlq/config. With a streamName it
// returns that stream's effective settings; without one, every override
// plus the defaults.
func (s *Server) dlqGetConfigHandler(c *gin.Context) {
	if stream := c.Query("streamName"); stream != "" {
		respondOK(c, dlqConfigView(stream, s.engines.Registry.Get(stream)))
		return
	}

	overrides := s.engines.Registry.All()
	views := make([]DLQConfigView, 0, len(overrides))
	for stream, settings := range overrides {
		views = append(views, dlqConfigView(stream, settings))
	}
	respondOK(c, gin.H{
		"defaults": dlqConfigView("", s.engines.Registry.Defaults()),
		"streams":  views,
	})
}

// dlqSetConfigHandler handles POST /api/dlq/config.
func (s *Server) dlqSetConfigHandler(c *gin.Context) {
	var req struct {
		StreamName    string `json:"streamName" binding:"required"`
		MinIdleMs     int64  `json:"minIdleMs"`
		MaxDeliveries int64  `json:"maxDeliveries"`
		Count         int64  `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	settings := patterns.DLQSettings{
		MinIdle:       time.Duration(req.MinIdleMs) * time.Millisecond,
		MaxDeliveries: req.MaxDeliveries,
		Count:         req.Count,
	}
	if err := s.engines.Registry.Set(req.StreamName, settings); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dlqConfigView(req.StreamName, s.engines.Registry.Get(req.StreamName)))
}

// dlqCleanupHandler handles DELETE /api/dlq/cleanup.
func (s *Server) dlqCleanupHandler(c *gin.Context) {
	if err := s.engines.DLQ.Cleanup(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleaned": true})
}

// dlqDeleteStreamHandler handles DELETE /api/dlq/stream/:name.
func (s *Server) dlqDeleteStreamHandler(c *gin.Context) {
	name := c.Param("name")
	if err := s.engines.DLQ.DeleteStream(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"streamName": name, "deleted": true})
}

// queryCount parses the count query parameter, clamped to [1, 1000].
func queryCount(c *gin.Context, fallback int64) int64 {
	raw := c.Query("count")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return fallback
	}
	if n > 1000 {
		return 1000
	}
	return n
}
