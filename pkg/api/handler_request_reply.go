package api

import (
	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
)

// requestReplySendRequest is the wire shape of a correlated request.
type requestReplySendRequest struct {
	BusinessID      string         `json:"businessId"`
	TimeoutSec      int64          `json:"timeoutSec"`
	SimulateTimeout bool           `json:"simulateTimeout"`
	Payload         map[string]any `json:"payload"`
}

// requestReplySendHandler handles POST /api/request-reply/send.
func (s *Server) requestReplySendHandler(c *gin.Context) {
	var req requestReplySendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	result, err := s.engines.RequestReply.Send(c.Request.Context(), patterns.SendRequest{
		BusinessID:      req.BusinessID,
		TimeoutSec:      req.TimeoutSec,
		SimulateTimeout: req.SimulateTimeout,
		Payload:         req.Payload,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}
