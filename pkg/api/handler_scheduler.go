package api

import (
	"github.com/gin-gonic/gin"
)

// scheduledMessageRequest is the wire shape for creating or updating a
// scheduled message. ScheduledFor is epoch milliseconds.
type scheduledMessageRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ScheduledFor int64  `json:"scheduledFor"`
}

// listScheduledHandler handles GET /api/scheduled-messages.
func (s *Server) listScheduledHandler(c *gin.Context) {
	messages, err := s.engines.Scheduler.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"messages": messages})
}

// createScheduledHandler handles POST /api/scheduled-messages.
func (s *Server) createScheduledHandler(c *gin.Context) {
	var req scheduledMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	msg, err := s.engines.Scheduler.Schedule(c.Request.Context(), req.Title, req.Description, req.ScheduledFor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, msg)
}

// getScheduledHandler handles GET /api/scheduled-messages/:id.
func (s *Server) getScheduledHandler(c *gin.Context) {
	msg, err := s.engines.Scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, msg)
}

// updateScheduledHandler handles PUT /api/scheduled-messages/:id.
func (s *Server) updateScheduledHandler(c *gin.Context) {
	var req scheduledMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	msg, err := s.engines.Scheduler.Update(c.Request.Context(), c.Param("id"), req.Title, req.Description, req.ScheduledFor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, msg)
}

// deleteScheduledHandler handles DELETE /api/scheduled-messages/:id.
func (s *Server) deleteScheduledHandler(c *gin.Context) {
	if err := s.engines.Scheduler.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

// clearScheduledHandler handles DELETE /api/scheduled-messages/clear.
func (s *Server) clearScheduledHandler(c *gin.Context) {
	if err := s.engines.Scheduler.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
