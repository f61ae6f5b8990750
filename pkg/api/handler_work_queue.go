package api

import (
	"github.com/gin-gonic/gin"
)

// produceRequest is the optional body of the queue produce endpoints.
type produceRequest struct {
	Payload map[string]string `json:"payload"`
}

func bindOptionalProduce(c *gin.Context) (produceRequest, bool) {
	var req produceRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return req, false
	}
	return req, true
}

// workQueueProduceHandler handles POST /api/work-queue/produce. The
// processingType query parameter steers the workers' verdict; it defaults
// to OK.
func (s *Server) workQueueProduceHandler(c *gin.Context) {
	req, ok := bindOptionalProduce(c)
	if !ok {
		return
	}

	id, err := s.engines.WorkQueue.Produce(c.Request.Context(), c.Query("processingType"), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, &ProduceResponse{StreamName: s.cfg.WorkQueue.Stream, ID: id})
}

// workQueueClearHandler handles DELETE /api/work-queue/clear.
func (s *Server) workQueueClearHandler(c *gin.Context) {
	if err := s.engines.WorkQueue.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
