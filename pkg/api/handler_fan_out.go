package api

import (
	"github.com/gin-gonic/gin"
)

// fanOutProduceHandler handles POST /api/fan-out/produce. Every consumer
// group receives the appended entry.
func (s *Server) fanOutProduceHandler(c *gin.Context) {
	req, ok := bindOptionalProduce(c)
	if !ok {
		return
	}

	id, err := s.engines.FanOut.Produce(c.Request.Context(), c.Query("processingType"), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, &ProduceResponse{StreamName: s.cfg.FanOut.Stream, ID: id})
}

// fanOutClearHandler handles DELETE /api/fan-out/clear.
func (s *Server) fanOutClearHandler(c *gin.Context) {
	if err := s.engines.FanOut.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
