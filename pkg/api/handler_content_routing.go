package api

import (
	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
)

// contentSubmitRequest carries a payment for content-based routing.
// Amount is a pointer so a literal 0 still binds.
type contentSubmitRequest struct {
	PaymentID string   `json:"paymentId"`
	Amount    *float64 `json:"amount" binding:"required"`
	Country   string   `json:"country"`
	Method    string   `json:"method"`
}

// contentSubmitHandler handles POST /api/content-routing/submit.
func (s *Server) contentSubmitHandler(c *gin.Context) {
	var req contentSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := s.engines.ContentRouting.Submit(c.Request.Context(), patterns.PaymentRequest{
		PaymentID: req.PaymentID,
		Amount:    *req.Amount,
		Country:   req.Country,
		Method:    req.Method,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// contentRulesHandler handles GET /api/content-routing/rules.
func (s *Server) contentRulesHandler(c *gin.Context) {
	respondOK(c, gin.H{
		"rules":        s.engines.ContentRouting.Rules(),
		"destinations": s.engines.ContentRouting.Destinations(),
	})
}

// contentRoutingClearHandler handles DELETE /api/content-routing/clear.
func (s *Server) contentRoutingClearHandler(c *gin.Context) {
	if err := s.engines.ContentRouting.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}
