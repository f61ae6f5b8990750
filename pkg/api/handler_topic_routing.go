package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
)

// topicRouteHandler handles POST /api/topic-routing/route. The routingKey
// query parameter selects the rules; the JSON body is the message payload.
func (s *Server) topicRouteHandler(c *gin.Context) {
	payload := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondBindError(c, err)
			return
		}
	}

	result, err := s.engines.TopicRouting.Route(c.Request.Context(), c.Query("routingKey"), payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// routingKeysHandler handles GET /api/topic-routing/routing-keys.
func (s *Server) routingKeysHandler(c *gin.Context) {
	respondOK(c, gin.H{
		"exchange":    s.engines.TopicRouting.Exchange(),
		"routingKeys": s.engines.TopicRouting.RoutingKeys(),
	})
}

// topicRoutingClearHandler handles DELETE /api/topic-routing/clear. The
// exchange and destination logs go; the rules survive.
func (s *Server) topicRoutingClearHandler(c *gin.Context) {
	if err := s.engines.TopicRouting.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}

// listRulesHandler handles GET /api/routing-rules/:exchange/rules.
func (s *Server) listRulesHandler(c *gin.Context) {
	rules, err := s.engines.TopicRouting.ListRules(c.Request.Context(), c.Param("exchange"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"rules": rules})
}

// createRuleHandler handles POST /api/routing-rules/:exchange/rules.
func (s *Server) createRuleHandler(c *gin.Context) {
	var rule patterns.RoutingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBindError(c, err)
		return
	}

	if err := s.engines.TopicRouting.CreateRule(c.Request.Context(), c.Param("exchange"), rule); err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, rule)
}

// getRuleHandler handles GET /api/routing-rules/:exchange/rules/:id.
func (s *Server) getRuleHandler(c *gin.Context) {
	rule, err := s.engines.TopicRouting.GetRule(c.Request.Context(), c.Param("exchange"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rule)
}

// updateRuleHandler handles PUT /api/routing-rules/:exchange/rules/:id.
// The path id wins over any id in the body.
func (s *Server) updateRuleHandler(c *gin.Context) {
	var rule patterns.RoutingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBindError(c, err)
		return
	}
	rule.ID = c.Param("id")

	if err := s.engines.TopicRouting.UpdateRule(c.Request.Context(), c.Param("exchange"), rule); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rule)
}

// deleteRuleHandler handles DELETE /api/routing-rules/:exchange/rules/:id.
func (s *Server) deleteRuleHandler(c *gin.Context) {
	if err := s.engines.TopicRouting.DeleteRule(c.Request.Context(), c.Param("exchange"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// getRuleMetaHandler handles GET /api/routing-rules/:exchange/metadata.
func (s *Server) getRuleMetaHandler(c *gin.Context) {
	meta, err := s.engines.TopicRouting.Meta(c.Request.Context(), c.Param("exchange"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, meta)
}

// updateRuleMetaHandler handles PUT /api/routing-rules/:exchange/metadata.
func (s *Server) updateRuleMetaHandler(c *gin.Context) {
	var req struct {
		MaxRules    int64  `json:"maxRules"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	meta, err := s.engines.TopicRouting.UpdateMeta(c.Request.Context(), c.Param("exchange"), req.MaxRules, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, meta)
}

// resetRulesHandler handles POST /api/routing-rules/:exchange/reset.
func (s *Server) resetRulesHandler(c *gin.Context) {
	exchange := c.Param("exchange")
	if err := s.engines.TopicRouting.Reset(c.Request.Context(), exchange); err != nil {
		respondError(c, err)
		return
	}

	rules, err := s.engines.TopicRouting.ListRules(c.Request.Context(), exchange)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"rules": rules})
}
