package api

import (
	"github.com/gin-gonic/gin"
)

// pubsubPublishRequest names a channel and the payload to fire at it.
type pubsubPublishRequest struct {
	Channel string `json:"channel" binding:"required"`
	Payload string `json:"payload"`
}

// pubsubRoutedRequest publishes through a dot-segmented routing key.
type pubsubRoutedRequest struct {
	RoutingKey string `json:"routingKey" binding:"required"`
	Payload    string `json:"payload"`
}

// pubsubPublishHandler handles POST /api/pubsub/publish.
func (s *Server) pubsubPublishHandler(c *gin.Context) {
	var req pubsubPublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	n, err := s.engines.PubSub.Publish(c.Request.Context(), req.Channel, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, PublishResponse{Channel: req.Channel, Subscribers: n})
}

// pubsubRoutedPublishHandler handles POST /api/pubsub-topic-routing/publish.
// The routing key is the channel; subscribers pick messages up through
// glob patterns over the dot-separated segments.
func (s *Server) pubsubRoutedPublishHandler(c *gin.Context) {
	var req pubsubRoutedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	n, err := s.engines.PubSub.PublishRouted(c.Request.Context(), req.RoutingKey, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, PublishResponse{Channel: req.RoutingKey, Subscribers: n})
}
