// Package api exposes the pattern gallery's HTTP control plane and the
// WebSocket telemetry feed. Handlers are thin: bind, validate, call the
// engine, map the error. All state lives in the store or the engines.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/patterns"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// Engines bundles the pattern engines the API fronts.
type Engines struct {
	Registry       *patterns.ConfigRegistry
	DLQ            *patterns.DLQEngine
	WorkQueue      *patterns.WorkQueueEngine
	FanOut         *patterns.FanOutEngine
	TopicRouting   *patterns.TopicRoutingEngine
	ContentRouting *patterns.ContentRouter
	RequestReply   *patterns.RequestReplyEngine
	Scheduler      *patterns.SchedulerEngine
	PubSub         *patterns.PubSubEngine
	Monitor        *patterns.Monitor
}

// Server is the HTTP server fronting the engines.
type Server struct {
	cfg     *config.Config
	store   *store.Client
	bus     *events.Bus
	engines Engines

	ready  atomic.Bool
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the server and its route table.
func NewServer(cfg *config.Config, st *store.Client, bus *events.Bus, engines Engines) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		engines: engines,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), securityHeaders())

	router.GET("/healthz", s.healthzHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/dlq-events", s.dlqEventsHandler)

	apiGroup := router.Group("/api", s.requireReady())

	dlq := apiGroup.Group("/dlq")
	dlq.POST("/claim", s.dlqClaimHandler)
	dlq.POST("/init", s.dlqInitHandler)
	dlq.POST("/produce", s.dlqProduceHandler)
	dlq.GET("/messages", s.dlqMessagesHandler)
	dlq.GET("/pending-messages", s.dlqPendingMessagesHandler)
	dlq.GET("/next-message", s.dlqNextMessageHandler)
	dlq.POST("/process", s.dlqProcessHandler)
	dlq.GET("/config", s.dlqGetConfigHandler)
	dlq.POST("/config", s.dlqSetConfigHandler)
	dlq.DELETE("/cleanup", s.dlqCleanupHandler)
	dlq.DELETE("/stream/:name", s.dlqDeleteStreamHandler)

	workQueue := apiGroup.Group("/work-queue")
	workQueue.POST("/produce", s.workQueueProduceHandler)
	workQueue.DELETE("/clear", s.workQueueClearHandler)

	fanOut := apiGroup.Group("/fan-out")
	fanOut.POST("/produce", s.fanOutProduceHandler)
	fanOut.DELETE("/clear", s.fanOutClearHandler)

	topicRouting := apiGroup.Group("/topic-routing")
	topicRouting.POST("/route", s.topicRouteHandler)
	topicRouting.GET("/routing-keys", s.routingKeysHandler)
	topicRouting.DELETE("/clear", s.topicRoutingClearHandler)

	rules := apiGroup.Group("/routing-rules/:exchange")
	rules.GET("/rules", s.listRulesHandler)
	rules.POST("/rules", s.createRuleHandler)
	rules.GET("/rules/:id", s.getRuleHandler)
	rules.PUT("/rules/:id", s.updateRuleHandler)
	rules.DELETE("/rules/:id", s.deleteRuleHandler)
	rules.GET("/metadata", s.getRuleMetaHandler)
	rules.PUT("/metadata", s.updateRuleMetaHandler)
	rules.POST("/reset", s.resetRulesHandler)

	contentRouting := apiGroup.Group("/content-routing")
	contentRouting.POST("/submit", s.contentSubmitHandler)
	contentRouting.GET("/rules", s.contentRulesHandler)
	contentRouting.DELETE("/clear", s.contentRoutingClearHandler)

	apiGroup.POST("/request-reply/send", s.requestReplySendHandler)

	scheduled := apiGroup.Group("/scheduled-messages")
	scheduled.GET("", s.listScheduledHandler)
	scheduled.POST("", s.createScheduledHandler)
	scheduled.GET("/:id", s.getScheduledHandler)
	scheduled.PUT("/:id", s.updateScheduledHandler)
	scheduled.DELETE("/:id", s.deleteScheduledHandler)
	scheduled.DELETE("/clear", s.clearScheduledHandler)

	apiGroup.POST("/pubsub/publish", s.pubsubPublishHandler)
	apiGroup.POST("/pubsub-topic-routing/publish", s.pubsubRoutedPublishHandler)

	s.router = router
	return s
}

// SetReady flips the readiness gate. The /api group returns 503 until the
// engines are started.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requireReady rejects control-plane calls until the engines are up.
func (s *Server) requireReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ready.Load() {
			respondError(c, patterns.ErrEngineStopped)
			c.Abort()
			return
		}
		c.Next()
	}
}

// healthzHandler handles GET /healthz. It reports the store connection and
// per-engine worker state; 503 until the bootstrap flips the readiness
// flag, so orchestrators do not route traffic to a half-started process.
func (s *Server) healthzHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: healthStatusStarting})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status: healthStatusHealthy,
		Checks: map[string]HealthCheck{},
		Workers: map[string][]patterns.WorkerHealth{
			"work-queue":    s.engines.WorkQueue.Health(),
			"fan-out":       s.engines.FanOut.Health(),
			"request-reply": s.engines.RequestReply.Health(),
			"scheduler":     s.engines.Scheduler.Health(),
			"monitor":       s.engines.Monitor.Health(),
		},
	}

	if err := s.store.Ping(ctx); err != nil {
		resp.Status = healthStatusUnhealthy
		resp.Checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		resp.Checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
