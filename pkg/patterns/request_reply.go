package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// SendRequest opens one request/reply exchange.
type SendRequest struct {
	BusinessID      string
	TimeoutSec      int64
	SimulateTimeout bool
	Payload         map[string]any
}

// SendResult identifies the appended request.
type SendResult struct {
	CorrelationID string `json:"correlationId"`
	BusinessID    string `json:"businessId"`
	RequestID     string `json:"requestId"`
	TimeoutSec    int64  `json:"timeoutSec"`
}

// RequestReplyEngine implements correlated request/response over two
// logs, with timeouts driven by key expiration. Every request arms an
// expiring marker; a response disarms it, and if the marker expires
// first the listener synthesizes a TIMEOUT response from the marker's
// shadow. A late real response can still arrive after the synthetic one,
// so response consumers must treat the correlation id as idempotent.
type RequestReplyEngine struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
	cfg     *config.RequestReplyConfig
	logger  *slog.Logger

	responder *worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	started   bool
}

// NewRequestReplyEngine builds the request/reply engine.
func NewRequestReplyEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, cfg *config.RequestReplyConfig) *RequestReplyEngine {
	return &RequestReplyEngine{
		store:   st,
		scripts: scripts,
		bus:     bus,
		cfg:     cfg,
		logger:  slog.With("pattern", "request-reply"),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the timeout listener and, when enabled, the echo
// responder. The responder's group is created at the log origin first.
// Calling Start twice is a no-op.
func (e *RequestReplyEngine) Start(ctx context.Context) error {
	if e.started {
		e.logger.Warn("Request/reply engine already started, ignoring duplicate start")
		return nil
	}

	if err := e.store.CreateGroup(ctx, e.cfg.RequestStream, e.cfg.Group, "0"); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.runTimeoutListener(ctx)

	if e.cfg.ResponderEnabled {
		e.responder = newWorker("responder-"+e.cfg.Consumer, e.cfg.PollInterval, 0, e.respondBatch)
		e.responder.Start(ctx)
	}
	e.started = true
	e.logger.Info("Request/reply engine started",
		"request_stream", e.cfg.RequestStream,
		"response_stream", e.cfg.ResponseStream,
		"responder_enabled", e.cfg.ResponderEnabled)
	return nil
}

// Stop shuts down the listener and responder and waits for both.
func (e *RequestReplyEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.responder != nil {
		e.responder.Stop()
	}
	e.wg.Wait()
	e.logger.Info("Request/reply engine stopped")
}

// Health returns the responder snapshot, if one is running.
func (e *RequestReplyEngine) Health() []WorkerHealth {
	if e.responder == nil {
		return nil
	}
	return []WorkerHealth{e.responder.Health()}
}

// Send opens one exchange: a fresh correlation id, an armed timeout, and
// the request appended, all in one server-side step.
func (e *RequestReplyEngine) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.TimeoutSec < 0 {
		return nil, NewValidationError("timeoutSec", "must be non-negative")
	}
	if req.TimeoutSec == 0 {
		req.TimeoutSec = e.cfg.DefaultTimeoutSec
	}
	if req.BusinessID == "" {
		req.BusinessID = uuid.NewString()
	}
	correlationID := uuid.NewString()

	payload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		payload[k] = v
	}
	if req.SimulateTimeout {
		payload["simulateTimeout"] = "true"
	}

	requestID, err := e.scripts.Request(ctx, e.cfg.RequestStream, e.cfg.ResponseStream,
		correlationID, req.BusinessID, time.Duration(req.TimeoutSec)*time.Second, payload)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request sent",
		"correlation_id", correlationID,
		"business_id", req.BusinessID,
		"timeout_sec", req.TimeoutSec,
		"simulate_timeout", req.SimulateTimeout)
	return &SendResult{
		CorrelationID: correlationID,
		BusinessID:    req.BusinessID,
		RequestID:     requestID,
		TimeoutSec:    req.TimeoutSec,
	}, nil
}

// Respond completes an exchange. The timeout marker is deleted before
// the response is appended, so a racing expiration loses.
func (e *RequestReplyEngine) Respond(ctx context.Context, correlationID, businessID string, payload map[string]any) (string, error) {
	if correlationID == "" {
		return "", NewValidationError("correlationId", "must not be empty")
	}
	return e.scripts.Response(ctx, e.cfg.ResponseStream, correlationID, businessID, payload)
}

// Responses returns the newest count entries of the response log.
func (e *RequestReplyEngine) Responses(ctx context.Context, count int64) ([]store.Entry, error) {
	if count < 1 {
		count = e.cfg.Batch
	}
	return e.store.RevRangeLatest(ctx, e.cfg.ResponseStream, count)
}

// runTimeoutListener watches expired-key notifications and synthesizes
// TIMEOUT responses for correlations whose marker ran out.
func (e *RequestReplyEngine) runTimeoutListener(ctx context.Context) {
	defer e.wg.Done()
	log := e.logger.With("task", "timeout-listener")

	sub := e.store.PSubscribe(ctx, store.ExpiredKeyEventPattern)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()

	log.Info("Timeout listener started")
	for {
		select {
		case <-e.stopCh:
			log.Info("Timeout listener stopping")
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Warn("Expiration subscription closed")
				return
			}
			correlationID, ok := store.CorrelationIDFromTimeoutKey(msg.Payload)
			if !ok {
				continue
			}
			if err := e.handleTimeout(ctx, correlationID); err != nil {
				log.Error("Timeout handling failed", "correlation_id", correlationID, "error", err)
			}
		}
	}
}

// handleTimeout synthesizes the TIMEOUT response for one expired
// correlation. The shadow records where the response must land and under
// which business id; a missing shadow means a real response won the race
// and there is nothing to do.
func (e *RequestReplyEngine) handleTimeout(ctx context.Context, correlationID string) error {
	shadowKey := store.TimeoutShadowKey(correlationID)
	shadow, err := e.store.HashGetAll(ctx, shadowKey)
	if err != nil {
		return err
	}
	if len(shadow) == 0 {
		return nil
	}

	responseStream := shadow["responseStream"]
	if responseStream == "" {
		responseStream = e.cfg.ResponseStream
	}
	id, err := e.store.Append(ctx, responseStream, map[string]string{
		"correlationId": correlationID,
		"businessId":    shadow["businessId"],
		"status":        "TIMEOUT",
	})
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, shadowKey); err != nil {
		return err
	}

	metrics.RequestTimeouts.Inc()
	e.bus.Publish(events.Failure(fmt.Sprintf("Request %s timed out, synthesized response %s", correlationID, id)))
	e.logger.Warn("Request timed out",
		"correlation_id", correlationID,
		"business_id", shadow["businessId"],
		"response_id", id)
	return nil
}

// respondBatch reads new requests and answers each one, echoing the
// request payload back with an OK status. Requests marked to simulate a
// timeout are acked without a response so the expiration path fires.
func (e *RequestReplyEngine) respondBatch(ctx context.Context) error {
	entries, err := e.store.GroupRead(ctx, e.cfg.RequestStream, e.cfg.Group, e.cfg.Consumer, e.cfg.Batch, 0)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.respondTo(ctx, entry); err != nil {
			// Left pending; visible via the request stream's PEL.
			e.logger.Error("Responder failed", "request_id", entry.ID, "error", err)
		}
	}
	return nil
}

func (e *RequestReplyEngine) respondTo(ctx context.Context, entry store.Entry) error {
	correlationID := entry.Fields["correlationId"]

	if entry.Fields["simulateTimeout"] == "true" || correlationID == "" {
		_, err := e.store.Ack(ctx, e.cfg.RequestStream, e.cfg.Group, entry.ID)
		return err
	}

	payload := map[string]any{"status": "OK"}
	for k, v := range entry.Fields {
		switch k {
		case "correlationId", "businessId", "simulateTimeout":
		default:
			payload[k] = v
		}
	}
	if _, err := e.scripts.Response(ctx, e.cfg.ResponseStream, correlationID, entry.Fields["businessId"], payload); err != nil {
		return err
	}
	if _, err := e.store.Ack(ctx, e.cfg.RequestStream, e.cfg.Group, entry.ID); err != nil {
		return err
	}
	e.bus.Publish(events.Processed(e.cfg.RequestStream, e.cfg.Consumer, entry.ID))
	metrics.MessagesProcessed.WithLabelValues("request-reply").Inc()
	return nil
}
