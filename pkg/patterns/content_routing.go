package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// PaymentRequest is the content router's input.
type PaymentRequest struct {
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
	Country   string  `json:"country"`
	Method    string  `json:"method"`
}

// SubmitResult says where a payment landed.
type SubmitResult struct {
	PaymentID   string `json:"paymentId"`
	Destination string `json:"destination"`
	ID          string `json:"id"`
}

// ContentRule is one row of the router's threshold table, rendered for
// inspection.
type ContentRule struct {
	Range       string `json:"range"`
	Destination string `json:"destination"`
	Description string `json:"description"`
}

// ContentRouter routes payments by amount to exactly one destination
// log. The ranges are half-open, so every finite amount matches exactly
// one row of the table.
type ContentRouter struct {
	store  *store.Client
	bus    *events.Bus
	cfg    *config.ContentRoutingConfig
	logger *slog.Logger
}

// NewContentRouter builds the content router.
func NewContentRouter(st *store.Client, bus *events.Bus, cfg *config.ContentRoutingConfig) *ContentRouter {
	return &ContentRouter{
		store:  st,
		bus:    bus,
		cfg:    cfg,
		logger: slog.With("pattern", "content-routing"),
	}
}

// Destination returns the log an amount routes to.
func (e *ContentRouter) Destination(amount float64) string {
	switch {
	case amount < 0:
		return store.DLQStream(e.cfg.Prefix)
	case amount < e.cfg.StandardMax:
		return e.cfg.Prefix + ".standard"
	case amount < e.cfg.HighRiskMax:
		return e.cfg.Prefix + ".highRisk"
	default:
		return e.cfg.Prefix + ".manualReview"
	}
}

// Destinations lists every log the router can produce to.
func (e *ContentRouter) Destinations() []string {
	return []string{
		e.cfg.Prefix + ".standard",
		e.cfg.Prefix + ".highRisk",
		e.cfg.Prefix + ".manualReview",
		store.DLQStream(e.cfg.Prefix),
	}
}

// Rules renders the threshold table.
func (e *ContentRouter) Rules() []ContentRule {
	return []ContentRule{
		{
			Range:       "amount < 0",
			Destination: store.DLQStream(e.cfg.Prefix),
			Description: "Invalid amounts are dead-lettered for inspection",
		},
		{
			Range:       fmt.Sprintf("0 <= amount < %s", trimFloat(e.cfg.StandardMax)),
			Destination: e.cfg.Prefix + ".standard",
			Description: "Standard processing",
		},
		{
			Range:       fmt.Sprintf("%s <= amount < %s", trimFloat(e.cfg.StandardMax), trimFloat(e.cfg.HighRiskMax)),
			Destination: e.cfg.Prefix + ".highRisk",
			Description: "High risk review",
		},
		{
			Range:       fmt.Sprintf("amount >= %s", trimFloat(e.cfg.HighRiskMax)),
			Destination: e.cfg.Prefix + ".manualReview",
			Description: "Manual review queue",
		},
	}
}

// Submit routes one payment to its destination and returns where it
// landed. A missing payment id gets a generated one.
func (e *ContentRouter) Submit(ctx context.Context, req PaymentRequest) (*SubmitResult, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, NewValidationError("amount", "must be a finite number")
	}
	if req.PaymentID == "" {
		req.PaymentID = uuid.NewString()
	}

	dest := e.Destination(req.Amount)
	fields := map[string]string{
		"paymentId": req.PaymentID,
		"amount":    strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"country":   req.Country,
		"method":    req.Method,
	}
	id, err := e.store.Append(ctx, dest, fields)
	if err != nil {
		return nil, err
	}

	metrics.MessagesRouted.WithLabelValues("content").Inc()
	if req.Amount < 0 {
		metrics.MessagesDeadLettered.WithLabelValues("content").Inc()
	}
	e.bus.Publish(events.InfoFor(dest, "Payment routed", map[string]string{
		"paymentId": req.PaymentID,
		"amount":    fields["amount"],
	}))
	e.logger.Info("Payment routed", "payment_id", req.PaymentID, "amount", req.Amount, "destination", dest)
	return &SubmitResult{PaymentID: req.PaymentID, Destination: dest, ID: id}, nil
}

// Clear deletes every destination log.
func (e *ContentRouter) Clear(ctx context.Context) error {
	return e.store.Delete(ctx, e.Destinations()...)
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
