package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// RoutingRule is one exchange rule. Patterns use the store's native
// match syntax and are evaluated server-side at routing time; priority
// orders the rules (lower first, ties by id) and stopOnMatch ends the
// walk after the rule fires.
type RoutingRule struct {
	ID          string `json:"id"`
	Pattern     string `json:"pattern"`
	Destination string `json:"destination"`
	Description string `json:"description,omitempty"`
	Priority    int64  `json:"priority"`
	Enabled     bool   `json:"enabled"`
	StopOnMatch bool   `json:"stopOnMatch"`
}

// Validate reports the first invalid rule field.
func (r RoutingRule) Validate() error {
	switch {
	case r.ID == "":
		return NewValidationError("id", "must not be empty")
	case r.Pattern == "":
		return NewValidationError("pattern", "must not be empty")
	case r.Destination == "":
		return NewValidationError("destination", "must not be empty")
	case r.Priority < 1 || r.Priority > 999:
		return NewValidationError("priority", "must be between 1 and 999")
	}
	return nil
}

// RoutingMeta describes an exchange's rule set.
type RoutingMeta struct {
	MaxRules    int64  `json:"maxRules"`
	Version     int64  `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
	Description string `json:"description,omitempty"`
}

// DefaultRules is the rule set materialized for an exchange on first use
// or explicit reset. R99 outranks the others (priority 10) and stops the
// walk, so cancelled orders route to the audit log and nowhere else.
func DefaultRules() []RoutingRule {
	return []RoutingRule{
		{ID: "R10", Pattern: "^order%.", Destination: "events.order.v1", Description: "All order events", Priority: 100, Enabled: true},
		{ID: "R20", Pattern: "%.vip%.", Destination: "events.notification.vip", Description: "VIP segment notifications", Priority: 100, Enabled: true},
		{ID: "R99", Pattern: "^order%.cancelled%.", Destination: "events.audit.cancelled", Description: "Cancelled order audit trail", Priority: 10, Enabled: true, StopOnMatch: true},
	}
}

// TopicRoutingEngine manages per-exchange rule sets and routes messages
// through them. Rules live in a hash keyed by rule id, metadata in a
// sibling hash; the routing walk itself runs server-side so a message
// lands on the exchange log and every matched destination atomically.
type TopicRoutingEngine struct {
	store   *store.Client
	scripts *store.Scripts
	bus     *events.Bus
	cfg     *config.TopicRoutingConfig
	logger  *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewTopicRoutingEngine builds the topic-routing engine.
func NewTopicRoutingEngine(st *store.Client, scripts *store.Scripts, bus *events.Bus, cfg *config.TopicRoutingConfig) *TopicRoutingEngine {
	return &TopicRoutingEngine{
		store:   st,
		scripts: scripts,
		bus:     bus,
		cfg:     cfg,
		logger:  slog.With("pattern", "topic-routing"),
		ensured: make(map[string]bool),
	}
}

// Exchange returns the configured demo exchange name.
func (e *TopicRoutingEngine) Exchange() string {
	return e.cfg.Exchange
}

// RoutingKeys returns the sample routing keys offered by the demo.
func (e *TopicRoutingEngine) RoutingKeys() []string {
	keys := make([]string, len(e.cfg.SampleKeys))
	copy(keys, e.cfg.SampleKeys)
	return keys
}

// Route records the message on the exchange and fans copies out to every
// destination the rule walk matches.
func (e *TopicRoutingEngine) Route(ctx context.Context, routingKey string, payload map[string]any) (*store.RouteResult, error) {
	if routingKey == "" {
		return nil, NewValidationError("routingKey", "must not be empty")
	}
	if err := e.ensureDefaults(ctx, e.cfg.Exchange); err != nil {
		return nil, err
	}

	res, err := e.scripts.RouteMessage(ctx, e.cfg.Exchange, routingKey, payload)
	if err != nil {
		return nil, err
	}
	metrics.MessagesRouted.WithLabelValues("topic").Add(float64(len(res.Routed)))
	e.bus.Publish(events.InfoFor(e.cfg.Exchange,
		fmt.Sprintf("Routed %q to %d destination(s)", routingKey, len(res.Routed)),
		map[string]string{"routingKey": routingKey, "exchangeId": res.ExchangeID}))
	return res, nil
}

// ListRules returns an exchange's rules in evaluation order.
func (e *TopicRoutingEngine) ListRules(ctx context.Context, exchange string) ([]RoutingRule, error) {
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return nil, err
	}
	raw, err := e.store.HashGetAll(ctx, store.RoutingRulesKey(exchange))
	if err != nil {
		return nil, err
	}

	rules := make([]RoutingRule, 0, len(raw))
	for id, encoded := range raw {
		var rule RoutingRule
		if err := json.Unmarshal([]byte(encoded), &rule); err != nil {
			e.logger.Warn("Skipping undecodable rule", "exchange", exchange, "rule_id", id, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	sortRules(rules)
	return rules, nil
}

// sortRules orders rules the way the routing walk evaluates them:
// priority ascending, ties by id.
func sortRules(rules []RoutingRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// GetRule returns one rule by id.
func (e *TopicRoutingEngine) GetRule(ctx context.Context, exchange, id string) (*RoutingRule, error) {
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return nil, err
	}
	encoded, err := e.store.HashGetField(ctx, store.RoutingRulesKey(exchange), id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rule RoutingRule
	if err := json.Unmarshal([]byte(encoded), &rule); err != nil {
		return nil, fmt.Errorf("decoding rule %q: %w", id, err)
	}
	return &rule, nil
}

// CreateRule adds a rule to an exchange, enforcing the rule limit and
// probing the pattern server-side before anything is written.
func (e *TopicRoutingEngine) CreateRule(ctx context.Context, exchange string, rule RoutingRule) error {
	if err := e.validateRule(ctx, rule); err != nil {
		return err
	}
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return err
	}

	rulesKey := store.RoutingRulesKey(exchange)
	if _, err := e.store.HashGetField(ctx, rulesKey, rule.ID); err == nil {
		return fmt.Errorf("rule %q: %w", rule.ID, ErrAlreadyExists)
	} else if !store.IsNotFound(err) {
		return err
	}

	meta, err := e.Meta(ctx, exchange)
	if err != nil {
		return err
	}
	count, err := e.store.HashLen(ctx, rulesKey)
	if err != nil {
		return err
	}
	if count >= meta.MaxRules {
		return NewValidationError("rules", fmt.Sprintf("rule limit reached (max %d)", meta.MaxRules))
	}

	if err := e.writeRule(ctx, exchange, rule); err != nil {
		return err
	}
	e.logger.Info("Routing rule created", "exchange", exchange, "rule_id", rule.ID, "destination", rule.Destination)
	return nil
}

// UpdateRule replaces an existing rule.
func (e *TopicRoutingEngine) UpdateRule(ctx context.Context, exchange string, rule RoutingRule) error {
	if err := e.validateRule(ctx, rule); err != nil {
		return err
	}
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return err
	}

	if _, err := e.store.HashGetField(ctx, store.RoutingRulesKey(exchange), rule.ID); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("rule %q: %w", rule.ID, ErrNotFound)
		}
		return err
	}
	if err := e.writeRule(ctx, exchange, rule); err != nil {
		return err
	}
	e.logger.Info("Routing rule updated", "exchange", exchange, "rule_id", rule.ID)
	return nil
}

// DeleteRule removes one rule by id.
func (e *TopicRoutingEngine) DeleteRule(ctx context.Context, exchange, id string) error {
	if id == "" {
		return NewValidationError("id", "must not be empty")
	}
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return err
	}
	n, err := e.store.HashDelete(ctx, store.RoutingRulesKey(exchange), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	if err := e.bumpMeta(ctx, exchange); err != nil {
		return err
	}
	e.logger.Info("Routing rule deleted", "exchange", exchange, "rule_id", id)
	return nil
}

// Meta returns an exchange's rule-set metadata.
func (e *TopicRoutingEngine) Meta(ctx context.Context, exchange string) (*RoutingMeta, error) {
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return nil, err
	}
	raw, err := e.store.HashGetAll(ctx, store.RoutingMetaKey(exchange))
	if err != nil {
		return nil, err
	}
	meta := &RoutingMeta{
		UpdatedAt:   raw["updatedAt"],
		Description: raw["description"],
	}
	meta.MaxRules, _ = strconv.ParseInt(raw["maxRules"], 10, 64)
	meta.Version, _ = strconv.ParseInt(raw["version"], 10, 64)
	if meta.MaxRules < 1 {
		meta.MaxRules = e.cfg.MaxRules
	}
	return meta, nil
}

// UpdateMeta changes the rule limit and description. Lowering the limit
// below the current rule count is allowed; the routing walk simply
// evaluates only the first maxRules rules in order.
func (e *TopicRoutingEngine) UpdateMeta(ctx context.Context, exchange string, maxRules int64, description string) (*RoutingMeta, error) {
	if maxRules < 1 {
		return nil, NewValidationError("maxRules", "must be at least 1")
	}
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return nil, err
	}
	if err := e.store.HashSet(ctx, store.RoutingMetaKey(exchange), map[string]string{
		"maxRules":    strconv.FormatInt(maxRules, 10),
		"description": description,
	}); err != nil {
		return nil, err
	}
	if err := e.bumpMeta(ctx, exchange); err != nil {
		return nil, err
	}
	return e.Meta(ctx, exchange)
}

// Reset drops an exchange's rules and metadata and materializes the
// default rule set again.
func (e *TopicRoutingEngine) Reset(ctx context.Context, exchange string) error {
	if err := e.store.Delete(ctx, store.RoutingRulesKey(exchange), store.RoutingMetaKey(exchange)); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.ensured, exchange)
	e.mu.Unlock()
	if err := e.ensureDefaults(ctx, exchange); err != nil {
		return err
	}
	e.logger.Info("Routing rules reset to defaults", "exchange", exchange)
	return nil
}

// Clear deletes the exchange log and every destination log the current
// rules point at. Rules and metadata survive.
func (e *TopicRoutingEngine) Clear(ctx context.Context) error {
	rules, err := e.ListRules(ctx, e.cfg.Exchange)
	if err != nil {
		return err
	}
	keys := []string{e.cfg.Exchange}
	seen := map[string]bool{e.cfg.Exchange: true}
	for _, rule := range rules {
		if !seen[rule.Destination] {
			keys = append(keys, rule.Destination)
			seen[rule.Destination] = true
		}
	}
	return e.store.Delete(ctx, keys...)
}

// validateRule combines field validation with the server-side pattern
// probe.
func (e *TopicRoutingEngine) validateRule(ctx context.Context, rule RoutingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	ok, err := e.scripts.ProbePattern(ctx, rule.Pattern)
	if err != nil {
		return err
	}
	if !ok {
		return NewValidationError("pattern", fmt.Sprintf("%q does not compile", rule.Pattern))
	}
	return nil
}

// writeRule persists one rule and bumps the metadata version.
func (e *TopicRoutingEngine) writeRule(ctx context.Context, exchange string, rule RoutingRule) error {
	encoded, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	if err := e.store.HashSetField(ctx, store.RoutingRulesKey(exchange), rule.ID, string(encoded)); err != nil {
		return err
	}
	return e.bumpMeta(ctx, exchange)
}

// bumpMeta increments the rule-set version and stamps the update time.
func (e *TopicRoutingEngine) bumpMeta(ctx context.Context, exchange string) error {
	metaKey := store.RoutingMetaKey(exchange)
	if _, err := e.store.HashIncrBy(ctx, metaKey, "version", 1); err != nil {
		return err
	}
	return e.store.HashSetField(ctx, metaKey, "updatedAt", time.Now().UTC().Format(time.RFC3339))
}

// ensureDefaults materializes the default rule set the first time an
// exchange is touched. The in-memory marker only short-circuits repeat
// checks; the authoritative signal is the rules hash itself.
func (e *TopicRoutingEngine) ensureDefaults(ctx context.Context, exchange string) error {
	if exchange == "" {
		return NewValidationError("exchange", "must not be empty")
	}
	e.mu.Lock()
	done := e.ensured[exchange]
	e.mu.Unlock()
	if done {
		return nil
	}

	count, err := e.store.HashLen(ctx, store.RoutingRulesKey(exchange))
	if err != nil {
		return err
	}
	metaLen, err := e.store.HashLen(ctx, store.RoutingMetaKey(exchange))
	if err != nil {
		return err
	}
	if count == 0 && metaLen == 0 {
		if err := e.materializeDefaults(ctx, exchange); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.ensured[exchange] = true
	e.mu.Unlock()
	return nil
}

func (e *TopicRoutingEngine) materializeDefaults(ctx context.Context, exchange string) error {
	rules := make(map[string]string, 3)
	for _, rule := range DefaultRules() {
		encoded, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		rules[rule.ID] = string(encoded)
	}
	if err := e.store.HashSet(ctx, store.RoutingRulesKey(exchange), rules); err != nil {
		return err
	}
	if err := e.store.HashSet(ctx, store.RoutingMetaKey(exchange), map[string]string{
		"maxRules":    strconv.FormatInt(e.cfg.MaxRules, 10),
		"version":     "1",
		"updatedAt":   time.Now().UTC().Format(time.RFC3339),
		"description": "Default rule set",
	}); err != nil {
		return err
	}
	e.logger.Info("Default routing rules materialized", "exchange", exchange, "rules", len(rules))
	return nil
}
