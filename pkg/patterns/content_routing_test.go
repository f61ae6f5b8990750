package patterns

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampatterns/streampatterns/pkg/config"
)

func newTestContentRouter() *ContentRouter {
	return NewContentRouter(nil, nil, &config.ContentRoutingConfig{
		Prefix:      "payments.v1",
		StandardMax: 100,
		HighRiskMax: 10000,
	})
}

func TestContentRouter_Destination(t *testing.T) {
	e := newTestContentRouter()

	tests := []struct {
		amount float64
		want   string
	}{
		{-0.01, "payments.v1:dlq"},
		{-50000, "payments.v1:dlq"},
		{0, "payments.v1.standard"},
		{99.99, "payments.v1.standard"},
		{100, "payments.v1.highRisk"},
		{9999.99, "payments.v1.highRisk"},
		{10000, "payments.v1.manualReview"},
		{1e12, "payments.v1.manualReview"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Destination(tt.amount), "amount %v", tt.amount)
	}
}

func TestContentRouter_EveryAmountHasExactlyOneDestination(t *testing.T) {
	e := newTestContentRouter()
	valid := map[string]bool{}
	for _, dest := range e.Destinations() {
		valid[dest] = true
	}

	for _, amount := range []float64{-1e9, -1, -0.001, 0, 0.001, 50, 99.999, 100, 100.001, 5000, 9999.999, 10000, 10000.001, 1e9} {
		dest := e.Destination(amount)
		assert.True(t, valid[dest], "amount %v routed to unknown destination %q", amount, dest)
	}
}

func TestContentRouter_SubmitRejectsNonFiniteAmounts(t *testing.T) {
	e := newTestContentRouter()

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := e.Submit(context.Background(), PaymentRequest{Amount: amount})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	}
}

func TestContentRouter_RulesCoverAllDestinations(t *testing.T) {
	e := newTestContentRouter()
	rules := e.Rules()
	require.Len(t, rules, 4)

	destinations := map[string]bool{}
	for _, rule := range rules {
		destinations[rule.Destination] = true
	}
	for _, dest := range e.Destinations() {
		assert.True(t, destinations[dest], "threshold table missing %q", dest)
	}

	assert.Equal(t, "0 <= amount < 100", rules[1].Range)
	assert.Equal(t, "100 <= amount < 10000", rules[2].Range)
}
