package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQClaimHandler_Validation(t *testing.T) {
	// Binding failures only. Claim behavior against a live store is
	// covered by the engine tests.
	s := newReadyTestServer()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed JSON", body: "{"},
		{name: "wrong field type", body: `{"minIdleMs": "soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/dlq/claim", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, "invalid request body")
		})
	}
}

func TestDLQProcessHandler_Validation(t *testing.T) {
	s := newReadyTestServer()

	t.Run("missing shouldSucceed", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/dlq/process", `{"streamName":"orders.v1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Contains(t, resp.Error, "invalid request body")
	})

	t.Run("wrong verdict type", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/dlq/process", `{"shouldSucceed":"yes"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDLQProduceHandler_Validation(t *testing.T) {
	s := newReadyTestServer()

	rec := doRequest(t, s, http.MethodPost, "/api/dlq/produce", `{"streamName":"orders.v1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Error, "payload")
}

func TestDLQConfigHandlers(t *testing.T) {
	s := newReadyTestServer()

	t.Run("unknown stream gets the defaults", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/dlq/config?streamName=orders.v1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool          `json:"success"`
			Data    DLQConfigView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "orders.v1", resp.Data.StreamName)
		assert.Equal(t, s.cfg.DLQ.MaxDeliveries, resp.Data.MaxDeliveries)
		assert.Equal(t, s.cfg.DLQ.MinIdle.Milliseconds(), resp.Data.MinIdleMs)
	})

	t.Run("override round-trips", func(t *testing.T) {
		body := `{"streamName":"payments.v1","minIdleMs":5000,"maxDeliveries":2,"count":5}`
		rec := doRequest(t, s, http.MethodPost, "/api/dlq/config", body)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, s, http.MethodGet, "/api/dlq/config?streamName=payments.v1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool          `json:"success"`
			Data    DLQConfigView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(5000), resp.Data.MinIdleMs)
		assert.Equal(t, int64(2), resp.Data.MaxDeliveries)
		assert.Equal(t, int64(5), resp.Data.Count)
	})

	t.Run("missing streamName rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/dlq/config", `{"minIdleMs":5000,"maxDeliveries":2,"count":5}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("zero count rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/dlq/config", `{"streamName":"payments.v1","minIdleMs":5000,"maxDeliveries":2}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Contains(t, resp.Error, "count")
	})
}
