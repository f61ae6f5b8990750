package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateScheduledHandler_Validation(t *testing.T) {
	s := newReadyTestServer()
	future := time.Now().Add(time.Hour).UnixMilli()

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "malformed JSON",
			body:   `{"title":`,
			errMsg: "invalid request body",
		},
		{
			name:   "missing title",
			body:   fmt.Sprintf(`{"scheduledFor":%d}`, future),
			errMsg: "title",
		},
		{
			name:   "due time in the past",
			body:   `{"title":"ship order","scheduledFor":1000}`,
			errMsg: "scheduledFor",
		},
		{
			name:   "due time missing",
			body:   `{"title":"ship order"}`,
			errMsg: "scheduledFor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/scheduled-messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.errMsg)
		})
	}
}
