package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestReplySendHandler_Validation(t *testing.T) {
	s := newReadyTestServer()

	t.Run("negative timeout", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/request-reply/send", `{"timeoutSec":-5}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Contains(t, resp.Error, "timeoutSec")
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/request-reply/send", `{"payload":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
