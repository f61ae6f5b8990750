package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streampatterns/streampatterns/pkg/patterns"
	"github.com/streampatterns/streampatterns/pkg/store"
)

// mapEngineError maps engine and store errors to an HTTP status and a
// client-safe message.
func mapEngineError(err error) (int, string) {
	var validErr *patterns.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	if errors.Is(err, patterns.ErrInvalidInput) || store.IsValidation(err) {
		return http.StatusBadRequest, err.Error()
	}
	if errors.Is(err, patterns.ErrNotFound) || store.IsNotFound(err) {
		return http.StatusNotFound, err.Error()
	}
	if errors.Is(err, patterns.ErrAlreadyExists) {
		return http.StatusConflict, err.Error()
	}
	if errors.Is(err, patterns.ErrEngineStopped) {
		return http.StatusServiceUnavailable, "engines are not ready"
	}
	if store.IsTimeout(err) {
		return http.StatusGatewayTimeout, "store call timed out"
	}
	if store.IsConnectivity(err) {
		return http.StatusServiceUnavailable, "store unavailable"
	}

	// Unexpected error. Log it and keep the cause out of the response.
	slog.Error("Unexpected engine error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

func respondError(c *gin.Context, err error) {
	status, message := mapEngineError(err)
	c.JSON(status, Response{Success: false, Error: message})
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
}
