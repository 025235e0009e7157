package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/duynhne/budget-proxy/internal/core/domain"
	logicv1 "github.com/duynhne/budget-proxy/internal/logic/v1"
)

type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string, details any) {
	c.JSON(status, envelope{Success: false, Error: &errorBody{Message: message, Details: details}})
}

// maxUpstreamBody bounds the upstream body echoed in error details.
const maxUpstreamBody = 512

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// mapError picks the HTTP status and public message for err.
func mapError(err error) (int, string, any) {
	var verr *logicv1.ValidationError
	var rejected *domain.LoginRejectedError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "Validation failed", gin.H{"field": verr.Field, "rule": verr.Rule}
	case errors.As(err, &rejected):
		return http.StatusUnauthorized, "Invalid credentials", gin.H{
			"upstreamStatus": rejected.StatusCode,
			"upstreamBody":   truncate(rejected.Body, maxUpstreamBody),
		}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Document was modified concurrently", nil
	case errors.Is(err, domain.ErrTransport):
		return http.StatusGatewayTimeout, "Upstream unreachable", nil
	case errors.Is(err, domain.ErrTokenMissing),
		errors.Is(err, domain.ErrSessionDataMissing),
		errors.Is(err, domain.ErrIncompleteSession),
		errors.Is(err, domain.ErrSessionCookieMissing),
		errors.Is(err, domain.ErrMissingCredentials),
		errors.Is(err, domain.ErrStoreUnauthorized):
		return http.StatusBadGateway, "Upstream session unavailable", nil
	default:
		return http.StatusInternalServerError, "Internal server error", nil
	}
}
