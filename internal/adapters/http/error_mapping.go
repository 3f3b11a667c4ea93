package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
	"github.com/oncallai/clinical-assistant/internal/infrastructure/resilience"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case resilience.Open(err):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage keeps backend details out of responses; the full error
// is logged with the request ID.
func publicErrorMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "upstream timeout"
	default:
		return "internal error"
	}
}
