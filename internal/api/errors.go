package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/garmax-api/internal/batch"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/notify"
	"github.com/phrazzld/garmax-api/internal/service/auth"
	"github.com/phrazzld/garmax-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, batch.ErrAggregatorClosed),
		errors.Is(err, notify.ErrConnectionClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, store.ErrBatchNotFound):
		return "Request has not been batched"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "Invalid payload"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidID):
		return "Invalid request"
	case errors.Is(err, batch.ErrAggregatorClosed):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}
