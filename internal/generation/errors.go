package generation

import (
	"context"
	"errors"
	"net"
)

// Common errors returned by generation backends
var (
	// ErrTransientFailure is returned for timeouts, 5xx responses and rate
	// limiting. Submissions failing this way may move to an alternate backend.
	ErrTransientFailure = errors.New("transient backend failure")

	// ErrPermanentFailure is returned for rejected requests that will fail the
	// same way on any retry.
	ErrPermanentFailure = errors.New("permanent backend failure")

	// ErrInvalidResponse is returned when the backend response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from generation backend")

	// ErrContentBlocked is returned when the backend blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by generation backend safety filters")

	// ErrInvalidConfig is returned when a backend configuration is invalid
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrUnknownBackend is returned when a handle names a backend the router
	// does not know.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNoBackends is returned when a router is built without backends.
	ErrNoBackends = errors.New("no backends configured")
)

// IsTransient reports whether err should be treated as a transient failure.
// Deadline expiry and network timeouts count as transient; cancellation of the
// caller's context does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentFailure) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransientFailure) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
