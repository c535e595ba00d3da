package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/garmax-api/internal/generation"
	"google.golang.org/genai"
)

// Error definitions for the gemini package.
var (
	// ErrUnsupportedPayload is returned for payload kinds without a prompt.
	ErrUnsupportedPayload = errors.New("unsupported payload")

	// ErrNoArtifact is returned when a response carries no image data.
	ErrNoArtifact = errors.New("response contained no image")
)

// classifyError wraps err with generation.ErrTransientFailure or
// generation.ErrPermanentFailure. Cancellation passes through untouched.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, generation.ErrTransientFailure) ||
		errors.Is(err, generation.ErrPermanentFailure) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code, err)
	}

	// No status means the request never got an answer: timeouts, resets, DNS.
	return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
}

func classifyStatus(code int, err error) error {
	if isTransientStatus(code) {
		return fmt.Errorf("%w: gemini status %d: %w", generation.ErrTransientFailure, code, err)
	}
	return fmt.Errorf("%w: gemini status %d: %w", generation.ErrPermanentFailure, code, err)
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
