package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by the API.
type ContextKey string

// Context keys for various values
const (
	// OwnerIDContextKey is the context key for the authenticated owner ID
	OwnerIDContextKey ContextKey = "ownerID"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a trace ID
	TraceIDLength = 16
)

// SetTraceID adds a fresh trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithOwnerID stores the authenticated owner in ctx.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, OwnerIDContextKey, ownerID)
}

// OwnerID returns the authenticated owner stored by the auth middleware.
func OwnerID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(OwnerIDContextKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// generateTraceID returns 32 hex characters. crypto/rand.Read never fails
// on supported platforms.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
