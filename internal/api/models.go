package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/batch"
	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// EnqueueRequest is the body of POST /api/generations.
type EnqueueRequest struct {
	SessionID string          `json:"session_id" validate:"required,max=128"`
	Kind      domain.WorkKind `json:"kind"       validate:"required,oneof=tryon_render guidance"`
	Payload   json.RawMessage `json:"payload"    validate:"required"`
}

// EnqueueResponse acknowledges a queued request.
type EnqueueResponse struct {
	RequestID uuid.UUID         `json:"request_id"`
	Queue     batch.QueueStatus `json:"queue"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Queue  batch.QueueStatus `json:"queue"`
	Budget budget.Status     `json:"budget"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Stats         batch.Stats       `json:"stats"`
	Checks        map[string]string `json:"checks,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
}
