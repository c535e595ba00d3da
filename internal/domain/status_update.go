package domain

import "github.com/google/uuid"

// UpdateStatus is the per-request status pushed to subscribers.
type UpdateStatus string

// Per-request statuses.
const (
	UpdateStatusQueued     UpdateStatus = "queued"
	UpdateStatusSubmitted  UpdateStatus = "submitted"
	UpdateStatusProcessing UpdateStatus = "processing"
	UpdateStatusCompleted  UpdateStatus = "completed"
	UpdateStatusFailed     UpdateStatus = "failed"
)

// IsTerminal reports whether the request is resolved.
func (s UpdateStatus) IsTerminal() bool {
	return s == UpdateStatusCompleted || s == UpdateStatusFailed
}

// StatusUpdate is an ephemeral progress or result message for one request.
// It is never persisted.
type StatusUpdate struct {
	SessionID       string       `json:"session_id"`
	RequestID       uuid.UUID    `json:"request_id"`
	Status          UpdateStatus `json:"status"`
	Progress        int          `json:"progress"`
	Message         string       `json:"message,omitempty"`
	ResultReference string       `json:"result_reference,omitempty"`
}

// NewProgressUpdate builds a non-terminal update. Progress is clamped to 0..99.
func NewProgressUpdate(req *QueuedRequest, status UpdateStatus, progress int, message string) StatusUpdate {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}
	return StatusUpdate{
		SessionID: req.SessionID,
		RequestID: req.ID,
		Status:    status,
		Progress:  progress,
		Message:   message,
	}
}

// NewFailedUpdate builds the terminal failure update for req.
func NewFailedUpdate(req *QueuedRequest, reason string) StatusUpdate {
	return StatusUpdate{
		SessionID: req.SessionID,
		RequestID: req.ID,
		Status:    UpdateStatusFailed,
		Progress:  100,
		Message:   reason,
	}
}

// NewResultUpdate builds the terminal update for req from its item result.
func NewResultUpdate(req *QueuedRequest, result ItemResult) StatusUpdate {
	if result.Failed() {
		return NewFailedUpdate(req, result.Error)
	}
	return StatusUpdate{
		SessionID:       req.SessionID,
		RequestID:       req.ID,
		Status:          UpdateStatusCompleted,
		Progress:        100,
		ResultReference: result.ResultReference,
	}
}
