package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/api/shared"
	"github.com/phrazzld/garmax-api/internal/batch"
	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// Queue is the request aggregator as seen by the API.
type Queue interface {
	Enqueue(ctx context.Context, ownerID uuid.UUID, sessionID string, payload domain.Payload) (uuid.UUID, error)
	WithdrawOwned(requestID, ownerID uuid.UUID) bool
	QueueStatus() batch.QueueStatus
}

// BatchFinder looks up the batch a request was drained into.
type BatchFinder interface {
	FindBatchByMemberRequest(ctx context.Context, requestID uuid.UUID) (*domain.Batch, error)
}

// BudgetReporter exposes the budget governor's current view.
type BudgetReporter interface {
	Status(ctx context.Context) budget.Status
}

// GenerationHandler serves the generation request endpoints.
type GenerationHandler struct {
	queue   Queue
	batches BatchFinder
	budget  BudgetReporter
	logger  *slog.Logger
}

// NewGenerationHandler creates a GenerationHandler.
func NewGenerationHandler(queue Queue, batches BatchFinder, budget BudgetReporter, logger *slog.Logger) *GenerationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHandler{
		queue:   queue,
		batches: batches,
		budget:  budget,
		logger:  logger.With("component", "generation_handler"),
	}
}

// Enqueue handles POST /api/generations.
func (h *GenerationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req EnqueueRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request", err)
		return
	}

	payload, err := domain.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), ownerID, req.SessionID, payload)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{
		RequestID: id,
		Queue:     h.queue.QueueStatus(),
	})
}

// Withdraw handles DELETE /api/generations/{id}. Only requests still waiting
// in the queue can be withdrawn.
func (h *GenerationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
		return
	}
	id, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	if !h.queue.WithdrawOwned(id, ownerID) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Request is not pending")
		return
	}
	h.logger.DebugContext(r.Context(), "request withdrawn", "request_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetBatch handles GET /api/generations/{id}/batch.
func (h *GenerationHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	b, err := h.batches.FindBatchByMemberRequest(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, b)
}

// QueueStatus handles GET /api/queue.
func (h *GenerationHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, QueueResponse{
		Queue:  h.queue.QueueStatus(),
		Budget: h.budget.Status(r.Context()),
	})
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		if err == nil {
			err = errors.New("nil request ID")
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request ID", err)
		return uuid.Nil, false
	}
	return id, true
}
