package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewBatchBounds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if _, err := NewBatch(nil, 50, 0, now); !errors.Is(err, ErrBatchSize) {
		t.Errorf("expected ErrBatchSize for empty batch, got %v", err)
	}

	members := make([]uuid.UUID, 51)
	for i := range members {
		members[i] = uuid.New()
	}
	if _, err := NewBatch(members, 50, 0, now); !errors.Is(err, ErrBatchSize) {
		t.Errorf("expected ErrBatchSize for oversized batch, got %v", err)
	}

	b, err := NewBatch(members[:50], 50, 1.5, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != BatchStatusPending {
		t.Errorf("expected pending, got %s", b.Status)
	}

	dup := []uuid.UUID{members[0], members[0]}
	if _, err := NewBatch(dup, 50, 0, now); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for duplicate members, got %v", err)
	}
}

func TestBatchStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to BatchStatus
		want     bool
	}{
		{BatchStatusPending, BatchStatusSubmitted, true},
		{BatchStatusPending, BatchStatusFailed, true},
		{BatchStatusPending, BatchStatusCompleted, false},
		{BatchStatusSubmitted, BatchStatusProcessing, true},
		{BatchStatusSubmitted, BatchStatusCompleted, true},
		{BatchStatusProcessing, BatchStatusProcessing, true},
		{BatchStatusProcessing, BatchStatusSubmitted, false},
		{BatchStatusCompleted, BatchStatusFailed, false},
		{BatchStatusFailed, BatchStatusFailed, false},
		{BatchStatusPending, "bogus", false},
	}

	for _, tc := range tests {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestBatchApply(t *testing.T) {
	t.Parallel()

	b, err := NewBatch([]uuid.UUID{uuid.New()}, 50, 0.04, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	submitted := time.Now()
	handle := "batches/123"
	if err := b.Apply(BatchUpdate{Status: StatusPtr(BatchStatusSubmitted), Handle: &handle, SubmittedAt: &submitted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Handle != handle || b.SubmittedAt == nil {
		t.Errorf("expected handle and submittedAt to be set, got %+v", b)
	}

	cost := 0.05
	if err := b.Apply(BatchUpdate{Status: StatusPtr(BatchStatusCompleted), ActualCost: &cost}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := "late"
	if err := b.Apply(BatchUpdate{ErrorMessage: &msg}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected terminal batch to reject updates, got %v", err)
	}
}

func TestStatusUpdates(t *testing.T) {
	t.Parallel()

	req := &QueuedRequest{ID: uuid.New(), SessionID: "s1"}

	progress := NewProgressUpdate(req, UpdateStatusProcessing, 140, "")
	if progress.Progress != 99 || progress.Status.IsTerminal() {
		t.Errorf("expected clamped non-terminal progress, got %+v", progress)
	}

	done := NewResultUpdate(req, ItemResult{RequestID: req.ID, ResultReference: "file://out.png"})
	if done.Status != UpdateStatusCompleted || done.ResultReference != "file://out.png" {
		t.Errorf("unexpected completion update %+v", done)
	}

	failed := NewResultUpdate(req, ItemResult{RequestID: req.ID, Error: "blocked"})
	if failed.Status != UpdateStatusFailed || failed.Message != "blocked" {
		t.Errorf("unexpected failure update %+v", failed)
	}
}
