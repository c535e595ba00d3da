package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/generation"
)

// MockBackend implements generation.Backend for testing.
type MockBackend struct {
	BackendName    string
	CostPerRequest float64

	// SubmitFn and PollStatusFn override the default behavior when set.
	SubmitFn     func(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest) (generation.Handle, error)
	PollStatusFn func(ctx context.Context, handle generation.Handle) (*generation.PollResult, error)

	mu          sync.Mutex
	submitCalls []*domain.Batch
	pollCalls   int
}

var _ generation.Backend = (*MockBackend)(nil)

// NewMockBackend returns a backend that accepts every batch and completes it
// on the first poll.
func NewMockBackend(name string, costPerRequest float64) *MockBackend {
	return &MockBackend{BackendName: name, CostPerRequest: costPerRequest}
}

// NewMockBackendWithSubmitError returns a backend whose submissions fail with err.
func NewMockBackendWithSubmitError(name string, err error) *MockBackend {
	return &MockBackend{
		BackendName: name,
		SubmitFn: func(context.Context, *domain.Batch, []*domain.QueuedRequest) (generation.Handle, error) {
			return generation.Handle{}, err
		},
	}
}

// Name implements generation.Backend.
func (m *MockBackend) Name() string { return m.BackendName }

// EstimateCost implements generation.Backend.
func (m *MockBackend) EstimateCost(requests []*domain.QueuedRequest) float64 {
	return float64(len(requests)) * m.CostPerRequest
}

// Submit implements generation.Backend.
func (m *MockBackend) Submit(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest) (generation.Handle, error) {
	m.mu.Lock()
	m.submitCalls = append(m.submitCalls, batch)
	m.mu.Unlock()

	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, batch, requests)
	}
	return HandleFor(m.BackendName, batch), nil
}

// PollStatus implements generation.Backend.
func (m *MockBackend) PollStatus(ctx context.Context, handle generation.Handle) (*generation.PollResult, error) {
	m.mu.Lock()
	m.pollCalls++
	m.mu.Unlock()

	if m.PollStatusFn != nil {
		return m.PollStatusFn(ctx, handle)
	}
	return CompletedResult(handle, m.CostPerRequest), nil
}

// SubmitCount returns how many times Submit was called.
func (m *MockBackend) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitCalls)
}

// SubmittedBatches returns the batches passed to Submit, in call order.
func (m *MockBackend) SubmittedBatches() []*domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Batch(nil), m.submitCalls...)
}

// PollCount returns how many times PollStatus was called.
func (m *MockBackend) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

// HandleFor builds the handle a backend named name would return for batch.
func HandleFor(name string, batch *domain.Batch) generation.Handle {
	return generation.Handle{
		Backend:   name,
		ID:        "batches/" + batch.ID.String(),
		MemberIDs: append(batch.MemberRequestIDs[:0:0], batch.MemberRequestIDs...),
	}
}

// CompletedResult reports every member of handle as successfully generated.
func CompletedResult(handle generation.Handle, costPerItem float64) *generation.PollResult {
	results := make([]domain.ItemResult, len(handle.MemberIDs))
	for i, id := range handle.MemberIDs {
		results[i] = domain.ItemResult{
			RequestID:       id,
			ResultReference: "mock://" + id.String(),
			Cost:            costPerItem,
		}
	}
	return &generation.PollResult{
		Status:         generation.JobStatusCompleted,
		CompletedCount: len(results),
		TotalCount:     len(results),
		Results:        results,
	}
}
