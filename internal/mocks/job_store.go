package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/store"
)

// MockJobStore is an in-memory store.JobStore. The Fn fields override the
// default behavior when set.
type MockJobStore struct {
	CreateBatchFn func(ctx context.Context, batch *domain.Batch) error
	UpdateBatchFn func(ctx context.Context, batchID uuid.UUID, update domain.BatchUpdate) error

	mu      sync.Mutex
	batches map[uuid.UUID]*domain.Batch
	members map[uuid.UUID]uuid.UUID
	updates []domain.BatchUpdate
}

var (
	_ store.JobStore     = (*MockJobStore)(nil)
	_ store.OrphanReaper = (*MockJobStore)(nil)
)

// NewMockJobStore returns an empty store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		batches: make(map[uuid.UUID]*domain.Batch),
		members: make(map[uuid.UUID]uuid.UUID),
	}
}

// CreateBatch implements store.JobStore.
func (m *MockJobStore) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if m.CreateBatchFn != nil {
		if err := m.CreateBatchFn(ctx, batch); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range batch.MemberRequestIDs {
		if _, taken := m.members[id]; taken {
			return fmt.Errorf("%w: %s", store.ErrMemberExists, id)
		}
	}
	stored := *batch
	stored.MemberRequestIDs = append([]uuid.UUID(nil), batch.MemberRequestIDs...)
	m.batches[batch.ID] = &stored
	for _, id := range batch.MemberRequestIDs {
		m.members[id] = batch.ID
	}
	return nil
}

// UpdateBatch implements store.JobStore.
func (m *MockJobStore) UpdateBatch(ctx context.Context, batchID uuid.UUID, update domain.BatchUpdate) error {
	if m.UpdateBatchFn != nil {
		if err := m.UpdateBatchFn(ctx, batchID, update); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return store.ErrBatchNotFound
	}
	if err := b.Apply(update); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUpdateFailed, err)
	}
	m.updates = append(m.updates, update)
	return nil
}

// FindBatchByMemberRequest implements store.JobStore.
func (m *MockJobStore) FindBatchByMemberRequest(_ context.Context, requestID uuid.UUID) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batchID, ok := m.members[requestID]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	b := *m.batches[batchID]
	return &b, nil
}

// FailUnfinishedBatches implements store.OrphanReaper.
func (m *MockJobStore) FailUnfinishedBatches(_ context.Context, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.batches {
		if b.Status.IsTerminal() {
			continue
		}
		b.Status = domain.BatchStatusFailed
		b.ErrorMessage = reason
		t := now
		b.CompletedAt = &t
		n++
	}
	return n, nil
}

// Batch returns a copy of the stored batch, or nil.
func (m *MockJobStore) Batch(batchID uuid.UUID) *domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// Batches returns copies of every stored batch.
func (m *MockJobStore) Batches() []*domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// UpdateCount returns the number of applied updates.
func (m *MockJobStore) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}
