package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/garmax-api/internal/budget"
)

// MockLedger is an in-memory budget.Ledger. Every period shares Limit.
type MockLedger struct {
	Limit float64

	// ReadFn and IncrementFn override the default behavior when set.
	ReadFn      func(ctx context.Context, period string) (budget.Snapshot, error)
	IncrementFn func(ctx context.Context, period string, amount float64) error

	mu       sync.Mutex
	consumed map[string]float64
}

var _ budget.Ledger = (*MockLedger)(nil)

// NewMockLedger returns a ledger with nothing consumed.
func NewMockLedger(limit float64) *MockLedger {
	return &MockLedger{Limit: limit, consumed: make(map[string]float64)}
}

// Read implements budget.Ledger.
func (m *MockLedger) Read(ctx context.Context, period string) (budget.Snapshot, error) {
	if m.ReadFn != nil {
		return m.ReadFn(ctx, period)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return budget.Snapshot{Period: period, Consumed: m.consumed[period], Limit: m.Limit}, nil
}

// Increment implements budget.Ledger.
func (m *MockLedger) Increment(ctx context.Context, period string, amount float64) error {
	if m.IncrementFn != nil {
		return m.IncrementFn(ctx, period, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed[period] += amount
	return nil
}

// SetConsumed overwrites the consumed amount for period.
func (m *MockLedger) SetConsumed(period string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed[period] = amount
}

// Consumed returns the consumed amount for period.
func (m *MockLedger) Consumed(period string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed[period]
}
