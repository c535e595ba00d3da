package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/garmax-api/internal/domain"
)

// MockConnection is a push connection that records what it was sent.
type MockConnection struct {
	ConnID string
	// SendFn overrides the default recording behavior when set.
	SendFn func(ctx context.Context, update domain.StatusUpdate) error

	mu      sync.Mutex
	open    bool
	sent    []domain.StatusUpdate
	onClose []func(error)
}

// NewMockConnection returns an open connection.
func NewMockConnection(id string) *MockConnection {
	return &MockConnection{ConnID: id, open: true}
}

// ID returns the connection identifier.
func (c *MockConnection) ID() string { return c.ConnID }

// IsOpen reports whether the connection has not been closed.
func (c *MockConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send records update, or delegates to SendFn.
func (c *MockConnection) Send(ctx context.Context, update domain.StatusUpdate) error {
	if c.SendFn != nil {
		return c.SendFn(ctx, update)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, update)
	return nil
}

// OnClose registers fn to run when the connection closes.
func (c *MockConnection) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// Close marks the connection closed and notifies observers.
func (c *MockConnection) Close() error {
	c.Fail(nil)
	return nil
}

// Fail closes the connection with err, notifying observers once.
func (c *MockConnection) Fail(err error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	observers := append([]func(error){}, c.onClose...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(err)
	}
}

// MarkClosed flips the connection to closed without notifying observers,
// as happens when the peer disappears without a close frame.
func (c *MockConnection) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

// Sent returns a copy of everything delivered.
func (c *MockConnection) Sent() []domain.StatusUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.StatusUpdate(nil), c.sent...)
}

// ObserverCount returns the number of registered close observers.
func (c *MockConnection) ObserverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.onClose)
}
