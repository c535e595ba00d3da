package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// RecordingBroadcaster captures every broadcast status update.
type RecordingBroadcaster struct {
	mu      sync.Mutex
	updates []domain.StatusUpdate
}

// NewRecordingBroadcaster returns an empty recorder.
func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{}
}

// Broadcast records update and reports a single delivery.
func (b *RecordingBroadcaster) Broadcast(_ context.Context, sessionID string, update domain.StatusUpdate) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	update.SessionID = sessionID
	b.updates = append(b.updates, update)
	return 1
}

// Updates returns every recorded update in broadcast order.
func (b *RecordingBroadcaster) Updates() []domain.StatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.StatusUpdate(nil), b.updates...)
}

// ForRequest returns the updates broadcast for requestID.
func (b *RecordingBroadcaster) ForRequest(requestID uuid.UUID) []domain.StatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StatusUpdate
	for _, u := range b.updates {
		if u.RequestID == requestID {
			out = append(out, u)
		}
	}
	return out
}

// Terminal returns the terminal update for requestID and how many terminal
// updates were broadcast for it.
func (b *RecordingBroadcaster) Terminal(requestID uuid.UUID) (domain.StatusUpdate, int) {
	var last domain.StatusUpdate
	n := 0
	for _, u := range b.ForRequest(requestID) {
		if u.Status.IsTerminal() {
			last = u
			n++
		}
	}
	return last, n
}
