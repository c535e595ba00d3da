package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/store"
)

// BudgetGate is the part of the budget governor the pipeline depends on.
type BudgetGate interface {
	CheckAndReserve(ctx context.Context, estimatedCost float64) bool
	Release(estimatedCost float64)
	RecordActualSpend(ctx context.Context, amount float64) error
}

// Broadcaster delivers status updates to every live connection of a
// session and returns how many deliveries were attempted.
type Broadcaster interface {
	Broadcast(ctx context.Context, sessionID string, update domain.StatusUpdate) int
}

// Deps are the collaborators shared by the coordinator and the poller.
// Emitter is optional.
type Deps struct {
	Backend  generation.Backend
	Store    store.JobStore
	Budget   BudgetGate
	Notifier Broadcaster
	Emitter  events.EventEmitter
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Backend == nil:
		return errors.New("backend cannot be nil")
	case d.Store == nil:
		return errors.New("job store cannot be nil")
	case d.Budget == nil:
		return errors.New("budget gate cannot be nil")
	case d.Notifier == nil:
		return errors.New("notifier cannot be nil")
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}
