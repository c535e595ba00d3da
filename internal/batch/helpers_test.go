package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/mocks"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testPayload() domain.Payload {
	return &domain.TryOnRenderPayload{
		AvatarImageURI:  "https://cdn.example.com/avatars/a1.png",
		GarmentImageURI: "https://cdn.example.com/garments/g1.png",
	}
}

// eventRecorder collects emitted lifecycle events.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.LifecycleEvent
}

func (r *eventRecorder) HandleEvent(_ context.Context, ev *events.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(eventType string) []*events.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.LifecycleEvent
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	clock    *clock.Fake
	agg      *Aggregator
	backend  generation.Backend
	store    *mocks.MockJobStore
	ledger   *mocks.MockLedger
	governor *budget.Governor
	notifier *mocks.RecordingBroadcaster
	events   *eventRecorder
	coord    *Coordinator
	noStart  bool
}

type harnessOption func(h *harness)

func withoutStart() harnessOption {
	return func(h *harness) { h.noStart = true }
}

func withBackend(b generation.Backend) harnessOption {
	return func(h *harness) { h.backend = b }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	log := logger.DiscardLogger()
	h := &harness{
		t:        t,
		clock:    clock.NewFake(testStart),
		backend:  mocks.NewMockBackend("primary", 0.04),
		store:    mocks.NewMockJobStore(),
		ledger:   mocks.NewMockLedger(200),
		notifier: mocks.NewRecordingBroadcaster(),
		events:   &eventRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}

	var err error
	h.agg, err = NewAggregator(DefaultConfig(), h.clock, log)
	require.NoError(t, err)

	h.governor, err = budget.NewGovernor(h.ledger, budget.DefaultConfig(), h.clock, log)
	require.NoError(t, err)

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(h.events)

	h.coord, err = NewCoordinator(h.agg, Deps{
		Backend:  h.backend,
		Store:    h.store,
		Budget:   h.governor,
		Notifier: h.notifier,
		Emitter:  emitter,
		Clock:    h.clock,
		Logger:   log,
	}, PollerConfig{Schedule: DefaultSchedule()})
	require.NoError(t, err)
	if !h.noStart {
		require.NoError(t, h.coord.Start(context.Background()))
	}
	t.Cleanup(h.coord.Stop)
	return h
}

func (h *harness) primary() *mocks.MockBackend {
	return h.backend.(*mocks.MockBackend)
}

func (h *harness) enqueue(n int) []uuid.UUID {
	h.t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		id, err := h.agg.Enqueue(context.Background(), uuid.New(), "session-1", testPayload())
		require.NoError(h.t, err)
		ids[i] = id
	}
	return ids
}

// waitForTimer blocks until the fake clock has n pending waiters.
func (h *harness) waitForTimer(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.clock.PendingCount() >= n },
		2*time.Second, time.Millisecond)
}

// requireTerminal waits until every id has exactly one terminal update with
// the given status.
func (h *harness) requireTerminal(ids []uuid.UUID, status domain.UpdateStatus) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, id := range ids {
			u, n := h.notifier.Terminal(id)
			if n != 1 || u.Status != status {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)
}

// driveClock advances clk by step whenever something is waiting on it,
// until done is closed.
func driveClock(clk *clock.Fake, step time.Duration, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if clk.PendingCount() > 0 {
			clk.Advance(step)
			continue
		}
		time.Sleep(100 * time.Microsecond)
	}
}
