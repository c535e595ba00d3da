package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/mocks"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoordinatorValidation(t *testing.T) {
	t.Parallel()
	agg, err := NewAggregator(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	_, err = NewCoordinator(nil, Deps{}, DefaultPollerConfig())
	assert.Error(t, err)

	_, err = NewCoordinator(agg, Deps{Store: mocks.NewMockJobStore()}, DefaultPollerConfig())
	assert.Error(t, err, "backend is required")

	_, err = NewCoordinator(agg, Deps{
		Backend:  mocks.NewMockBackend("primary", 1),
		Store:    mocks.NewMockJobStore(),
		Budget:   &budget.Governor{},
		Notifier: mocks.NewRecordingBroadcaster(),
	}, PollerConfig{})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

// A full batch is submitted as soon as the size threshold is reached.
func TestCoordinatorSizeTriggeredBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ids := h.enqueue(50)

	require.Eventually(t, func() bool { return h.primary().SubmitCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, h.agg.Len())
	submitted := h.primary().SubmittedBatches()[0]
	assert.Equal(t, ids, submitted.MemberRequestIDs)
	assert.Equal(t, testStart, submitted.CreatedAt, "no window wait")

	stored := h.store.Batch(submitted.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.BatchStatusSubmitted, stored.Status)
	assert.Equal(t, "primary", stored.Backend)
	assert.NotEmpty(t, stored.Handle)

	h.waitForTimer(1)
	h.clock.Advance(5 * time.Second)
	h.requireTerminal(ids, domain.UpdateStatusCompleted)

	for _, u := range h.notifier.ForRequest(ids[0]) {
		if u.Status == domain.UpdateStatusSubmitted {
			assert.Equal(t, 0, u.Progress)
		}
	}
	assert.Len(t, h.events.ofType(events.TypeBatchSubmitted), 1)
	require.Eventually(t, func() bool { return len(h.events.ofType(events.TypeBatchCompleted)) == 1 }, 2*time.Second, time.Millisecond)

	stats := h.coord.Stats()
	assert.Equal(t, int64(1), stats.BatchesSubmitted)
	assert.Equal(t, int64(1), stats.BatchesCompleted)
	assert.Equal(t, int64(50), stats.RequestsCompleted)
	assert.Equal(t, 0, stats.PendingRequests)
}

// A partial batch waits for the window measured from the first request.
func TestCoordinatorWindowTriggeredBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ids := h.enqueue(20)

	h.clock.Advance(44 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.primary().SubmitCount())

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.primary().SubmitCount() == 1 }, 2*time.Second, time.Millisecond)

	submitted := h.primary().SubmittedBatches()[0]
	assert.Len(t, submitted.MemberRequestIDs, 20)
	assert.Equal(t, testStart.Add(45*time.Second), submitted.CreatedAt)

	h.waitForTimer(1)
	h.clock.Advance(5 * time.Second)
	h.requireTerminal(ids, domain.UpdateStatusCompleted)
}

// Consumed spend above the cap fails the drained requests without calling
// the backend.
func TestCoordinatorBudgetDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withBackend(mocks.NewMockBackend("primary", 5)))
	h.ledger.SetConsumed(budget.PeriodDaily.Key(testStart), 185)

	ids := h.enqueue(1)
	h.clock.Advance(45 * time.Second)

	h.requireTerminal(ids, domain.UpdateStatusFailed)
	u, _ := h.notifier.Terminal(ids[0])
	assert.Equal(t, domain.ReasonBudgetExceeded, u.Message)
	assert.Equal(t, 0, h.primary().SubmitCount())

	batches := h.store.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, domain.BatchStatusFailed, batches[0].Status)
	assert.Equal(t, domain.ReasonBudgetExceeded, batches[0].ErrorMessage)

	require.Eventually(t, func() bool { return len(h.events.ofType(events.TypeBatchFailed)) == 1 }, 2*time.Second, time.Millisecond)
	failed := h.events.ofType(events.TypeBatchFailed)
	var payload events.BatchFailed
	require.NoError(t, failed[0].UnmarshalPayload(&payload))
	assert.Equal(t, ids, payload.FailedRequestIDs)
	assert.Equal(t, domain.ReasonBudgetExceeded, payload.Reason)
}

func TestCoordinatorTransientSubmitFailure(t *testing.T) {
	t.Parallel()
	transient := fmt.Errorf("%w: 503 service unavailable", generation.ErrTransientFailure)

	t.Run("fallback backend accepts the batch", func(t *testing.T) {
		t.Parallel()
		primary := mocks.NewMockBackendWithSubmitError("primary", transient)
		fallback := mocks.NewMockBackend("fallback", 0.01)
		router, err := generation.NewRouter(logger.DiscardLogger(), primary, fallback)
		require.NoError(t, err)
		h := newHarness(t, withBackend(router))

		ids := h.enqueue(3)
		h.clock.Advance(45 * time.Second)

		require.Eventually(t, func() bool { return fallback.SubmitCount() == 1 }, 2*time.Second, time.Millisecond)
		assert.Equal(t, 1, primary.SubmitCount())

		h.waitForTimer(1)
		h.clock.Advance(5 * time.Second)
		h.requireTerminal(ids, domain.UpdateStatusCompleted)

		stored := h.store.Batches()
		require.Len(t, stored, 1)
		assert.Equal(t, "fallback", stored[0].Backend)
		assert.Equal(t, 1, fallback.PollCount())
	})

	t.Run("every backend fails", func(t *testing.T) {
		t.Parallel()
		primary := mocks.NewMockBackendWithSubmitError("primary", transient)
		fallback := mocks.NewMockBackendWithSubmitError("fallback", transient)
		router, err := generation.NewRouter(logger.DiscardLogger(), primary, fallback)
		require.NoError(t, err)
		h := newHarness(t, withBackend(router))

		ids := h.enqueue(3)
		h.clock.Advance(45 * time.Second)

		h.requireTerminal(ids, domain.UpdateStatusFailed)
		for _, id := range ids {
			u, _ := h.notifier.Terminal(id)
			assert.True(t, strings.HasPrefix(u.Message, domain.ReasonBackendTransient), u.Message)
		}

		stored := h.store.Batches()
		require.Len(t, stored, 1)
		assert.Equal(t, domain.BatchStatusFailed, stored[0].Status)
		assert.InDelta(t, 0, h.governor.Status(context.Background()).Reserved, 1e-9)
	})

	t.Run("permanent failure does not fall back", func(t *testing.T) {
		t.Parallel()
		primary := mocks.NewMockBackendWithSubmitError("primary",
			fmt.Errorf("%w: invalid request", generation.ErrPermanentFailure))
		fallback := mocks.NewMockBackend("fallback", 0.01)
		router, err := generation.NewRouter(logger.DiscardLogger(), primary, fallback)
		require.NoError(t, err)
		h := newHarness(t, withBackend(router))

		ids := h.enqueue(2)
		h.clock.Advance(45 * time.Second)

		h.requireTerminal(ids, domain.UpdateStatusFailed)
		u, _ := h.notifier.Terminal(ids[0])
		assert.True(t, strings.HasPrefix(u.Message, domain.ReasonBackendPermanent), u.Message)
		assert.Equal(t, 0, fallback.SubmitCount())
	})
}

func TestCoordinatorStoreUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.CreateBatchFn = func(context.Context, *domain.Batch) error {
		return fmt.Errorf("connection refused")
	}

	ids := h.enqueue(2)
	h.clock.Advance(45 * time.Second)

	h.requireTerminal(ids, domain.UpdateStatusFailed)
	u, _ := h.notifier.Terminal(ids[0])
	assert.Equal(t, domain.ReasonStoreUnavailable, u.Message)
	assert.Equal(t, 0, h.primary().SubmitCount())
	assert.InDelta(t, 0, h.governor.Status(context.Background()).Reserved, 1e-9)
}

// Only one drain runs at a time; the backlog that built up meanwhile is
// drained when the first one finishes.
func TestCoordinatorSingleDrainInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var active, maxActive atomic.Int32

	backend := mocks.NewMockBackend("primary", 0.01)
	backend.SubmitFn = func(ctx context.Context, b *domain.Batch, _ []*domain.QueuedRequest) (generation.Handle, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		return mocks.HandleFor("primary", b), nil
	}
	h := newHarness(t, withBackend(backend))

	first := h.enqueue(50)
	require.Eventually(t, func() bool { return backend.SubmitCount() == 1 }, 2*time.Second, time.Millisecond)

	second := h.enqueue(50)
	assert.Equal(t, 50, h.agg.Len(), "size signal during a drain is dropped")

	close(release)
	require.Eventually(t, func() bool { return backend.SubmitCount() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.agg.Len() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())

	batches := backend.SubmittedBatches()
	assert.Equal(t, first, batches[0].MemberRequestIDs)
	assert.Equal(t, second, batches[1].MemberRequestIDs)
}

// A window that elapses while a drain is in flight is dropped; the partial
// leftover still goes out one window after the drain finishes.
func TestCoordinatorWindowDuringDrainIsRearmed(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	backend := mocks.NewMockBackend("primary", 0.01)
	backend.SubmitFn = func(ctx context.Context, b *domain.Batch, _ []*domain.QueuedRequest) (generation.Handle, error) {
		once.Do(func() { close(started) })
		<-release
		return mocks.HandleFor("primary", b), nil
	}
	h := newHarness(t, withBackend(backend))

	first := h.enqueue(1)
	h.clock.Advance(45 * time.Second)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first drain did not start")
	}

	second := h.enqueue(1)
	h.waitForTimer(1)
	h.clock.Advance(45 * time.Second)
	assert.Equal(t, 1, backend.SubmitCount(), "window signal during a drain is dropped")
	assert.Equal(t, 1, h.agg.Len())

	close(release)
	// Poller wait for the first batch plus the re-armed window.
	h.waitForTimer(2)
	h.clock.Advance(45 * time.Second)
	require.Eventually(t, func() bool { return backend.SubmitCount() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, second, backend.SubmittedBatches()[1].MemberRequestIDs)
	assert.Equal(t, 0, h.agg.Len())

	done := make(chan struct{})
	defer close(done)
	go driveClock(h.clock, 5*time.Second, done)
	h.requireTerminal(first, domain.UpdateStatusCompleted)
	h.requireTerminal(second, domain.UpdateStatusCompleted)
}

func TestCoordinatorStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.primary().PollStatusFn = func(context.Context, generation.Handle) (*generation.PollResult, error) {
		return &generation.PollResult{Status: generation.JobStatusPending}, nil
	}

	tracked := h.enqueue(50)
	require.Eventually(t, func() bool { return h.coord.Stats().InFlightBatches == 1 }, 2*time.Second, time.Millisecond)
	queued := h.enqueue(2)

	h.coord.Stop()

	for _, ids := range [][]uuid.UUID{tracked, queued} {
		for _, id := range ids {
			u, n := h.notifier.Terminal(id)
			assert.Equal(t, 1, n)
			assert.Equal(t, domain.ReasonShutdown, u.Message)
		}
	}
	assert.Equal(t, domain.BatchStatusFailed, h.store.Batches()[0].Status)

	_, err := h.agg.Enqueue(context.Background(), uuid.New(), "session-1", testPayload())
	assert.ErrorIs(t, err, ErrAggregatorClosed)
	assert.ErrorIs(t, h.coord.Start(context.Background()), ErrCoordinatorStopped)

	stats := h.coord.Stats()
	assert.Equal(t, int64(52), stats.RequestsFailed)
	assert.Equal(t, 0, stats.InFlightBatches)
}

func TestCoordinatorStartDrainsEarlierRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withoutStart())

	ids := h.enqueue(3)
	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.primary().SubmitCount(), "signals before Start are dropped")
	assert.Equal(t, 3, h.agg.Len())

	require.NoError(t, h.coord.Start(context.Background()))
	require.NoError(t, h.coord.Start(context.Background()), "second Start is a no-op")

	h.clock.Advance(45 * time.Second)
	require.Eventually(t, func() bool { return h.primary().SubmitCount() == 1 }, 2*time.Second, time.Millisecond)
	h.waitForTimer(1)
	h.clock.Advance(5 * time.Second)
	h.requireTerminal(ids, domain.UpdateStatusCompleted)
}
