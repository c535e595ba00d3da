package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLedger is an in-memory Ledger whose behavior can be overridden.
type mockLedger struct {
	mu         sync.Mutex
	consumed   map[string]float64
	limit      float64
	reads      int
	increments int
	ReadFn     func(ctx context.Context, period string) (Snapshot, error)
}

func newMockLedger(limit float64) *mockLedger {
	return &mockLedger{consumed: make(map[string]float64), limit: limit}
}

func (m *mockLedger) Read(ctx context.Context, period string) (Snapshot, error) {
	m.mu.Lock()
	m.reads++
	fn := m.ReadFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, period)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Period: period, Consumed: m.consumed[period], Limit: m.limit}, nil
}

func (m *mockLedger) Increment(_ context.Context, period string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increments++
	m.consumed[period] += amount
	return nil
}

func (m *mockLedger) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestGovernor(t *testing.T, ledger Ledger, clk clock.Clock) *Governor {
	t.Helper()
	g, err := NewGovernor(ledger, DefaultConfig(), clk,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return g
}

func TestCheckAndReserveDeniesAboveThreshold(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger(200)
	ledger.consumed[PeriodDaily.Key(start)] = 185
	g := newTestGovernor(t, ledger, clock.NewFake(start))

	assert.False(t, g.CheckAndReserve(context.Background(), 5))
	assert.False(t, g.Status(context.Background()).LedgerUnavailable)
	assert.True(t, g.Status(context.Background()).CircuitOpen)
}

func TestCheckAndReserveTracksOutstandingReservations(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger(100)
	g := newTestGovernor(t, ledger, clock.NewFake(start))
	ctx := context.Background()

	// Cap is 90: three reservations of 30 fit, the fourth does not.
	for i := 0; i < 3; i++ {
		require.True(t, g.CheckAndReserve(ctx, 30), "reservation %d", i)
	}
	assert.False(t, g.CheckAndReserve(ctx, 1))

	g.Release(30)
	assert.True(t, g.CheckAndReserve(ctx, 30))
	assert.Equal(t, 1, ledger.readCount(), "ledger should be read once within the refresh interval")
}

func TestCheckAndReserveFailsOpenOnLedgerError(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger(10)
	ledger.ReadFn = func(context.Context, string) (Snapshot, error) {
		return Snapshot{}, errors.New("connection refused")
	}
	testLogger, logBuf := logger.GetTestLogger(t)
	g, err := NewGovernor(ledger, DefaultConfig(), clock.NewFake(start), testLogger)
	require.NoError(t, err)

	assert.True(t, g.CheckAndReserve(context.Background(), 1000))
	logger.AssertLogContains(t, logBuf, "budget ledger unavailable")
	assert.True(t, g.Status(context.Background()).LedgerUnavailable)
}

func TestLedgerFailureIsCachedForRefreshInterval(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(start)
	ledger := newMockLedger(200)
	var failing atomic.Bool
	failing.Store(true)
	ledger.ReadFn = func(_ context.Context, period string) (Snapshot, error) {
		if failing.Load() {
			return Snapshot{}, errors.New("connection refused")
		}
		return Snapshot{Period: period, Limit: 200}, nil
	}
	g := newTestGovernor(t, ledger, fake)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, g.CheckAndReserve(ctx, 1), "reservation %d", i)
		assert.True(t, g.Status(ctx).LedgerUnavailable, "status %d", i)
	}
	assert.Equal(t, 1, ledger.readCount(), "failed read is not retried within the refresh interval")
	assert.InDelta(t, 5, g.Status(ctx).Reserved, 1e-9)

	fake.Advance(4 * time.Minute)
	assert.True(t, g.CheckAndReserve(ctx, 1))
	assert.Equal(t, 1, ledger.readCount())

	failing.Store(false)
	fake.Advance(time.Minute)
	status := g.Status(ctx)
	assert.False(t, status.LedgerUnavailable)
	assert.InDelta(t, 200, status.Limit, 1e-9)
	assert.Equal(t, 2, ledger.readCount())
}

func TestSnapshotRefreshInterval(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(start)
	ledger := newMockLedger(200)
	g := newTestGovernor(t, ledger, fake)
	ctx := context.Background()

	require.True(t, g.CheckAndReserve(ctx, 1))
	fake.Advance(4 * time.Minute)
	require.True(t, g.CheckAndReserve(ctx, 1))
	assert.Equal(t, 1, ledger.readCount())

	// Spend recorded elsewhere becomes visible after the refresh interval.
	ledger.mu.Lock()
	ledger.consumed[PeriodDaily.Key(start)] = 179
	ledger.mu.Unlock()
	assert.True(t, g.CheckAndReserve(ctx, 1), "stale cache still allows")

	fake.Advance(time.Minute)
	assert.False(t, g.CheckAndReserve(ctx, 1))
	assert.Equal(t, 2, ledger.readCount())
}

func TestSnapshotRefreshesOnPeriodRollover(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC))
	ledger := newMockLedger(100)
	ledger.consumed["2026-05-04"] = 95
	g := newTestGovernor(t, ledger, fake)
	ctx := context.Background()

	assert.False(t, g.CheckAndReserve(ctx, 1))
	fake.Advance(2 * time.Minute)
	assert.True(t, g.CheckAndReserve(ctx, 1))
	assert.Equal(t, "2026-05-05", g.Status(ctx).Period)
}

func TestRecordActualSpend(t *testing.T) {
	t.Parallel()

	ledger := newMockLedger(200)
	g := newTestGovernor(t, ledger, clock.NewFake(start))
	ctx := context.Background()

	require.True(t, g.CheckAndReserve(ctx, 10))
	g.Release(10)
	require.NoError(t, g.RecordActualSpend(ctx, 12.5))
	require.NoError(t, g.RecordActualSpend(ctx, 0))

	assert.InDelta(t, 12.5, ledger.consumed[PeriodDaily.Key(start)], 1e-9)
	assert.Equal(t, 1, ledger.increments)

	status := g.Status(ctx)
	assert.InDelta(t, 12.5, status.Consumed, 1e-9)
	assert.InDelta(t, 0, status.Reserved, 1e-9)
	assert.InDelta(t, 180, status.Cap, 1e-9)
}

func TestNewGovernorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGovernor(nil, DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.ThresholdFraction = 1.2
	_, err = NewGovernor(newMockLedger(1), cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Period = "weekly"
	_, err = NewGovernor(newMockLedger(1), cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPeriodKey(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 12, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "2027-01-01", PeriodDaily.Key(at))
	assert.Equal(t, "2027-01", PeriodMonthly.Key(at))
}
