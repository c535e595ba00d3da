package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/metrics"
)

// ErrAggregatorClosed is returned by Enqueue after Close.
var ErrAggregatorClosed = errors.New("aggregator is closed")

// Drain triggers passed to the ready handler.
const (
	TriggerSize    = "size"
	TriggerWindow  = "window"
	TriggerBacklog = "backlog"
)

// Config holds the dual trigger of the aggregator.
type Config struct {
	// MaxBatchSize is the pending count that triggers an immediate drain and
	// the upper bound on batch membership.
	MaxBatchSize int
	// Window is how long the first pending request waits before a drain.
	Window time.Duration
}

// DefaultConfig returns a 50 request, 45 second configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 50,
		Window:       45 * time.Second,
	}
}

// Validate checks the trigger values.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

// QueueStatus describes the pending collection for clients deciding whether
// to wait on a batch.
type QueueStatus struct {
	PendingCount    int   `json:"pending_count"`
	PercentFull     int   `json:"percent_full"`
	EstimatedWaitMs int64 `json:"estimated_wait_ms"`
}

type pendingEntry struct {
	req *domain.QueuedRequest
	seq uint64
}

// Aggregator accumulates requests until the window elapses or the size
// threshold is reached, then signals the ready handler.
type Aggregator struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[uuid.UUID]pendingEntry
	seq      uint64
	timer    clock.Timer
	deadline time.Time
	// timerGen invalidates callbacks from timers that were stopped too late.
	timerGen uint64
	closed   bool
	onReady  func(trigger string)
}

// NewAggregator creates an aggregator with no ready handler. Signals raised
// before SetReadyHandler are dropped.
func NewAggregator(cfg Config, clk clock.Clock, logger *slog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "request_aggregator"),
		pending: make(map[uuid.UUID]pendingEntry),
	}, nil
}

// SetReadyHandler registers the drain callback. It is always called without
// the aggregator lock held.
func (a *Aggregator) SetReadyHandler(fn func(trigger string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReady = fn
}

// MaxBatchSize returns the configured size threshold.
func (a *Aggregator) MaxBatchSize() int { return a.cfg.MaxBatchSize }

// Enqueue validates and queues a request, returning its ID.
func (a *Aggregator) Enqueue(ctx context.Context, ownerID uuid.UUID, sessionID string, payload domain.Payload) (uuid.UUID, error) {
	req, err := domain.NewQueuedRequest(ownerID, sessionID, payload, a.clock.Now())
	if err != nil {
		return uuid.Nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return uuid.Nil, ErrAggregatorClosed
	}
	a.seq++
	a.pending[req.ID] = pendingEntry{req: req, seq: a.seq}
	count := len(a.pending)
	metrics.QueueDepth.Set(float64(count))

	var notify func(string)
	if count >= a.cfg.MaxBatchSize {
		a.stopTimerLocked()
		notify = a.onReady
	} else if a.timer == nil {
		a.startTimerLocked()
	}
	a.mu.Unlock()

	metrics.RequestsEnqueued.WithLabelValues(string(payload.Kind())).Inc()
	a.logger.DebugContext(ctx, "request enqueued",
		"request_id", req.ID,
		"session_id", sessionID,
		"kind", payload.Kind(),
		"pending", count)

	if notify != nil {
		metrics.DrainTriggers.WithLabelValues(TriggerSize).Inc()
		notify(TriggerSize)
	}
	return req.ID, nil
}

// Withdraw removes a request that has not been drained yet.
func (a *Aggregator) Withdraw(requestID uuid.UUID) bool {
	return a.withdraw(requestID, uuid.Nil)
}

// WithdrawOwned is Withdraw restricted to requests queued by ownerID.
func (a *Aggregator) WithdrawOwned(requestID, ownerID uuid.UUID) bool {
	return a.withdraw(requestID, ownerID)
}

func (a *Aggregator) withdraw(requestID, ownerID uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.pending[requestID]
	if !ok || (ownerID != uuid.Nil && entry.req.OwnerID != ownerID) {
		return false
	}
	delete(a.pending, requestID)
	metrics.QueueDepth.Set(float64(len(a.pending)))
	if len(a.pending) == 0 {
		a.stopTimerLocked()
	}
	return true
}

// Contains reports whether requestID is still pending.
func (a *Aggregator) Contains(requestID uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[requestID]
	return ok
}

// Len returns the number of pending requests.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// QueueStatus reports the pending count, how full the next batch is and the
// time left before the window fires.
func (a *Aggregator) QueueStatus() QueueStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := len(a.pending)
	percent := count * 100 / a.cfg.MaxBatchSize
	if percent > 100 {
		percent = 100
	}

	wait := a.cfg.Window
	if a.timer != nil {
		wait = a.deadline.Sub(a.clock.Now())
		if wait < 0 {
			wait = 0
		}
	}
	return QueueStatus{
		PendingCount:    count,
		PercentFull:     percent,
		EstimatedWaitMs: wait.Milliseconds(),
	}
}

// Take removes and returns up to max of the oldest pending requests. The
// window restarts for whatever remains.
func (a *Aggregator) Take(max int) []*domain.QueuedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopTimerLocked()
	taken := a.oldestLocked(max)
	for _, req := range taken {
		delete(a.pending, req.ID)
	}
	metrics.QueueDepth.Set(float64(len(a.pending)))
	if len(a.pending) > 0 && !a.closed {
		a.startTimerLocked()
	}
	return taken
}

// Close stops the window timer and returns every request still pending.
// Later calls to Enqueue fail with ErrAggregatorClosed.
func (a *Aggregator) Close() []*domain.QueuedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	a.stopTimerLocked()
	left := a.oldestLocked(len(a.pending))
	a.pending = make(map[uuid.UUID]pendingEntry)
	metrics.QueueDepth.Set(0)
	return left
}

func (a *Aggregator) oldestLocked(max int) []*domain.QueuedRequest {
	entries := make([]pendingEntry, 0, len(a.pending))
	for _, e := range a.pending {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	if max < len(entries) {
		entries = entries[:max]
	}
	out := make([]*domain.QueuedRequest, len(entries))
	for i, e := range entries {
		out[i] = e.req
	}
	return out
}

// rearm restarts the window for requests queued before a ready handler was
// registered, and signals immediately if the size threshold is already met.
func (a *Aggregator) rearm() {
	a.mu.Lock()
	count := len(a.pending)
	if a.closed || count == 0 {
		a.mu.Unlock()
		return
	}
	var notify func(string)
	if count >= a.cfg.MaxBatchSize {
		a.stopTimerLocked()
		notify = a.onReady
	} else if a.timer == nil {
		a.startTimerLocked()
	}
	a.mu.Unlock()

	if notify != nil {
		notify(TriggerSize)
	}
}

func (a *Aggregator) startTimerLocked() {
	a.timerGen++
	gen := a.timerGen
	a.deadline = a.clock.Now().Add(a.cfg.Window)
	a.timer = a.clock.AfterFunc(a.cfg.Window, func() { a.windowElapsed(gen) })
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
}

func (a *Aggregator) windowElapsed(gen uint64) {
	a.mu.Lock()
	if gen != a.timerGen || a.closed {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	notify := a.onReady
	count := len(a.pending)
	a.mu.Unlock()

	if count == 0 || notify == nil {
		return
	}
	metrics.DrainTriggers.WithLabelValues(TriggerWindow).Inc()
	a.logger.Debug("batch window elapsed", "pending", count)
	notify(TriggerWindow)
}
