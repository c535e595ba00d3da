package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionClosed is returned when subscribing a connection that is no
// longer open.
var ErrConnectionClosed = errors.New("connection is closed")

// Reaping paths, used as metric labels.
const (
	reapBroadcast = "broadcast"
	reapSendError = "send_error"
	reapSweep     = "sweep"
	reapClose     = "close"
)

// Connection is a live push channel to one client. IDs must be unique among
// connections subscribed to the same Notifier.
type Connection interface {
	ID() string
	IsOpen() bool
	Send(ctx context.Context, update domain.StatusUpdate) error
	// OnClose registers fn to run once when the connection closes or errors.
	OnClose(fn func(err error))
	Close() error
}

// Config tunes delivery and reaping.
type Config struct {
	SweepInterval      time.Duration
	SendTimeout        time.Duration
	MaxConcurrentSends int
}

// DefaultConfig sweeps every minute and bounds each send to 5 seconds.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      60 * time.Second,
		SendTimeout:        5 * time.Second,
		MaxConcurrentSends: 16,
	}
}

type subscriber struct {
	conn     Connection
	sessions map[string]struct{}
}

// Notifier maps session IDs to their live connections.
type Notifier struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]Connection
	subs     map[string]*subscriber

	delivered atomic.Int64
}

// New creates a Notifier. Zero config values fall back to DefaultConfig.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Notifier {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = def.MaxConcurrentSends
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With("component", "session_notifier"),
		sessions: make(map[string]map[string]Connection),
		subs:     make(map[string]*subscriber),
	}
}

// Subscribe adds conn to sessionID. The first subscription of a connection
// registers a close observer that unsubscribes it from every session.
func (n *Notifier) Subscribe(sessionID string, conn Connection) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", domain.ErrValidation)
	}
	if !conn.IsOpen() {
		return ErrConnectionClosed
	}

	n.mu.Lock()
	sub, known := n.subs[conn.ID()]
	if !known {
		sub = &subscriber{conn: conn, sessions: make(map[string]struct{})}
		n.subs[conn.ID()] = sub
	}
	sub.sessions[sessionID] = struct{}{}
	conns, ok := n.sessions[sessionID]
	if !ok {
		conns = make(map[string]Connection)
		n.sessions[sessionID] = conns
	}
	conns[conn.ID()] = conn
	total := len(n.subs)
	n.mu.Unlock()

	metrics.Subscribers.Set(float64(total))
	if !known {
		conn.OnClose(func(err error) {
			if n.remove(conn) {
				metrics.ReapedConnections.WithLabelValues(reapClose).Inc()
				n.logger.Debug("connection closed, unsubscribed",
					"connection_id", conn.ID(),
					"error", err)
			}
		})
	}

	n.logger.Debug("connection subscribed",
		"session_id", sessionID,
		"connection_id", conn.ID())
	return nil
}

// Unsubscribe removes conn from sessionID only.
func (n *Notifier) Unsubscribe(sessionID string, conn Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.detachLocked(sessionID, conn.ID())
	if sub, ok := n.subs[conn.ID()]; ok {
		delete(sub.sessions, sessionID)
		if len(sub.sessions) == 0 {
			delete(n.subs, conn.ID())
		}
	}
	metrics.Subscribers.Set(float64(len(n.subs)))
}

// UnsubscribeAll removes conn from every session it joined.
func (n *Notifier) UnsubscribeAll(conn Connection) {
	n.remove(conn)
}

// remove reports whether conn was subscribed.
func (n *Notifier) remove(conn Connection) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[conn.ID()]
	if !ok {
		return false
	}
	for sessionID := range sub.sessions {
		n.detachLocked(sessionID, conn.ID())
	}
	delete(n.subs, conn.ID())
	metrics.Subscribers.Set(float64(len(n.subs)))
	return true
}

func (n *Notifier) detachLocked(sessionID, connID string) {
	conns, ok := n.sessions[sessionID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(n.sessions, sessionID)
	}
}

// Broadcast sends update to every live connection of sessionID and returns
// how many sends succeeded. Connections found closed or failing their send
// are removed; the others still receive the update.
func (n *Notifier) Broadcast(ctx context.Context, sessionID string, update domain.StatusUpdate) int {
	update.SessionID = sessionID

	n.mu.RLock()
	targets := make([]Connection, 0, len(n.sessions[sessionID]))
	for _, conn := range n.sessions[sessionID] {
		targets = append(targets, conn)
	}
	n.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var dead []Connection
	live := targets[:0]
	for _, conn := range targets {
		if conn.IsOpen() {
			live = append(live, conn)
		} else {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		metrics.Deliveries.WithLabelValues("skipped").Inc()
		if n.remove(conn) {
			metrics.ReapedConnections.WithLabelValues(reapBroadcast).Inc()
		}
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		failed    []Connection
		delivered atomic.Int64
	)
	g.SetLimit(n.cfg.MaxConcurrentSends)
	for _, conn := range live {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
			defer cancel()

			if err := conn.Send(sendCtx, update); err != nil {
				metrics.Deliveries.WithLabelValues("failed").Inc()
				n.logger.WarnContext(ctx, "status update delivery failed",
					"error", err,
					"session_id", sessionID,
					"connection_id", conn.ID(),
					"request_id", update.RequestID)
				mu.Lock()
				failed = append(failed, conn)
				mu.Unlock()
				return nil
			}
			metrics.Deliveries.WithLabelValues("delivered").Inc()
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for _, conn := range failed {
		if n.remove(conn) {
			metrics.ReapedConnections.WithLabelValues(reapSendError).Inc()
		}
		_ = conn.Close()
	}

	count := int(delivered.Load())
	n.delivered.Add(int64(count))
	return count
}

// Sweep removes every subscribed connection that is no longer open and
// returns how many were removed.
func (n *Notifier) Sweep() int {
	n.mu.RLock()
	var dead []Connection
	for _, sub := range n.subs {
		if !sub.conn.IsOpen() {
			dead = append(dead, sub.conn)
		}
	}
	n.mu.RUnlock()

	removed := 0
	for _, conn := range dead {
		if n.remove(conn) {
			removed++
		}
	}
	if removed > 0 {
		metrics.ReapedConnections.WithLabelValues(reapSweep).Add(float64(removed))
		n.logger.Info("swept dead connections", "removed", removed)
	}
	return removed
}

// Run sweeps on every SweepInterval tick until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ticker := n.clock.NewTicker(n.cfg.SweepInterval)
	defer ticker.Stop()

	n.logger.InfoContext(ctx, "connection sweeper started", "interval", n.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("connection sweeper stopped")
			return nil
		case <-ticker.C():
			n.Sweep()
		}
	}
}

// CloseAll closes every subscribed connection.
func (n *Notifier) CloseAll() {
	n.mu.RLock()
	conns := make([]Connection, 0, len(n.subs))
	for _, sub := range n.subs {
		conns = append(conns, sub.conn)
	}
	n.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
		n.remove(conn)
	}
}

// SubscriberCount returns the number of connections subscribed to sessionID.
func (n *Notifier) SubscriberCount(sessionID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions[sessionID])
}

// SessionCount returns the number of sessions with at least one connection.
func (n *Notifier) SessionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// Delivered returns the total number of successful sends.
func (n *Notifier) Delivered() int64 {
	return n.delivered.Load()
}
