// Package push adapts websocket connections to the notifier's Connection
// interface. Connections are write-only from the server's side: a client
// message closes the connection.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// ErrClosed is returned by Send after the connection has closed.
var ErrClosed = errors.New("push connection closed")

// Conn is a websocket connection carrying status updates to one client.
// Writes are serialized because websocket frames cannot be interleaved.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	closeErr  error
	observers []func(error)
	done      chan struct{}
}

// Accept upgrades the request and wraps the resulting websocket.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions, logger *slog.Logger) (*Conn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	return NewConn(ws, logger), nil
}

// NewConn wraps ws and starts watching it for closure.
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		done: make(chan struct{}),
	}
	c.logger = logger.With("component", "push_conn", "connection_id", c.id)

	readCtx := ws.CloseRead(context.Background())
	go func() {
		<-readCtx.Done()
		c.markClosed(errors.New("peer closed connection"))
	}()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// IsOpen reports whether the connection is still usable.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Done is closed once the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes update as a JSON text message. A failed write closes the
// connection.
func (c *Conn) Send(ctx context.Context, update domain.StatusUpdate) error {
	if !c.IsOpen() {
		return ErrClosed
	}

	c.writeMu.Lock()
	err := wsjson.Write(ctx, c.ws, update)
	c.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("websocket write: %w", err)
		c.markClosed(err)
		_ = c.ws.CloseNow()
		return err
	}
	return nil
}

// OnClose registers fn to run once when the connection closes. If it has
// already closed, fn runs immediately.
func (c *Conn) OnClose(fn func(error)) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		fn(err)
		return
	}
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Close sends a normal closure frame and notifies observers.
func (c *Conn) Close() error {
	if !c.IsOpen() {
		return nil
	}
	c.markClosed(nil)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.ws.Close(websocket.StatusNormalClosure, "closing")
	if err != nil && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}

func (c *Conn) markClosed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	observers := c.observers
	c.observers = nil
	close(c.done)
	c.mu.Unlock()

	c.logger.Debug("push connection closed", "error", err)
	for _, fn := range observers {
		fn(err)
	}
}
