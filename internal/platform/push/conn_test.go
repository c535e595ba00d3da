package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer accepts one websocket and hands the wrapped Conn to the test.
func pushServer(t *testing.T) (*httptest.Server, <-chan *Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, nil, logger.DiscardLogger())
		if err != nil {
			return
		}
		conns <- c
		<-c.Done()
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return ws
}

func TestConnSend(t *testing.T) {
	srv, conns := pushServer(t)
	client := dial(t, srv)
	defer client.CloseNow()

	server := <-conns
	assert.True(t, server.IsOpen())
	assert.NotEmpty(t, server.ID())

	update := domain.StatusUpdate{
		SessionID:       "s1",
		RequestID:       uuid.New(),
		Status:          domain.UpdateStatusCompleted,
		Progress:        100,
		ResultReference: "file://artifacts/r1.png",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Send(ctx, update))

	var got domain.StatusUpdate
	require.NoError(t, wsjson.Read(ctx, client, &got))
	assert.Equal(t, update, got)
}

func TestConnPeerCloseNotifiesObservers(t *testing.T) {
	srv, conns := pushServer(t)
	client := dial(t, srv)
	server := <-conns

	notified := make(chan error, 1)
	server.OnClose(func(err error) { notified <- err })

	require.NoError(t, client.Close(websocket.StatusNormalClosure, "bye"))

	select {
	case err := <-notified:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close observer not called")
	}
	assert.False(t, server.IsOpen())
	assert.ErrorIs(t, server.Send(context.Background(), domain.StatusUpdate{}), ErrClosed)

	// Late observers run immediately.
	late := make(chan struct{})
	server.OnClose(func(error) { close(late) })
	<-late
}

func TestConnClose(t *testing.T) {
	srv, conns := pushServer(t)
	client := dial(t, srv)
	defer client.CloseNow()
	server := <-conns

	calls := 0
	server.OnClose(func(err error) {
		calls++
		assert.NoError(t, err)
	})

	go func() {
		// Drain the client side so the close handshake completes.
		_, _, _ = client.Read(context.Background())
	}()

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.Equal(t, 1, calls)
	assert.False(t, server.IsOpen())
	<-server.Done()
}
