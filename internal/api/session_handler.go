package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/garmax-api/internal/api/shared"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/notify"
	"github.com/phrazzld/garmax-api/internal/platform/push"
)

// Subscriptions is the session notifier as seen by the API.
type Subscriptions interface {
	Subscribe(sessionID string, conn notify.Connection) error
	UnsubscribeAll(conn notify.Connection)
}

// SessionHandler upgrades session subscriptions to websockets.
type SessionHandler struct {
	subs           Subscriptions
	originPatterns []string
	logger         *slog.Logger
}

// NewSessionHandler creates a SessionHandler. originPatterns are passed to
// the websocket handshake; empty means same-origin only.
func NewSessionHandler(subs Subscriptions, originPatterns []string, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		subs:           subs,
		originPatterns: originPatterns,
		logger:         logger.With("component", "session_handler"),
	}
}

// Events handles GET /api/sessions/{sessionID}/events. The handler holds
// the connection until the peer goes away or the notifier closes it.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" || len(sessionID) > domain.MaxSessionIDLength {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid session ID")
		return
	}

	conn, err := push.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns}, h.logger)
	if err != nil {
		// Accept has already written the handshake failure.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	if err := h.subs.Subscribe(sessionID, conn); err != nil {
		h.logger.WarnContext(r.Context(), "subscription rejected",
			"session_id", sessionID,
			"error", err)
		_ = conn.Close()
		return
	}

	select {
	case <-conn.Done():
	case <-r.Context().Done():
	}
	h.subs.UnsubscribeAll(conn)
	_ = conn.Close()
}
