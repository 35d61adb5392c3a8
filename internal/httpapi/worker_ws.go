package httpapi

import (
	"errors"
	"net/http"

	"bridge/internal/account"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Workers are browser extensions and CLI agents; origin enforcement
	// happens via the API key, not the Origin header.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WorkerSocket upgrades the worker connection and runs its read loop. The
// key is carried as a query parameter because browser websocket clients
// cannot set headers.
func (h Handler) WorkerSocket(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.ResolveAPIKey(r.Context(), r.URL.Query().Get("api_key"))
	if errors.Is(err, account.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api_key")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to resolve api_key")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("worker websocket upgrade failed")
		return
	}

	session := h.hub.Connect(r.Context(), acct.ID, conn)
	defer h.hub.Disconnect(r.Context(), session)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.HandleFrame(r.Context(), session, data)
	}
}
