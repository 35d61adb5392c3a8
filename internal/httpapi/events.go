package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bridge/internal/metrics"
	"bridge/internal/request"

	"github.com/go-chi/chi/v5"
)

// RequestEvents streams the terminal event for one request over SSE: a
// connected acknowledgement, then exactly one data event when the request
// finishes, then the stream closes. Clients attaching after the terminal
// transition receive nothing here and must poll the status endpoint.
func (h Handler) RequestEvents(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}
	requestID := chi.URLParam(r, "requestID")

	if _, err := h.requests.Get(r.Context(), acct.ID, requestID); err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request_not_found", "message request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read message request")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	events, cancel := h.broker.Subscribe(requestID)
	defer cancel()
	metrics.SSESubscriptions.Inc()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	connected, _ := json.Marshal(map[string]string{"type": "connected", "request_id": requestID})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	keepalive := time.NewTicker(h.cfg.SSEKeepaliveInterval)
	defer keepalive.Stop()
	deadline := time.NewTimer(h.cfg.SSEStreamTimeout)
	defer deadline.Stop()

	for {
		select {
		case payload, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(payload)
			if err != nil {
				h.log.Error().Err(err).Str("request_id", requestID).Msg("failed to marshal sse payload")
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-deadline.C:
			return
		case <-r.Context().Done():
			return
		}
	}
}
