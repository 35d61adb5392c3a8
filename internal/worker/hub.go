package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"bridge/internal/chat"
	"bridge/internal/metrics"
	"bridge/internal/notify"
	"bridge/internal/request"

	"github.com/rs/zerolog"
)

var errSessionClosed = errors.New("worker session closed")

// Wire is the duplex transport under a session. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Wire interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live worker connection. Writes are serialized through the
// session mutex; websocket connections allow only one concurrent writer.
type Session struct {
	accountID    string
	wire         Wire
	writeTimeout time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *Session) AccountID() string {
	return s.accountID
}

// send writes one frame under the session mutex. The write deadline bounds
// how long a stalled worker can hold that mutex: without it a full TCP
// buffer would block the submit path behind this session forever.
func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.writeTimeout > 0 {
		if err := s.wire.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.wire.WriteJSON(v)
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	metrics.WorkersConnected.Dec()
	_ = s.wire.Close()
}

// Hub is the keyed registry holding the one live worker slot per account.
// Connect, Disconnect and Deliver all resolve the slot under the same lock,
// so a connect racing a delivery never writes to a replaced session.
type Hub struct {
	chats        chat.Registry
	requests     request.Store
	fanout       *notify.Fanout
	writeTimeout time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(chats chat.Registry, requests request.Store, fanout *notify.Fanout, writeTimeout time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		chats:        chats,
		requests:     requests,
		fanout:       fanout,
		writeTimeout: writeTimeout,
		log:          logger.With().Str("component", "worker_hub").Logger(),
		sessions:     map[string]*Session{},
	}
}

// Connect registers the wire as the authoritative session for the account,
// closing any previous one, then flushes the idle backlog oldest first.
// A submit racing the flush can push the same new_request frame twice (once
// via Deliver, once from the still-idle row); workers must tolerate that,
// and the compare-and-swap on status absorbs the duplicate transition.
func (h *Hub) Connect(ctx context.Context, accountID string, wire Wire) *Session {
	session := &Session{
		accountID:    accountID,
		wire:         wire,
		writeTimeout: h.writeTimeout,
		log:          h.log.With().Str("account_id", accountID).Logger(),
	}

	h.mu.Lock()
	prev := h.sessions[accountID]
	h.sessions[accountID] = session
	h.mu.Unlock()

	metrics.WorkersConnected.Inc()
	if prev != nil {
		prev.close()
		session.log.Info().Msg("replaced previous worker session")
	}
	session.log.Info().Msg("worker connected")

	h.flushIdle(ctx, session)
	return session
}

// Disconnect releases the slot if the session still owns it. Requests left
// in executing stay there; redelivering them could duplicate work the
// remote side already performed, so the policy is to abandon them loudly.
func (h *Hub) Disconnect(ctx context.Context, session *Session) {
	h.mu.Lock()
	current := h.sessions[session.accountID] == session
	if current {
		delete(h.sessions, session.accountID)
	}
	h.mu.Unlock()

	session.close()
	if !current {
		return
	}
	session.log.Info().Msg("worker disconnected")

	if n, err := h.requests.CountExecuting(ctx, session.accountID); err == nil && n > 0 {
		session.log.Warn().
			Int("executing", n).
			Msg("requests left executing; they will not be redelivered automatically")
	}
}

// Deliver pushes a new_request frame to the account's live worker, if any.
// Returns false when no worker is connected or the write failed; the
// request stays idle either way and is flushed on the next connect.
func (h *Hub) Deliver(ctx context.Context, req request.MessageRequest, c *chat.Chat) bool {
	h.mu.Lock()
	session := h.sessions[req.AccountID]
	h.mu.Unlock()
	if session == nil {
		return false
	}

	if err := session.send(newRequestFrame(req, c)); err != nil {
		session.log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to push new_request frame")
		return false
	}
	metrics.FramesDelivered.Inc()
	return true
}

// Connected reports whether the account currently has a live worker.
func (h *Hub) Connected(accountID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[accountID] != nil
}

func (h *Hub) flushIdle(ctx context.Context, session *Session) {
	backlog, err := h.requests.ListIdle(ctx, session.accountID)
	if err != nil {
		session.log.Error().Err(err).Msg("failed to load idle backlog")
		return
	}

	for _, req := range backlog {
		var chatRef *chat.Chat
		if req.ChatID != nil {
			c, err := h.chats.Get(ctx, session.accountID, *req.ChatID)
			if err == nil {
				chatRef = &c
			}
		}
		if err := session.send(newRequestFrame(req, chatRef)); err != nil {
			session.log.Warn().Err(err).Str("request_id", req.ID).Msg("backlog flush interrupted")
			return
		}
		metrics.FramesDelivered.Inc()
	}
	if len(backlog) > 0 {
		session.log.Info().Int("count", len(backlog)).Msg("flushed idle backlog")
	}
}

// HandleFrame routes one inbound worker frame. Malformed frames, frames for
// unknown or foreign requests, and duplicate transitions are dropped with a
// warning; nothing a worker sends can crash the channel or touch another
// account's data.
func (h *Hub) HandleFrame(ctx context.Context, session *Session, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.dropFrame(session, "malformed", "", "unparsable frame")
		return
	}
	if strings.TrimSpace(frame.RequestID) == "" {
		h.dropFrame(session, "malformed", "", "frame missing request_id")
		return
	}

	switch frame.Type {
	case frameTypeStatusUpdate:
		h.handleStatusUpdate(ctx, session, frame)
	case frameTypeResponse:
		h.handleResponse(ctx, session, frame)
	case frameTypeError:
		h.handleError(ctx, session, frame)
	default:
		h.dropFrame(session, "malformed", frame.RequestID, "unknown frame type "+frame.Type)
	}
}

func (h *Hub) handleStatusUpdate(ctx context.Context, session *Session, frame inboundFrame) {
	if frame.Status != request.StatusExecuting {
		h.dropFrame(session, "malformed", frame.RequestID, "status_update with status "+frame.Status)
		return
	}

	if _, err := h.requests.MarkExecuting(ctx, session.accountID, frame.RequestID); err != nil {
		h.dropTransition(session, frame.RequestID, err)
		return
	}
	metrics.FramesReceived.WithLabelValues(frameTypeStatusUpdate).Inc()
	session.log.Debug().Str("request_id", frame.RequestID).Msg("request executing")
}

func (h *Hub) handleResponse(ctx context.Context, session *Session, frame inboundFrame) {
	req, err := h.requests.Get(ctx, session.accountID, frame.RequestID)
	if err != nil {
		h.dropTransition(session, frame.RequestID, err)
		return
	}

	if req.ChatID != nil {
		if err := h.chats.ApplyWorkerUpdate(ctx, session.accountID, *req.ChatID, frame.ChatID, frame.ChatTitle); err != nil {
			session.log.Error().Err(err).Str("request_id", frame.RequestID).Msg("chat update failed")
		}
	}

	done, err := h.requests.MarkDone(ctx, session.accountID, frame.RequestID, frame.Response)
	if err != nil {
		h.dropTransition(session, frame.RequestID, err)
		return
	}
	metrics.FramesReceived.WithLabelValues(frameTypeResponse).Inc()
	session.log.Info().Str("request_id", frame.RequestID).Msg("request done")
	h.fanout.OnTerminal(ctx, done)
}

func (h *Hub) handleError(ctx context.Context, session *Session, frame inboundFrame) {
	message := strings.TrimSpace(frame.Error)
	if message == "" {
		message = "Unknown error"
	}

	failed, err := h.requests.MarkFailed(ctx, session.accountID, frame.RequestID, message)
	if err != nil {
		h.dropTransition(session, frame.RequestID, err)
		return
	}
	metrics.FramesReceived.WithLabelValues(frameTypeError).Inc()
	session.log.Info().Str("request_id", frame.RequestID).Str("error", message).Msg("request failed")
	h.fanout.OnTerminal(ctx, failed)
}

func (h *Hub) dropFrame(session *Session, reason, requestID, detail string) {
	metrics.FramesDropped.WithLabelValues(reason).Inc()
	event := session.log.Warn().Str("reason", reason)
	if requestID != "" {
		event = event.Str("request_id", requestID)
	}
	event.Msg("dropped worker frame: " + detail)
}

func (h *Hub) dropTransition(session *Session, requestID string, err error) {
	switch {
	case errors.Is(err, request.ErrNotFound):
		h.dropFrame(session, "unknown_request", requestID, "request not owned by this account")
	case errors.Is(err, request.ErrInvalidTransition):
		h.dropFrame(session, "invalid_transition", requestID, err.Error())
	default:
		session.log.Error().Err(err).Str("request_id", requestID).Msg("frame handling failed")
	}
}
