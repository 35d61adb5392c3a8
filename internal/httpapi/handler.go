package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"bridge/internal/account"
	"bridge/internal/chat"
	"bridge/internal/config"
	"bridge/internal/notify"
	"bridge/internal/request"
	"bridge/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	cfg        config.Config
	log        zerolog.Logger
	accounts   account.Store
	chats      chat.Registry
	requests   request.Store
	hub        *worker.Hub
	dispatcher *worker.Dispatcher
	broker     *notify.SSEBroker
}

func NewHandler(cfg config.Config, logger zerolog.Logger, accounts account.Store, chats chat.Registry, requests request.Store, hub *worker.Hub, dispatcher *worker.Dispatcher, broker *notify.SSEBroker) Handler {
	return Handler{
		cfg:        cfg,
		log:        logger.With().Str("component", "httpapi").Logger(),
		accounts:   accounts,
		chats:      chats,
		requests:   requests,
		hub:        hub,
		dispatcher: dispatcher,
		broker:     broker,
	}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitMessageRequest struct {
	Message      string `json:"message"`
	ResponseType string `json:"responseType"`
	ThinkingTime string `json:"thinkingTime"`
	ChatID       string `json:"chatId"`
}

func (h Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}

	var req submitMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if req.ResponseType != "" && !request.ValidResponseType(req.ResponseType) {
		writeError(w, http.StatusBadRequest, "invalid_request", "responseType must be thinking, auto or instant")
		return
	}
	if req.ThinkingTime != "" && !request.ValidThinkingTime(req.ThinkingTime) {
		writeError(w, http.StatusBadRequest, "invalid_request", "thinkingTime must be standard or extended")
		return
	}

	created, linkedChat, err := h.dispatcher.Submit(r.Context(), acct.ID, req.Message, req.ResponseType, req.ThinkingTime, req.ChatID)
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat_not_found", "chat with id '"+strings.TrimSpace(req.ChatID)+"' not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "db_error", "failed to queue message request")
		return
	}

	writeJSON(w, http.StatusCreated, renderRequest(created, &linkedChat))
}

func (h Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}
	requestID := chi.URLParam(r, "requestID")

	if err := h.requests.MarkRetrieved(r.Context(), acct.ID, requestID); err != nil {
		h.log.Warn().Err(err).Str("request_id", requestID).Msg("failed to mark retrieved")
	}

	req, err := h.requests.Get(r.Context(), acct.ID, requestID)
	if errors.Is(err, request.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request_not_found", "message request not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read message request")
		return
	}

	writeJSON(w, http.StatusOK, renderRequest(req, h.chatFor(r, acct.ID, req)))
}

func (h Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}

	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	switch statusFilter {
	case "", request.StatusIdle, request.StatusExecuting, request.StatusDone, request.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}

	requests, err := h.requests.List(r.Context(), acct.ID, statusFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list message requests")
		return
	}

	out := make([]messageRequestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, renderRequest(req, h.chatFor(r, acct.ID, req)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}

	chats, err := h.chats.List(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list chats")
		return
	}

	out := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, renderChat(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (h Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}

	c, err := h.chats.GetByRemoteID(r.Context(), acct.ID, chi.URLParam(r, "remoteChatID"))
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read chat")
		return
	}

	writeJSON(w, http.StatusOK, renderChat(c))
}

func (h Handler) chatFor(r *http.Request, accountID string, req request.MessageRequest) *chat.Chat {
	if req.ChatID == nil {
		return nil
	}
	c, err := h.chats.Get(r.Context(), accountID, *req.ChatID)
	if err != nil {
		return nil
	}
	return &c
}

type chatResponse struct {
	ID        int64   `json:"id"`
	ChatID    *string `json:"chatId"`
	Title     *string `json:"title"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

type messageRequestResponse struct {
	ID              string        `json:"id"`
	Message         string        `json:"message"`
	ResponseType    string        `json:"responseType"`
	ThinkingTime    string        `json:"thinkingTime"`
	Status          string        `json:"status"`
	Response        *string       `json:"response"`
	ErrorMessage    *string       `json:"errorMessage"`
	Chat            *chatResponse `json:"chat"`
	QueuedAt        string        `json:"queuedAt"`
	StartedAt       *string       `json:"startedAt"`
	CompletedAt     *string       `json:"completedAt"`
	LastRetrievedAt *string       `json:"lastRetrievedAt"`
}

func renderChat(c chat.Chat) chatResponse {
	return chatResponse{
		ID:        c.ID,
		ChatID:    c.RemoteChatID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func renderRequest(req request.MessageRequest, c *chat.Chat) messageRequestResponse {
	out := messageRequestResponse{
		ID:              req.ID,
		Message:         req.Message,
		ResponseType:    req.ResponseType,
		ThinkingTime:    req.ThinkingTime,
		Status:          req.Status,
		Response:        req.Response,
		ErrorMessage:    req.ErrorMessage,
		QueuedAt:        req.QueuedAt,
		StartedAt:       req.StartedAt,
		CompletedAt:     req.CompletedAt,
		LastRetrievedAt: req.LastRetrievedAt,
	}
	if c != nil {
		rendered := renderChat(*c)
		out.Chat = &rendered
	}
	return out
}
