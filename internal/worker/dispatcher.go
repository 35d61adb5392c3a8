package worker

import (
	"context"

	"bridge/internal/chat"
	"bridge/internal/metrics"
	"bridge/internal/request"

	"github.com/rs/zerolog"
)

// Dispatcher is the submit entry point: resolve the chat, persist the
// request, and hand it to the live worker if one is attached. It never
// waits for the worker; completion is observed via polling, webhook or SSE.
type Dispatcher struct {
	chats    chat.Registry
	requests request.Store
	hub      *Hub
	log      zerolog.Logger
}

func NewDispatcher(chats chat.Registry, requests request.Store, hub *Hub, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		chats:    chats,
		requests: requests,
		hub:      hub,
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Submit queues a message request. An unknown remoteChatID surfaces
// chat.ErrNotFound and creates nothing.
func (d *Dispatcher) Submit(ctx context.Context, accountID, message, responseType, thinkingTime, remoteChatID string) (request.MessageRequest, chat.Chat, error) {
	c, err := d.chats.Resolve(ctx, accountID, remoteChatID)
	if err != nil {
		return request.MessageRequest{}, chat.Chat{}, err
	}

	req, err := d.requests.Create(ctx, accountID, c.ID, message, responseType, thinkingTime)
	if err != nil {
		return request.MessageRequest{}, chat.Chat{}, err
	}
	metrics.RequestsSubmitted.Inc()

	if d.hub.Deliver(ctx, req, &c) {
		d.log.Debug().Str("request_id", req.ID).Str("account_id", accountID).Msg("request delivered to worker")
	} else {
		d.log.Debug().Str("request_id", req.ID).Str("account_id", accountID).Msg("no worker connected; request queued")
	}

	return req, c, nil
}
