package notify

import (
	"context"

	"bridge/internal/account"
	"bridge/internal/metrics"
	"bridge/internal/request"

	"github.com/rs/zerolog"
)

// Fanout reacts to terminal transitions. The transition itself is already
// durable when OnTerminal runs; delivery here is observation only and never
// feeds back into request state.
type Fanout struct {
	accounts account.Store
	requests request.Store
	webhook  *WebhookSender
	broker   *SSEBroker
	log      zerolog.Logger
}

func NewFanout(accounts account.Store, requests request.Store, webhook *WebhookSender, broker *SSEBroker, logger zerolog.Logger) *Fanout {
	return &Fanout{
		accounts: accounts,
		requests: requests,
		webhook:  webhook,
		broker:   broker,
		log:      logger.With().Str("component", "fanout").Logger(),
	}
}

func (f *Fanout) Broker() *SSEBroker {
	return f.broker
}

// OnTerminal is called once per done/failed transition. The webhook POST
// runs on its own goroutine so a slow receiver cannot stall the worker's
// read loop; the SSE publish is synchronous. Observers see the two in no
// particular order.
func (f *Fanout) OnTerminal(ctx context.Context, req request.MessageRequest) {
	payload := PayloadFor(req)

	acct, err := f.accounts.Get(ctx, req.AccountID)
	if err != nil {
		f.log.Error().Err(err).Str("request_id", req.ID).Msg("account lookup failed, skipping webhook")
	} else if acct.WebhookURL != "" {
		go f.deliverWebhook(acct.WebhookURL, req, payload)
	}

	delivered := f.broker.Publish(req.ID, payload)
	f.log.Debug().
		Str("request_id", req.ID).
		Str("status", req.Status).
		Int("sse_listeners", delivered).
		Msg("terminal event fanned out")
}

func (f *Fanout) deliverWebhook(targetURL string, req request.MessageRequest, payload Payload) {
	// Detached from the frame's context: the notification should outlive
	// the websocket connection that carried the result.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.webhook.Send(ctx, targetURL, payload); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		f.log.Warn().Err(err).
			Str("request_id", req.ID).
			Str("webhook_url", targetURL).
			Msg("webhook delivery failed")
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	if err := f.requests.MarkWebhookSent(ctx, req.AccountID, req.ID); err != nil {
		f.log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to record webhook delivery")
	}
}

// PayloadFor builds the shared webhook/SSE body for a terminal request.
func PayloadFor(req request.MessageRequest) Payload {
	return Payload{
		RequestID:    req.ID,
		Status:       req.Status,
		Message:      req.Message,
		Response:     req.Response,
		Error:        req.ErrorMessage,
		ResponseType: req.ResponseType,
		ThinkingTime: req.ThinkingTime,
	}
}
