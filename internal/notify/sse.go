package notify

import "sync"

// SSEBroker is a one-shot broadcast registry keyed by request id. Each
// subscription receives at most one payload, after which its channel closes
// and the registry entry is discarded. Nothing is buffered for late
// subscribers; they must fall back to a direct status read.
type SSEBroker struct {
	mu   sync.Mutex
	subs map[string][]chan Payload
}

func NewSSEBroker() *SSEBroker {
	return &SSEBroker{subs: map[string][]chan Payload{}}
}

// Subscribe registers a listener for the request's terminal event. The
// returned cancel func is idempotent and safe to call after the event has
// already been delivered.
func (b *SSEBroker) Subscribe(requestID string) (<-chan Payload, func()) {
	ch := make(chan Payload, 1)

	b.mu.Lock()
	b.subs[requestID] = append(b.subs[requestID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		listeners := b.subs[requestID]
		for i, existing := range listeners {
			if existing == ch {
				b.subs[requestID] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
		if len(b.subs[requestID]) == 0 {
			delete(b.subs, requestID)
		}
	}
	return ch, cancel
}

// Publish delivers the terminal payload to every open subscription for the
// request id and closes them. Returns how many listeners were notified.
func (b *SSEBroker) Publish(requestID string, payload Payload) int {
	b.mu.Lock()
	listeners := b.subs[requestID]
	delete(b.subs, requestID)
	b.mu.Unlock()

	for _, ch := range listeners {
		ch <- payload
		close(ch)
	}
	return len(listeners)
}

// SubscriberCount reports open subscriptions for a request id.
func (b *SSEBroker) SubscriberCount(requestID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[requestID])
}
