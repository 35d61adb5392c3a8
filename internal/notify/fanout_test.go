package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bridge/internal/account"
	"bridge/internal/db"
	"bridge/internal/request"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type fanoutFixture struct {
	accounts account.Store
	requests request.Store
	database *sql.DB
}

func newFanoutFixture(t *testing.T) fanoutFixture {
	t.Helper()
	database, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return fanoutFixture{
		accounts: account.NewStore(database),
		requests: request.NewStore(database),
		database: database,
	}
}

func (f fanoutFixture) seedTerminalRequest(t *testing.T, webhookURL string) request.MessageRequest {
	t.Helper()
	ctx := context.Background()

	acct, err := f.accounts.Create(ctx, "worker@example.com", "key-1", webhookURL)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := f.database.ExecContext(ctx, `INSERT INTO chats (id, account_id) VALUES (1, ?);`, acct.ID); err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	req, err := f.requests.Create(ctx, acct.ID, 1, "Hello", request.ResponseTypeAuto, request.ThinkingTimeStandard)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := f.requests.MarkExecuting(ctx, acct.ID, req.ID); err != nil {
		t.Fatalf("mark executing: %v", err)
	}
	done, err := f.requests.MarkDone(ctx, acct.ID, req.ID, "Hi")
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	return done
}

func TestOnTerminalPostsWebhookAndPublishesSSE(t *testing.T) {
	fixture := newFanoutFixture(t)

	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	done := fixture.seedTerminalRequest(t, server.URL)

	broker := NewSSEBroker()
	stream, cancel := broker.Subscribe(done.ID)
	defer cancel()

	fanout := NewFanout(fixture.accounts, fixture.requests, NewWebhookSender(5*time.Second, zerolog.Nop()), broker, zerolog.Nop())
	fanout.OnTerminal(context.Background(), done)

	select {
	case payload := <-received:
		if payload.RequestID != done.ID || payload.Status != "done" {
			t.Fatalf("unexpected webhook payload: %+v", payload)
		}
		if payload.Response == nil || *payload.Response != "Hi" || payload.Error != nil {
			t.Fatalf("unexpected webhook body: %+v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never posted")
	}

	ssePayload, ok := <-stream
	if !ok {
		t.Fatal("sse subscriber got no payload")
	}
	if ssePayload.RequestID != done.ID || ssePayload.Status != "done" {
		t.Fatalf("sse payload mismatch: %+v", ssePayload)
	}

	// Successful delivery is recorded on the request.
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := fixture.requests.Get(context.Background(), done.AccountID, done.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if got.WebhookSent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook_sent was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOnTerminalWebhookFailureLeavesStateAlone(t *testing.T) {
	fixture := newFanoutFixture(t)

	posted := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted <- struct{}{}
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	done := fixture.seedTerminalRequest(t, server.URL)

	fanout := NewFanout(fixture.accounts, fixture.requests, NewWebhookSender(5*time.Second, zerolog.Nop()), NewSSEBroker(), zerolog.Nop())
	fanout.OnTerminal(context.Background(), done)

	select {
	case <-posted:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never attempted")
	}

	// Give the goroutine a moment; the failure must not mark delivery or
	// disturb the terminal row.
	time.Sleep(50 * time.Millisecond)
	got, err := fixture.requests.Get(context.Background(), done.AccountID, done.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.WebhookSent {
		t.Fatal("failed delivery must not be recorded as sent")
	}
	if got.Status != request.StatusDone || got.Response == nil || *got.Response != "Hi" {
		t.Fatalf("terminal row disturbed: %+v", got)
	}
}

func TestOnTerminalWithoutWebhookTargetSkipsPOST(t *testing.T) {
	fixture := newFanoutFixture(t)
	done := fixture.seedTerminalRequest(t, "")

	broker := NewSSEBroker()
	stream, cancel := broker.Subscribe(done.ID)
	defer cancel()

	fanout := NewFanout(fixture.accounts, fixture.requests, NewWebhookSender(time.Second, zerolog.Nop()), broker, zerolog.Nop())
	fanout.OnTerminal(context.Background(), done)

	if payload, ok := <-stream; !ok || payload.RequestID != done.ID {
		t.Fatalf("sse publish missing: %+v ok=%t", payload, ok)
	}
}
