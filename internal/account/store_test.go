package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"bridge/internal/db"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	database, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(database)
}

func TestResolveAPIKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "Worker@Example.com", "key-123", "https://hooks.example.com/gpt")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if created.Email != "worker@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}

	resolved, err := store.ResolveAPIKey(ctx, "key-123")
	if err != nil {
		t.Fatalf("resolve api key: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatalf("resolved wrong account: %q", resolved.ID)
	}
	if resolved.WebhookURL != "https://hooks.example.com/gpt" {
		t.Fatalf("unexpected webhook url: %q", resolved.WebhookURL)
	}
}

func TestResolveAPIKeyRejectsUnknownAndEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ResolveAPIKey(ctx, "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := store.ResolveAPIKey(ctx, "   "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for blank key, got %v", err)
	}
}

func TestResolveAPIKeyRejectsInactiveAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "worker@example.com", "key-456", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := store.db.ExecContext(ctx, `UPDATE accounts SET is_active = 0 WHERE id = ?;`, created.ID); err != nil {
		t.Fatalf("deactivate account: %v", err)
	}

	if _, err := store.ResolveAPIKey(ctx, "key-456"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for inactive account, got %v", err)
	}
}

func TestGetUnknownAccount(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
