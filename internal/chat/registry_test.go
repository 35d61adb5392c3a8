package chat

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"bridge/internal/db"

	_ "modernc.org/sqlite"
)

func newTestRegistry(t *testing.T) Registry {
	t.Helper()
	database, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := database.ExecContext(ctx, `INSERT INTO accounts (id, email, api_key) VALUES ('acct-1', 'a@example.com', 'k1'), ('acct-2', 'b@example.com', 'k2');`); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	return NewRegistry(database)
}

func TestResolveWithoutRemoteIDCreatesFreshChat(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	chat, err := registry.Resolve(ctx, "acct-1", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chat.ID == 0 {
		t.Fatal("expected chat id to be assigned")
	}
	if chat.RemoteChatID != nil || chat.Title != nil {
		t.Fatalf("expected null remote id and title, got %v / %v", chat.RemoteChatID, chat.Title)
	}

	second, err := registry.Resolve(ctx, "acct-1", "")
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if second.ID == chat.ID {
		t.Fatal("expected a new chat per submission without remote id")
	}
}

func TestResolveUnknownRemoteIDFails(t *testing.T) {
	registry := newTestRegistry(t)

	if _, err := registry.Resolve(context.Background(), "acct-1", "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRemoteIDIsAccountScoped(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	chat, err := registry.Resolve(ctx, "acct-1", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := registry.ApplyWorkerUpdate(ctx, "acct-1", chat.ID, "ext-1", "Greeting"); err != nil {
		t.Fatalf("apply worker update: %v", err)
	}

	if _, err := registry.Resolve(ctx, "acct-2", "ext-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign account, got %v", err)
	}

	found, err := registry.Resolve(ctx, "acct-1", "ext-1")
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if found.ID != chat.ID {
		t.Fatalf("expected chat %d, got %d", chat.ID, found.ID)
	}
}

func TestApplyWorkerUpdateIsPartialAndIdempotent(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	chat, err := registry.Resolve(ctx, "acct-1", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := registry.ApplyWorkerUpdate(ctx, "acct-1", chat.ID, "ext-9", ""); err != nil {
		t.Fatalf("apply remote id: %v", err)
	}

	updated, err := registry.Get(ctx, "acct-1", chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if updated.RemoteChatID == nil || *updated.RemoteChatID != "ext-9" {
		t.Fatalf("expected remote id ext-9, got %v", updated.RemoteChatID)
	}
	if updated.Title != nil {
		t.Fatalf("title must stay null on partial update, got %v", updated.Title)
	}

	if err := registry.ApplyWorkerUpdate(ctx, "acct-1", chat.ID, "ext-9", "Greeting"); err != nil {
		t.Fatalf("apply title: %v", err)
	}
	if err := registry.ApplyWorkerUpdate(ctx, "acct-1", chat.ID, "ext-9", "Greeting"); err != nil {
		t.Fatalf("repeat identical update: %v", err)
	}

	final, err := registry.Get(ctx, "acct-1", chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if final.Title == nil || *final.Title != "Greeting" {
		t.Fatalf("expected title Greeting, got %v", final.Title)
	}

	// Supplying neither field is a no-op, not an error.
	if err := registry.ApplyWorkerUpdate(ctx, "acct-1", chat.ID, "", ""); err != nil {
		t.Fatalf("empty update: %v", err)
	}
}
