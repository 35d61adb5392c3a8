package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"bridge/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

func Open(cfg config.Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql db: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return database, nil
}

func buildDSN(rawURL, authToken string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return parsed.String(), nil
}

// Migrate creates the schema when it does not exist yet. Chat ids are
// integers so worker frames can carry the internal id alongside the remote
// one.
func Migrate(ctx context.Context, database *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	api_key TEXT NOT NULL UNIQUE,
	webhook_url TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	remote_chat_id TEXT UNIQUE,
	title TEXT,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_requests (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	chat_id INTEGER REFERENCES chats(id) ON DELETE SET NULL,
	message TEXT NOT NULL,
	response_type TEXT NOT NULL DEFAULT 'auto',
	thinking_time TEXT NOT NULL DEFAULT 'standard',
	status TEXT NOT NULL DEFAULT 'idle',
	response TEXT,
	error_message TEXT,
	queued_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	last_retrieved_at TEXT,
	webhook_sent INTEGER NOT NULL DEFAULT 0,
	webhook_sent_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_chats_remote ON chats(remote_chat_id);
CREATE INDEX IF NOT EXISTS idx_chats_account ON chats(account_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_requests_account_status ON message_requests(account_id, status);
CREATE INDEX IF NOT EXISTS idx_requests_status_queued ON message_requests(status, queued_at);
`

	if _, err := database.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
