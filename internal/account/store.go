package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("account not found")
	ErrUnauthorized = errors.New("invalid api key")
)

type Account struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	WebhookURL string `json:"webhookUrl,omitempty"`
	IsActive   bool   `json:"isActive"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

// ResolveAPIKey authenticates a caller. Inactive accounts are rejected the
// same way unknown keys are, so a disabled key leaks nothing.
func (s Store) ResolveAPIKey(ctx context.Context, apiKey string) (Account, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Account{}, ErrUnauthorized
	}

	query := `
SELECT id, email, COALESCE(webhook_url, ''), is_active, created_at, updated_at
FROM accounts
WHERE api_key = ? AND is_active = 1
LIMIT 1;
`

	var out Account
	err := s.db.QueryRowContext(ctx, query, apiKey).Scan(
		&out.ID,
		&out.Email,
		&out.WebhookURL,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrUnauthorized
	}
	if err != nil {
		return Account{}, fmt.Errorf("resolve api key: %w", err)
	}
	return out, nil
}

func (s Store) Get(ctx context.Context, accountID string) (Account, error) {
	query := `
SELECT id, email, COALESCE(webhook_url, ''), is_active, created_at, updated_at
FROM accounts
WHERE id = ?
LIMIT 1;
`

	var out Account
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&out.ID,
		&out.Email,
		&out.WebhookURL,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return out, nil
}

// Create registers an account with a fresh API key. Account provisioning is
// an operator action, not part of the public API surface.
func (s Store) Create(ctx context.Context, email, apiKey, webhookURL string) (Account, error) {
	id := uuid.NewString()
	query := `
INSERT INTO accounts (id, email, api_key, webhook_url)
VALUES (?, ?, ?, ?)
RETURNING id, email, COALESCE(webhook_url, ''), is_active, created_at, updated_at;
`

	var out Account
	if err := s.db.QueryRowContext(ctx, query, id, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(apiKey), strings.TrimSpace(webhookURL)).Scan(
		&out.ID,
		&out.Email,
		&out.WebhookURL,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return out, nil
}
