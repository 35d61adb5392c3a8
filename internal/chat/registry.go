package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("chat not found")

// Chat mirrors a conversation on the remote side. RemoteChatID and Title
// start out null and are filled in by the first worker response.
type Chat struct {
	ID           int64   `json:"id"`
	AccountID    string  `json:"-"`
	RemoteChatID *string `json:"chatId"`
	Title        *string `json:"title"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) Registry {
	return Registry{db: db}
}

const chatColumns = `id, account_id, remote_chat_id, title, created_at, updated_at`

// Resolve returns the chat a submission should attach to. Without a remote
// id a fresh chat is created; with one, the chat must already exist for this
// account.
func (r Registry) Resolve(ctx context.Context, accountID, remoteChatID string) (Chat, error) {
	remoteChatID = strings.TrimSpace(remoteChatID)
	if remoteChatID == "" {
		return r.create(ctx, accountID)
	}
	return r.GetByRemoteID(ctx, accountID, remoteChatID)
}

func (r Registry) create(ctx context.Context, accountID string) (Chat, error) {
	query := `
INSERT INTO chats (account_id)
VALUES (?)
RETURNING ` + chatColumns + `;`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (r Registry) Get(ctx context.Context, accountID string, chatID int64) (Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ? AND account_id = ? LIMIT 1;`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, chatID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func (r Registry) GetByRemoteID(ctx context.Context, accountID, remoteChatID string) (Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE remote_chat_id = ? AND account_id = ? LIMIT 1;`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, remoteChatID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat by remote id: %w", err)
	}
	return chat, nil
}

func (r Registry) List(ctx context.Context, accountID string) ([]Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE account_id = ? ORDER BY updated_at DESC, id DESC;`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]Chat, 0, 16)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// ApplyWorkerUpdate copies the remote id and title reported by the worker
// onto the chat. Only supplied fields are written, and repeating the same
// update is a no-op.
func (r Registry) ApplyWorkerUpdate(ctx context.Context, accountID string, chatID int64, remoteChatID, title string) error {
	remoteChatID = strings.TrimSpace(remoteChatID)
	title = strings.TrimSpace(title)
	if remoteChatID == "" && title == "" {
		return nil
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if remoteChatID != "" {
		sets = append(sets, "remote_chat_id = ?")
		args = append(args, remoteChatID)
	}
	if title != "" {
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, chatID, accountID)

	query := `UPDATE chats SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND account_id = ?;`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("apply worker update: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var (
		chat     Chat
		remoteID sql.NullString
		title    sql.NullString
	)
	if err := row.Scan(&chat.ID, &chat.AccountID, &remoteID, &title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return Chat{}, err
	}
	if remoteID.Valid {
		chat.RemoteChatID = &remoteID.String
	}
	if title.Valid {
		chat.Title = &title.String
	}
	return chat, nil
}
