package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("message request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	StatusIdle      = "idle"
	StatusExecuting = "executing"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

const (
	ResponseTypeThinking = "thinking"
	ResponseTypeAuto     = "auto"
	ResponseTypeInstant  = "instant"

	ThinkingTimeStandard = "standard"
	ThinkingTimeExtended = "extended"
)

func ValidResponseType(v string) bool {
	return v == ResponseTypeThinking || v == ResponseTypeAuto || v == ResponseTypeInstant
}

func ValidThinkingTime(v string) bool {
	return v == ThinkingTimeStandard || v == ThinkingTimeExtended
}

// MessageRequest moves through idle → executing → done|failed. Terminal
// rows are never written again.
type MessageRequest struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"-"`
	ChatID          *int64  `json:"-"`
	Message         string  `json:"message"`
	ResponseType    string  `json:"responseType"`
	ThinkingTime    string  `json:"thinkingTime"`
	Status          string  `json:"status"`
	Response        *string `json:"response"`
	ErrorMessage    *string `json:"errorMessage"`
	QueuedAt        string  `json:"queuedAt"`
	StartedAt       *string `json:"startedAt"`
	CompletedAt     *string `json:"completedAt"`
	LastRetrievedAt *string `json:"lastRetrievedAt"`
	WebhookSent     bool    `json:"-"`
	WebhookSentAt   *string `json:"-"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

const requestColumns = `id, account_id, chat_id, message, response_type, thinking_time, status,
response, error_message, queued_at, started_at, completed_at, last_retrieved_at,
webhook_sent, webhook_sent_at`

func (s Store) Create(ctx context.Context, accountID string, chatID int64, message, responseType, thinkingTime string) (MessageRequest, error) {
	if responseType == "" {
		responseType = ResponseTypeAuto
	}
	if thinkingTime == "" {
		thinkingTime = ThinkingTimeStandard
	}

	query := `
INSERT INTO message_requests (id, account_id, chat_id, message, response_type, thinking_time, status, queued_at)
VALUES (?, ?, ?, ?, ?, ?, 'idle', ?)
RETURNING ` + requestColumns + `;`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, uuid.NewString(), accountID, chatID, message, responseType, thinkingTime, now()))
	if err != nil {
		return MessageRequest{}, fmt.Errorf("create message request: %w", err)
	}
	return req, nil
}

func (s Store) Get(ctx context.Context, accountID, requestID string) (MessageRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM message_requests WHERE id = ? AND account_id = ? LIMIT 1;`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, requestID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRequest{}, ErrNotFound
	}
	if err != nil {
		return MessageRequest{}, fmt.Errorf("get message request: %w", err)
	}
	return req, nil
}

func (s Store) List(ctx context.Context, accountID, statusFilter string) ([]MessageRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM message_requests WHERE account_id = ?`
	args := []any{accountID}
	if statusFilter = strings.TrimSpace(statusFilter); statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY queued_at DESC, rowid DESC;`

	return s.queryRequests(ctx, query, args...)
}

// ListIdle returns the backlog for a (re)connecting worker, creation order
// preserved.
func (s Store) ListIdle(ctx context.Context, accountID string) ([]MessageRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM message_requests
WHERE account_id = ? AND status = 'idle'
ORDER BY queued_at ASC, rowid ASC;`

	return s.queryRequests(ctx, query, accountID)
}

func (s Store) CountExecuting(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_requests WHERE account_id = ? AND status = 'executing';`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count executing: %w", err)
	}
	return count, nil
}

// MarkExecuting advances idle → executing. The WHERE clause on the current
// status is the compare-and-swap: of two racing callers exactly one sees a
// row update, the other gets ErrInvalidTransition.
func (s Store) MarkExecuting(ctx context.Context, accountID, requestID string) (MessageRequest, error) {
	query := `
UPDATE message_requests
SET status = 'executing', started_at = ?
WHERE id = ? AND account_id = ? AND status = 'idle'
RETURNING ` + requestColumns + `;`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, now(), requestID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRequest{}, s.classifyLoss(ctx, accountID, requestID)
	}
	if err != nil {
		return MessageRequest{}, fmt.Errorf("mark executing: %w", err)
	}
	return req, nil
}

// MarkDone advances executing → done and freezes the row.
func (s Store) MarkDone(ctx context.Context, accountID, requestID, responseText string) (MessageRequest, error) {
	query := `
UPDATE message_requests
SET status = 'done', response = ?, completed_at = ?
WHERE id = ? AND account_id = ? AND status = 'executing'
RETURNING ` + requestColumns + `;`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, responseText, now(), requestID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRequest{}, s.classifyLoss(ctx, accountID, requestID)
	}
	if err != nil {
		return MessageRequest{}, fmt.Errorf("mark done: %w", err)
	}
	return req, nil
}

// MarkFailed advances executing → failed and freezes the row.
func (s Store) MarkFailed(ctx context.Context, accountID, requestID, errorText string) (MessageRequest, error) {
	query := `
UPDATE message_requests
SET status = 'failed', error_message = ?, completed_at = ?
WHERE id = ? AND account_id = ? AND status = 'executing'
RETURNING ` + requestColumns + `;`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, errorText, now(), requestID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRequest{}, s.classifyLoss(ctx, accountID, requestID)
	}
	if err != nil {
		return MessageRequest{}, fmt.Errorf("mark failed: %w", err)
	}
	return req, nil
}

// MarkRetrieved records an API read. Not a lifecycle transition; terminal
// rows keep accepting it.
func (s Store) MarkRetrieved(ctx context.Context, accountID, requestID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE message_requests SET last_retrieved_at = ? WHERE id = ? AND account_id = ?;`, now(), requestID, accountID)
	if err != nil {
		return fmt.Errorf("mark retrieved: %w", err)
	}
	return nil
}

// MarkWebhookSent records a successful webhook delivery for reconciliation.
func (s Store) MarkWebhookSent(ctx context.Context, accountID, requestID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE message_requests SET webhook_sent = 1, webhook_sent_at = ? WHERE id = ? AND account_id = ?;`, now(), requestID, accountID)
	if err != nil {
		return fmt.Errorf("mark webhook sent: %w", err)
	}
	return nil
}

// classifyLoss distinguishes a missing (or foreign) request from a request
// that exists but is not in the required source state.
func (s Store) classifyLoss(ctx context.Context, accountID, requestID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM message_requests WHERE id = ? AND account_id = ? LIMIT 1;`, requestID, accountID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect request status: %w", err)
	}
	return fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, requestID, status)
}

func (s Store) queryRequests(ctx context.Context, query string, args ...any) ([]MessageRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message requests: %w", err)
	}
	defer rows.Close()

	requests := make([]MessageRequest, 0, 16)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (MessageRequest, error) {
	var (
		req           MessageRequest
		chatID        sql.NullInt64
		response      sql.NullString
		errorMessage  sql.NullString
		startedAt     sql.NullString
		completedAt   sql.NullString
		retrievedAt   sql.NullString
		webhookSentAt sql.NullString
	)
	if err := row.Scan(
		&req.ID,
		&req.AccountID,
		&chatID,
		&req.Message,
		&req.ResponseType,
		&req.ThinkingTime,
		&req.Status,
		&response,
		&errorMessage,
		&req.QueuedAt,
		&startedAt,
		&completedAt,
		&retrievedAt,
		&req.WebhookSent,
		&webhookSentAt,
	); err != nil {
		return MessageRequest{}, err
	}
	if chatID.Valid {
		req.ChatID = &chatID.Int64
	}
	if response.Valid {
		req.Response = &response.String
	}
	if errorMessage.Valid {
		req.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		req.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.String
	}
	if retrievedAt.Valid {
		req.LastRetrievedAt = &retrievedAt.String
	}
	if webhookSentAt.Valid {
		req.WebhookSentAt = &webhookSentAt.String
	}
	return req, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
