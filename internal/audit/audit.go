// Package audit provides the append-only action log consumed by compliance
// review tooling.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// Action identifies what happened during a request.
type Action string

const (
	// ActionChatCompleted is logged for every answered chat turn.
	ActionChatCompleted Action = "assistant.chat_completed"
	// ActionIdentityBlocked is logged when the identity guard intercepts a turn.
	ActionIdentityBlocked Action = "security.identity_override_blocked"
	// ActionLanguageViolation is logged when output is replaced by the language guard.
	ActionLanguageViolation Action = "policy.language_violation"
	// ActionRateLimited is logged when a caller exceeds the rate limit.
	ActionRateLimited Action = "policy.rate_limited"
	// ActionProviderFallback is logged when a request was answered by a fallback provider.
	ActionProviderFallback Action = "assistant.provider_fallback"
	// ActionHistorySanitized is logged when prior turns were dropped for disallowed scripts.
	ActionHistorySanitized Action = "policy.history_sanitized"
)

// Entry is an immutable audit record. Entries are only ever appended.
type Entry struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	CallerID  string          `json:"caller_id"`
	Action    Action          `json:"action"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store writes audit entries to Postgres. Writes never block the response
// path: Record dispatches asynchronously and failures are logged locally.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// Append inserts one entry synchronously. Most callers want Record instead.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if s.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (
			id, request_id, caller_id, action, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.CallerID,
		entry.Action,
		entry.Metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to append entry: %w", err)
	}
	return nil
}

// Record writes an entry off the request path. A failed write must never
// fail the user-facing request, so errors are only logged.
func (s *Store) Record(requestID, callerID string, action Action, metadata any) {
	if s.db == nil {
		return
	}

	var raw json.RawMessage
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Error("audit: failed to marshal metadata", "action", string(action), "error", err)
		} else {
			raw = data
		}
	}

	entry := Entry{
		RequestID: requestID,
		CallerID:  callerID,
		Action:    action,
		Metadata:  raw,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Append(ctx, entry); err != nil {
			s.logger.Error("audit: write failed", "action", string(action), "error", err)
		}
	}()
}

// Filter selects entries for review queries.
type Filter struct {
	CallerID  string
	Action    Action
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Query retrieves entries matching the filter, most recent first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	if s.db == nil {
		return nil, nil
	}

	query := `
		SELECT id, request_id, caller_id, action, metadata, created_at
		FROM audit_entries
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.CallerID != "" {
		query += fmt.Sprintf(" AND caller_id = $%d", argIdx)
		args = append(args, filter.CallerID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.CallerID, &e.Action, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
