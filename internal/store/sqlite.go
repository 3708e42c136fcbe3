package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		messages_json TEXT NOT NULL DEFAULT '[]',
		has_accepted_async INTEGER NOT NULL DEFAULT 0,
		acceptance_count INTEGER NOT NULL DEFAULT 0,
		decline_count INTEGER NOT NULL DEFAULT 0,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_async_work INTEGER NOT NULL DEFAULT 0,
		successful_async_work INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);

	CREATE TABLE IF NOT EXISTS work_items (
		work_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		request TEXT NOT NULL,
		status TEXT NOT NULL,
		estimated_duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		result_json TEXT,
		error TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_session ON work_items(session_id);
	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession upserts a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal session messages: %w", err)
	}

	query := `
	INSERT INTO sessions (
		session_id, created_at, last_activity_at, messages_json,
		has_accepted_async, acceptance_count, decline_count,
		total_messages, total_async_work, successful_async_work
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_activity_at = excluded.last_activity_at,
		messages_json = excluded.messages_json,
		has_accepted_async = excluded.has_accepted_async,
		acceptance_count = excluded.acceptance_count,
		decline_count = excluded.decline_count,
		total_messages = excluded.total_messages,
		total_async_work = excluded.total_async_work,
		successful_async_work = excluded.successful_async_work`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.CreatedAt.Unix(), session.LastActivityAt.Unix(),
		string(messagesJSON),
		session.Preferences.HasAcceptedAsyncBefore,
		session.Preferences.AcceptanceCount, session.Preferences.DeclineCount,
		session.Counters.TotalMessages, session.Counters.TotalAsyncWork,
		session.Counters.SuccessfulAsyncWork,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// LoadSession retrieves a session by id, without its work items.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, created_at, last_activity_at, messages_json,
		       has_accepted_async, acceptance_count, decline_count,
		       total_messages, total_async_work, successful_async_work
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var createdAt, lastActivity int64
	var messagesJSON string

	err := row.Scan(
		&session.ID, &createdAt, &lastActivity, &messagesJSON,
		&session.Preferences.HasAcceptedAsyncBefore,
		&session.Preferences.AcceptanceCount, &session.Preferences.DeclineCount,
		&session.Counters.TotalMessages, &session.Counters.TotalAsyncWork,
		&session.Counters.SuccessfulAsyncWork,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastActivityAt = time.Unix(lastActivity, 0)
	if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal session messages: %w", err)
	}

	return &session, nil
}

// SaveWorkItem upserts a work item record.
func (s *SQLiteStore) SaveWorkItem(ctx context.Context, item *domain.AsyncWorkItem) error {
	var resultJSON interface{}
	if item.Result != nil {
		data, err := json.Marshal(item.Result)
		if err != nil {
			return fmt.Errorf("marshal work result: %w", err)
		}
		resultJSON = string(data)
	}

	var startedAt, completedAt interface{}
	if item.StartedAt != nil {
		startedAt = item.StartedAt.Unix()
	}
	if item.CompletedAt != nil {
		completedAt = item.CompletedAt.Unix()
	}

	var errText interface{}
	if item.Error != "" {
		errText = item.Error
	}

	query := `
	INSERT INTO work_items (
		work_id, session_id, type, request, status,
		estimated_duration_ms, created_at, started_at, completed_at,
		result_json, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(work_id) DO UPDATE SET
		status = excluded.status,
		started_at = COALESCE(excluded.started_at, work_items.started_at),
		completed_at = COALESCE(excluded.completed_at, work_items.completed_at),
		result_json = COALESCE(excluded.result_json, work_items.result_json),
		error = COALESCE(excluded.error, work_items.error)`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.SessionID, string(item.Type), item.Request,
		string(item.Status), item.EstimatedDuration.Milliseconds(),
		item.CreatedAt.Unix(), startedAt, completedAt, resultJSON, errText,
	)
	if err != nil {
		return fmt.Errorf("upsert work item: %w", err)
	}
	return nil
}

const workItemColumns = `work_id, session_id, type, request, status,
	estimated_duration_ms, created_at, started_at, completed_at,
	result_json, error`

func scanWorkItem(row interface{ Scan(...any) error }) (*domain.AsyncWorkItem, error) {
	var item domain.AsyncWorkItem
	var durationMs, createdAt int64
	var startedAt, completedAt sql.NullInt64
	var resultJSON, errText sql.NullString

	err := row.Scan(
		&item.ID, &item.SessionID, (*string)(&item.Type), &item.Request,
		(*string)(&item.Status), &durationMs, &createdAt,
		&startedAt, &completedAt, &resultJSON, &errText,
	)
	if err != nil {
		return nil, err
	}

	item.EstimatedDuration = time.Duration(durationMs) * time.Millisecond
	item.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		ts := time.Unix(startedAt.Int64, 0)
		item.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		item.CompletedAt = &ts
	}
	if resultJSON.Valid {
		var result any
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("unmarshal work result: %w", err)
		}
		item.Result = result
	}
	item.Error = errText.String

	return &item, nil
}

// LoadWorkItems retrieves all work items owned by a session.
func (s *SQLiteStore) LoadWorkItems(ctx context.Context, sessionID string) ([]*domain.AsyncWorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE session_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close work item rows", "error", closeErr)
		}
	}()

	var items []*domain.AsyncWorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}

	return items, nil
}

// GetActiveWorkItems retrieves accepted and in-progress items across all
// sessions, for restart-time visibility.
func (s *SQLiteStore) GetActiveWorkItems(ctx context.Context) ([]*domain.AsyncWorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE status IN (?, ?) ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query,
		string(domain.StatusAccepted), string(domain.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("query active work items: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close active work item rows", "error", closeErr)
		}
	}()

	var items []*domain.AsyncWorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active work item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active work items: %w", err)
	}

	return items, nil
}

// DeleteSession removes a session and its work items.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, sessionID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("DeleteSession hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("delete session %s after %d attempts: %w", sessionID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session work items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupOldSessions deletes sessions whose last activity is older than
// maxAge, along with their work items.
func (s *SQLiteStore) CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	threshold := time.Now().Add(-maxAge).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM work_items WHERE session_id IN (SELECT session_id FROM sessions WHERE last_activity_at < ?)`,
		threshold); err != nil {
		return 0, fmt.Errorf("cleanup old work items: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup old sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
