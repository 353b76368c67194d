package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/folio-chat/internal/domain"
	"github.com/ashureev/folio-chat/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; the busy timeout absorbs short write contention.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_seen ON chat_sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertSession creates a session or refreshes its last_seen_at.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO chat_sessions (session_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	return withRetry(ctx, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.CreatedAt.UnixMilli(), session.LastSeenAt.UnixMilli())
		return err
	})
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT session_id, created_at, last_seen_at FROM chat_sessions WHERE session_id = ?`

	var session domain.Session
	var createdAt, lastSeen int64
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&session.ID, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.UnixMilli(createdAt)
	session.LastSeenAt = time.UnixMilli(lastSeen)
	return &session, nil
}

// TouchSession updates last_seen_at for a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET last_seen_at = ? WHERE session_id = ?`, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(result, sessionID)
}

// AppendMessages stores turns in order and touches the session in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs ...domain.StoredMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return withRetry(ctx, "append messages", func() error {
		return s.appendOnce(ctx, sessionID, msgs)
	})
}

func (s *SQLiteStore) appendOnce(ctx context.Context, sessionID string, msgs []domain.StoredMessage) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	last := time.Now()
	for _, m := range msgs {
		at := m.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		last = at
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, m.Role, m.Content, at.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET last_seen_at = ? WHERE session_id = ?`, last.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err = requireRow(result, sessionID); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// ListMessages returns the newest limit messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM chat_messages
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		var createdAt int64
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ClearMessages removes every message of a session but keeps the session.
func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) error {
	return withRetry(ctx, "clear messages", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
		return err
	})
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return withRetry(ctx, "delete session", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		return requireRow(result, sessionID)
	})
}

// DeleteIdleSessions removes sessions last seen before cutoff along with their messages.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "delete idle sessions", func() error {
		threshold := cutoff.UnixMilli()
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM chat_messages WHERE session_id IN (
				SELECT session_id FROM chat_sessions WHERE last_seen_at < ?
			)`, threshold); err != nil {
			return err
		}
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// CountActiveSessions counts sessions seen at or after since.
func (s *SQLiteStore) CountActiveSessions(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE last_seen_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func requireRow(result sql.Result, sessionID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// withRetry runs fn, retrying SQLite lock conflicts with exponential backoff
// (100ms, 200ms).
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			break
		}
		if i == maxRetries-1 {
			return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
