// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/folio-chat/internal/domain"
)

// ErrSessionNotFound is returned when a write targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Repository defines the interface for persisting chat sessions and their messages.
type Repository interface {
	// UpsertSession creates a session or refreshes its last_seen_at.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. It returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// TouchSession updates last_seen_at for a session.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// AppendMessages stores turns in order and touches the session.
	AppendMessages(ctx context.Context, sessionID string, msgs ...domain.StoredMessage) error

	// ListMessages returns the newest limit messages in chronological order.
	// A limit of zero or less returns all of them.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error)

	// ClearMessages removes every message of a session but keeps the session.
	ClearMessages(ctx context.Context, sessionID string) error

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteIdleSessions removes sessions last seen before cutoff.
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// CountActiveSessions counts sessions seen at or after since.
	CountActiveSessions(ctx context.Context, since time.Time) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
