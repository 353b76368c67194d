// Package session tracks visitor conversations on the assistant server.
// A session expires after a period of inactivity; reads and writes count as
// activity.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/folio-chat/internal/domain"
	"github.com/ashureev/folio-chat/internal/store"
)

// DefaultTTL is the inactivity window after which a session is dropped.
const DefaultTTL = 60 * time.Minute

// ErrInvalidID is returned for a session id that is not a UUID.
var ErrInvalidID = errors.New("invalid session id")

// Manager creates, reads and expires chat sessions.
type Manager struct {
	repo store.Repository
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager over repo. A non-positive ttl selects DefaultTTL.
func NewManager(repo store.Repository, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{repo: repo, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the inactivity window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a new session and returns its id.
func (m *Manager) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := m.now()
	if err := m.repo.UpsertSession(ctx, &domain.Session{ID: id, CreatedAt: now, LastSeenAt: now}); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Ensure returns a live session id for the caller. An empty id starts a new
// session. An unknown or expired id is (re)started under the same id with an
// empty history, so a client that keeps its first id never loses its slot.
func (m *Manager) Ensure(ctx context.Context, id string) (string, error) {
	if id == "" {
		return m.Create(ctx)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidID, id, err)
	}

	s, err := m.live(ctx, id)
	if err != nil {
		return "", err
	}
	now := m.now()
	if s == nil {
		s = &domain.Session{ID: id, CreatedAt: now}
	}
	s.LastSeenAt = now
	if err := m.repo.UpsertSession(ctx, s); err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}
	return id, nil
}

// History returns up to limit most recent turns, oldest first. Unknown or
// expired sessions have no history.
func (m *Manager) History(ctx context.Context, id string, limit int) ([]domain.StoredMessage, error) {
	s, err := m.live(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	if err := m.repo.TouchSession(ctx, id, m.now()); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	msgs, err := m.repo.ListMessages(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// Append records turns for a session. It returns false when the session no
// longer exists.
func (m *Manager) Append(ctx context.Context, id string, msgs ...domain.StoredMessage) (bool, error) {
	now := m.now()
	for i := range msgs {
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
	err := m.repo.AppendMessages(ctx, id, msgs...)
	if errors.Is(err, store.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append messages: %w", err)
	}
	return true, nil
}

// Clear drops a session's history but keeps the session. It returns false
// when the session does not exist.
func (m *Manager) Clear(ctx context.Context, id string) (bool, error) {
	s, err := m.live(ctx, id)
	if err != nil || s == nil {
		return false, err
	}
	if err := m.repo.ClearMessages(ctx, id); err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	if err := m.repo.TouchSession(ctx, id, m.now()); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return true, nil
}

// Delete removes a session entirely. It returns false when it did not exist.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	err := m.repo.DeleteSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return true, nil
}

// Exists reports whether id names a live session.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	s, err := m.live(ctx, id)
	return s != nil, err
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount(ctx context.Context) (int, error) {
	return m.repo.CountActiveSessions(ctx, m.now().Add(-m.ttl))
}

// Sweep deletes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteIdleSessions(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

// StartSweeper runs a background goroutine that periodically removes
// expired sessions until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				n, err := m.Sweep(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("Session sweeper failed", "error", err)
					}
					continue
				}
				if n > 0 {
					slog.Info("Session sweeper removed expired sessions", "count", n)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// live loads a session, deleting it when it has expired. It returns nil for
// unknown and expired sessions.
func (m *Manager) live(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	if s.Expired(m.ttl, m.now()) {
		if err := m.repo.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		return nil, nil
	}
	return s, nil
}
