package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/folio-chat/internal/domain"
	"github.com/ashureev/folio-chat/internal/session"
)

var (
	// ErrMessageRequired is returned when a request carries no message at all.
	ErrMessageRequired = errors.New("Message is required") //nolint:revive,staticcheck // shown to clients verbatim
	// ErrMessageEmpty is returned when the message is blank.
	ErrMessageEmpty = errors.New("Message cannot be empty") //nolint:revive,staticcheck // shown to clients verbatim
	// ErrInvalidSession is returned for a malformed session id.
	ErrInvalidSession = session.ErrInvalidID
)

// ChatInput is the request body shared by every chat transport. Message is
// the visitor's question; when it is absent the last user turn of Messages
// is used instead. Messages seeds the history of a session that has none.
type ChatInput struct {
	Message   *string                `json:"message"`
	SessionID *string                `json:"session_id"`
	Messages  []domain.StoredMessage `json:"messages,omitempty"`
}

// Exchange is a validated request bound to a live session.
type Exchange struct {
	SessionID string
	Message   string
	History   []domain.StoredMessage
}

// Service provides AI chat functionality on top of a Processor and the
// session store.
type Service struct {
	processor    Processor
	sessions     *session.Manager
	historyLimit int
}

// NewService creates a new assistant service.
func NewService(processor Processor, sessions *session.Manager, historyLimit int) *Service {
	return &Service{
		processor:    processor,
		sessions:     sessions,
		historyLimit: historyLimit,
	}
}

// Normalize extracts the visitor's message from in.
func (in ChatInput) Normalize() (string, error) {
	if in.Message != nil {
		msg := strings.TrimSpace(*in.Message)
		if msg == "" {
			return "", ErrMessageEmpty
		}
		return msg, nil
	}
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role != domain.RoleUser {
			continue
		}
		msg := strings.TrimSpace(in.Messages[i].Content)
		if msg == "" {
			return "", ErrMessageEmpty
		}
		return msg, nil
	}
	return "", ErrMessageRequired
}

// Prepare validates in, resolves its session and loads the history.
func (s *Service) Prepare(ctx context.Context, in ChatInput) (Exchange, error) {
	msg, err := in.Normalize()
	if err != nil {
		return Exchange{}, err
	}

	var requested string
	if in.SessionID != nil {
		requested = strings.TrimSpace(*in.SessionID)
	}
	sessionID, err := s.sessions.Ensure(ctx, requested)
	if err != nil {
		return Exchange{}, fmt.Errorf("resolve session: %w", err)
	}

	history, err := s.sessions.History(ctx, sessionID, s.historyLimit)
	if err != nil {
		return Exchange{}, fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		history = clientHistory(in.Messages, msg, s.historyLimit)
	}

	return Exchange{SessionID: sessionID, Message: msg, History: history}, nil
}

// Stream produces the answer chunks for ex. Short greetings are answered
// without the processor.
func (s *Service) Stream(ctx context.Context, ex Exchange) iter.Seq2[*ChatResponse, error] {
	if IsGreeting(ex.Message) {
		return func(yield func(*ChatResponse, error) bool) {
			yield(&ChatResponse{Response: GreetingReply}, nil)
		}
	}
	return s.processor.Chat(ctx, ChatRequest{
		Message:   ex.Message,
		History:   ex.History,
		SessionID: ex.SessionID,
	})
}

// Reply collects the whole answer for ex.
func (s *Service) Reply(ctx context.Context, ex Exchange) (string, error) {
	var b strings.Builder
	for resp, err := range s.Stream(ctx, ex) {
		if err != nil {
			return b.String(), err
		}
		if resp != nil {
			b.WriteString(resp.Response)
		}
	}
	return b.String(), nil
}

// Save records a completed exchange in its session.
func (s *Service) Save(ctx context.Context, ex Exchange, answer string) {
	ok, err := s.sessions.Append(ctx, ex.SessionID,
		domain.StoredMessage{Role: domain.RoleUser, Content: ex.Message},
		domain.StoredMessage{Role: domain.RoleAssistant, Content: answer},
	)
	if err != nil {
		slog.Error("Failed to save exchange", "session_id", ex.SessionID, "error", err)
		return
	}
	if !ok {
		slog.Warn("Session expired before exchange was saved", "session_id", ex.SessionID)
	}
}

// History returns the stored turns of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.StoredMessage, error) {
	return s.sessions.History(ctx, sessionID, 0)
}

// Clear drops a session's history.
func (s *Service) Clear(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.Clear(ctx, sessionID)
}

// Stats contains assistant statistics.
type Stats struct {
	Backend        string `json:"backend"`
	ActiveSessions int    `json:"active_sessions"`
}

// GetStats returns assistant statistics.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	n, err := s.sessions.ActiveCount(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count sessions: %w", err)
	}
	return Stats{Backend: s.processor.Name(), ActiveSessions: n}, nil
}

// clientHistory turns client-supplied turns into history, dropping the
// trailing copy of the current message.
func clientHistory(turns []domain.StoredMessage, current string, limit int) []domain.StoredMessage {
	if len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Role == domain.RoleUser && strings.TrimSpace(last.Content) == current {
			turns = turns[:len(turns)-1]
		}
	}
	var out []domain.StoredMessage
	for _, t := range turns {
		if (t.Role == domain.RoleUser || t.Role == domain.RoleAssistant) && strings.TrimSpace(t.Content) != "" {
			out = append(out, domain.StoredMessage{Role: t.Role, Content: t.Content})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
