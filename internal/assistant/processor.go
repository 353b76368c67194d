// Package assistant implements the portfolio assistant server: it answers
// visitor questions with a language model and relays the answer to the chat
// widget as a record stream.
package assistant

import (
	"context"
	"iter"

	"github.com/ashureev/folio-chat/internal/domain"
)

// Processor produces the assistant's answer for one message.
type Processor interface {
	// Chat streams answer chunks in order. An error ends the sequence.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error]

	// Name identifies the backend in logs.
	Name() string
}

// ChatRequest is one visitor message plus the prior turns of its session.
type ChatRequest struct {
	Message   string
	History   []domain.StoredMessage
	SessionID string
}

// ChatResponse is one chunk of an answer.
type ChatResponse struct {
	Response string `json:"response"`
}

var (
	_ Processor = (*OpenAIProcessor)(nil)
	_ Processor = (*CannedProcessor)(nil)
)
