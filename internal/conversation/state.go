// Package conversation runs one chat widget: it gates exchanges so that at
// most one is in flight, folds the assistant's records into a growing answer
// and keeps the visible transcript in sync through a View.
package conversation

import "errors"

// Phase is the exchange lifecycle of a widget.
type Phase int

const (
	// PhaseIdle accepts a new exchange.
	PhaseIdle Phase = iota
	// PhaseSending has sent the request and waits for the first record.
	PhaseSending
	// PhaseStreaming has received at least one record.
	PhaseStreaming
	// PhaseErrored is entered on a transport failure, just before Idle.
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Fixed user-visible texts.
const (
	WelcomeMessage  = "👋 Hi! I'm Mahi AI, Vetrivel's AI assistant. Curious about Vetrivel? I can help you learn more about him."
	FallbackMessage = "No reply returned."
	ErrorMessage    = "Sorry, I encountered an error. Please try again."
)

var (
	// ErrBusy is returned when a send is attempted while an exchange is in flight.
	ErrBusy = errors.New("exchange already in flight")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTransport wraps the failure that aborted an exchange.
	ErrTransport = errors.New("transport failure")
)

// Message is one row of the visible transcript.
type Message struct {
	ID   string
	Role Role
	// Text is the raw content as typed or received.
	Text string
	// Markup is the sanitized rendering of Text.
	Markup string
	// Final is set once the message will not change again.
	Final bool
	// Transient messages (welcome, fallback, apologies) are never sent back
	// to the server as history.
	Transient bool
}

// State is a snapshot of the conversation.
type State struct {
	SessionID   string
	Text        string
	Phase       Phase
	Diagnostics []string
}
