package conversation

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/folio-chat/internal/frame"
	"github.com/ashureev/folio-chat/internal/markup"
)

// Accumulator owns the conversation state and the live assistant message.
// State changes are made under the lock before the View is notified, so a
// panicking View cannot leave the state half updated.
type Accumulator struct {
	mu         sync.Mutex
	renderer   *markup.Renderer
	view       View
	log        *slog.Logger
	state      State
	transcript []Message
	live       int // index of the live assistant message, -1 between exchanges
}

// NewAccumulator returns an idle accumulator. A nil view or logger is
// replaced by a no-op view and slog.Default().
func NewAccumulator(r *markup.Renderer, view View, log *slog.Logger) *Accumulator {
	if r == nil {
		r = markup.New()
	}
	if view == nil {
		view = nopView{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Accumulator{renderer: r, view: view, log: log, live: -1}
}

// Begin claims the exchange slot for userText. It returns ErrBusy without
// touching any state while another exchange is in flight.
func (a *Accumulator) Begin(userText string) error {
	added, err := a.claim(userText)
	if err != nil {
		return err
	}
	a.announce(added)
	return nil
}

func (a *Accumulator) claim(userText string) ([]Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Phase != PhaseIdle {
		return nil, ErrBusy
	}
	a.state.Phase = PhaseSending
	a.state.Text = ""
	a.state.Diagnostics = nil

	user := a.push(Message{
		ID:     uuid.NewString(),
		Role:   RoleUser,
		Text:   userText,
		Markup: a.renderer.RenderUser(userText),
		Final:  true,
	})
	reply := a.push(Message{ID: uuid.NewString(), Role: RoleAssistant})
	a.live = len(a.transcript) - 1
	return []Message{user, reply}, nil
}

func (a *Accumulator) announce(msgs []Message) {
	for _, m := range msgs {
		a.view.AppendMessage(m)
	}
}

// Apply folds one record into the state. Fields are applied in the order
// chunk, session id, error. Records outside an exchange are ignored.
func (a *Accumulator) Apply(rec frame.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.live < 0 {
		return
	}
	if a.state.Phase == PhaseSending {
		a.state.Phase = PhaseStreaming
	}

	if rec.Chunk != "" {
		a.state.Text += rec.Chunk
		msg := &a.transcript[a.live]
		msg.Text = a.state.Text
		msg.Markup = a.renderer.Render(a.state.Text)
		a.view.UpdateMessage(*msg)
	}
	if rec.SessionID != "" && a.state.SessionID == "" {
		a.state.SessionID = rec.SessionID
	}
	if rec.Error != "" {
		a.state.Diagnostics = append(a.state.Diagnostics, rec.Error)
		a.log.Warn("assistant stream reported an error",
			"error", rec.Error,
			"malformed", rec.Malformed,
			"session_id", a.state.SessionID,
		)
	}
}

// Finish ends the exchange normally and frees the slot. An answer that never
// received text is replaced with the fallback message.
func (a *Accumulator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalize(true)
}

// Fail ends the exchange after a transport failure and frees the slot.
// Partial text stays visible and the apology follows it as a separate
// message; with no text the apology takes the place of the empty answer.
func (a *Accumulator) Fail(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail(cause, true)
}

// finish and failHeld end the exchange but keep the slot claimed until
// release, so no other exchange can start while the caller cleans up.
func (a *Accumulator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalize(false)
}

func (a *Accumulator) failHeld(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail(cause, false)
}

// release frees the exchange slot.
func (a *Accumulator) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = -1
	a.state.Phase = PhaseIdle
}

func (a *Accumulator) finalize(release bool) {
	if a.live < 0 {
		return
	}

	msg := &a.transcript[a.live]
	if a.state.Text == "" {
		msg.Text = FallbackMessage
		msg.Markup = a.renderer.Render(FallbackMessage)
		msg.Transient = true
	}
	msg.Final = true
	final := *msg
	a.end(release)

	a.view.FinalizeMessage(final)
}

func (a *Accumulator) fail(cause error, release bool) {
	if a.live < 0 {
		return
	}
	a.state.Phase = PhaseErrored

	a.log.Error("assistant exchange failed",
		"error", cause,
		"session_id", a.state.SessionID,
		"partial_length", len(a.state.Text),
	)

	msg := &a.transcript[a.live]
	if a.state.Text == "" {
		msg.Text = ErrorMessage
		msg.Markup = a.renderer.Render(ErrorMessage)
		msg.Transient = true
		msg.Final = true
		final := *msg
		a.end(release)
		a.view.FinalizeMessage(final)
		return
	}

	msg.Final = true
	final := *msg
	apology := a.push(Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      ErrorMessage,
		Markup:    a.renderer.Render(ErrorMessage),
		Final:     true,
		Transient: true,
	})
	a.end(release)

	a.view.FinalizeMessage(final)
	a.view.AppendMessage(apology)
}

// Welcome appends the greeting when the transcript is still empty and
// reports whether it did.
func (a *Accumulator) Welcome() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.transcript) > 0 {
		return false
	}
	msg := a.push(Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      WelcomeMessage,
		Markup:    a.renderer.Render(WelcomeMessage),
		Final:     true,
		Transient: true,
	})
	a.view.AppendMessage(msg)
	return true
}

// State returns a snapshot of the conversation state.
func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state
	s.Diagnostics = append([]string(nil), a.state.Diagnostics...)
	return s
}

// Transcript returns a copy of every message shown so far.
func (a *Accumulator) Transcript() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.transcript...)
}

// History returns the last depth non-transient turns, oldest first. The
// live assistant message is skipped.
func (a *Accumulator) History(depth int) []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	if depth <= 0 {
		return nil
	}
	turns := make([]Turn, 0, depth)
	for i := len(a.transcript) - 1; i >= 0 && len(turns) < depth; i-- {
		m := a.transcript[i]
		if m.Transient || i == a.live || strings.TrimSpace(m.Text) == "" {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Text})
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

func (a *Accumulator) push(m Message) Message {
	a.transcript = append(a.transcript, m)
	return m
}

// end detaches the live message; with release the slot is freed as well.
func (a *Accumulator) end(release bool) {
	a.live = -1
	if release {
		a.state.Phase = PhaseIdle
	}
}
