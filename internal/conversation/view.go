package conversation

import (
	"html"
	"strings"
	"sync"
)

// View binds the transcript to a UI surface. Calls arrive on the goroutine
// driving the exchange; a View must not call back into the Controller.
type View interface {
	AppendMessage(m Message)
	UpdateMessage(m Message)
	FinalizeMessage(m Message)
	SetInputEnabled(enabled bool)
	SetOpen(open bool)
}

type nopView struct{}

func (nopView) AppendMessage(Message)   {}
func (nopView) UpdateMessage(Message)   {}
func (nopView) FinalizeMessage(Message) {}
func (nopView) SetInputEnabled(bool)    {}
func (nopView) SetOpen(bool)            {}

// HTMLView keeps an ordered set of message rows and renders them as the
// widget's chat body markup.
type HTMLView struct {
	mu      sync.Mutex
	order   []string
	rows    map[string]Message
	enabled bool
	open    bool
}

// NewHTMLView returns an empty, closed view with inputs enabled.
func NewHTMLView() *HTMLView {
	return &HTMLView{rows: make(map[string]Message), enabled: true}
}

func (v *HTMLView) AppendMessage(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.rows[m.ID]; !ok {
		v.order = append(v.order, m.ID)
	}
	v.rows[m.ID] = m
}

func (v *HTMLView) UpdateMessage(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.rows[m.ID]; ok {
		v.rows[m.ID] = m
	}
}

func (v *HTMLView) FinalizeMessage(m Message) {
	m.Final = true
	v.UpdateMessage(m)
}

func (v *HTMLView) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	v.enabled = enabled
	v.mu.Unlock()
}

func (v *HTMLView) SetOpen(open bool) {
	v.mu.Lock()
	v.open = open
	v.mu.Unlock()
}

// InputEnabled reports the current input state.
func (v *HTMLView) InputEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// Open reports whether the widget is shown.
func (v *HTMLView) Open() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

// Len returns the number of rows.
func (v *HTMLView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}

// HTML renders all rows in order.
func (v *HTMLView) HTML() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	for _, id := range v.order {
		m := v.rows[id]
		side := "bot"
		if m.Role == RoleUser {
			side = "user"
		}
		b.WriteString(`<div class="msgRow `)
		b.WriteString(side)
		b.WriteString(`" data-id="`)
		b.WriteString(html.EscapeString(m.ID))
		b.WriteString(`"><div class="msg `)
		b.WriteString(side)
		b.WriteString(`">`)
		b.WriteString(m.Markup)
		b.WriteString("</div></div>")
	}
	return b.String()
}
