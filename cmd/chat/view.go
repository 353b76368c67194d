package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ashureev/folio-chat/internal/conversation"
	"github.com/ashureev/folio-chat/internal/markup"
)

// terminalView prints finished assistant messages as plain text.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, enabled: true}
}

func (v *terminalView) AppendMessage(m conversation.Message) {
	if m.Role == conversation.RoleAssistant && m.Final {
		v.print(m)
	}
}

func (v *terminalView) UpdateMessage(conversation.Message) {}

func (v *terminalView) FinalizeMessage(m conversation.Message) {
	if m.Role == conversation.RoleAssistant {
		v.print(m)
	}
}

func (v *terminalView) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	v.enabled = enabled
	v.mu.Unlock()
}

func (v *terminalView) SetOpen(bool) {}

// Prompt writes the input marker.
func (v *terminalView) Prompt() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.enabled {
		fmt.Fprint(v.out, "> ")
	}
}

func (v *terminalView) print(m conversation.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, markup.PlainText(m.Markup))
}
