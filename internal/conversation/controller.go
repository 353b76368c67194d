package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ashureev/folio-chat/internal/markup"
)

// Mode selects the wire shape of an exchange.
type Mode string

const (
	ModeStreaming  Mode = "streaming"
	ModeSingleShot Mode = "single-shot"
	ModeWebSocket  Mode = "websocket"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStreaming, ModeSingleShot, ModeWebSocket:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// DefaultHistoryDepth is the number of prior turns sent with each request
// when Config.HistoryDepth is zero. The streaming server keeps history by
// session id, so streaming sends none.
func DefaultHistoryDepth(m Mode) int {
	if m == ModeSingleShot {
		return 12
	}
	return 0
}

// Config parametrizes a Controller.
type Config struct {
	Mode     Mode
	Endpoint string
	// HistoryDepth is the number of non-transient turns sent with each
	// request. Zero selects DefaultHistoryDepth, a negative value sends none.
	HistoryDepth int
	// BaseURL prefixes known-phrase links in rendered answers.
	BaseURL string

	HTTPClient *http.Client
	// Transport overrides the one selected by Mode.
	Transport Transport
	View      View
	Logger    *slog.Logger
}

// Controller is one chat widget instance. Send may be called from any
// goroutine; overlapping sends are refused with ErrBusy.
type Controller struct {
	acc       *Accumulator
	transport Transport
	view      View
	log       *slog.Logger
	depth     int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Controller from cfg.
func New(cfg Config) (*Controller, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStreaming
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.Endpoint == "" {
			return nil, errors.New("endpoint is required")
		}
		switch cfg.Mode {
		case ModeSingleShot:
			transport = &SingleShotTransport{Endpoint: cfg.Endpoint, Client: cfg.HTTPClient}
		case ModeWebSocket:
			transport = &WebSocketTransport{Endpoint: cfg.Endpoint, Client: cfg.HTTPClient}
		default:
			transport = &StreamTransport{Endpoint: cfg.Endpoint, Client: cfg.HTTPClient}
		}
	}

	depth := cfg.HistoryDepth
	if depth == 0 {
		depth = DefaultHistoryDepth(cfg.Mode)
	}

	view := cfg.View
	if view == nil {
		view = nopView{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		acc:       NewAccumulator(markup.New(markup.WithBaseURL(cfg.BaseURL)), view, log),
		transport: transport,
		view:      view,
		log:       log.With("mode", string(cfg.Mode)),
		depth:     depth,
	}, nil
}

// Send runs one exchange for text and blocks until it ends. It returns
// ErrBusy, without any effect, while another exchange is in flight. A
// transport failure is shown to the user as an apology and returned wrapped
// in ErrTransport. A cancelled exchange keeps what it received and returns
// the context error.
func (c *Controller) Send(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	added, err := c.acc.claim(text)
	if err != nil {
		return err
	}

	// The slot is freed last, after the inputs are back on.
	defer c.acc.release()

	ctx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("exchange aborted by panic", "panic", r)
			err = fmt.Errorf("%w: %v", ErrTransport, r)
			c.failQuietly(err)
		}
		c.setCancel(nil)
		cancel()
		c.view.SetInputEnabled(true)
	}()

	c.view.SetInputEnabled(false)
	c.acc.announce(added)

	for rec := range c.transport.Exchange(ctx, c.request(text)) {
		if rec.Fatal {
			err = failureError(rec)
			c.acc.failHeld(err)
			return err
		}
		c.acc.Apply(rec)
	}
	c.acc.finish()
	return ctx.Err()
}

// OpenWidget shows the widget, greeting the visitor on first open.
func (c *Controller) OpenWidget() {
	c.view.SetOpen(true)
	c.acc.Welcome()
}

// CloseWidget hides the widget and cancels any exchange in flight.
func (c *Controller) CloseWidget() {
	c.view.SetOpen(false)
	c.Cancel()
}

// Cancel aborts the exchange in flight, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns a snapshot of the conversation state.
func (c *Controller) State() State {
	return c.acc.State()
}

// Transcript returns a copy of the visible messages.
func (c *Controller) Transcript() []Message {
	return c.acc.Transcript()
}

func (c *Controller) request(text string) Request {
	req := Request{Message: text, Messages: c.acc.History(c.depth)}
	if id := c.acc.State().SessionID; id != "" {
		req.SessionID = &id
	}
	return req
}

func (c *Controller) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}

// failQuietly ends the exchange from the panic path; a second panic from the
// view is logged and dropped.
func (c *Controller) failQuietly(cause error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("view failed while reporting an error", "panic", r)
		}
	}()
	c.acc.failHeld(cause)
}
