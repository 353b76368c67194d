package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// pingTimeout bounds the database check of the status endpoint.
const pingTimeout = 2 * time.Second

// Pinger is satisfied by the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WidgetConfig is what the chat widget needs to know about the server.
type WidgetConfig struct {
	Backend      string `json:"backend"`
	SiteBaseURL  string `json:"site_base_url"`
	HistoryLimit int    `json:"history_limit"`
	SessionTTL   string `json:"session_ttl"`
}

// StatusHandler serves the server status and widget configuration.
type StatusHandler struct {
	db      Pinger
	widget  WidgetConfig
	started time.Time
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(db Pinger, widget WidgetConfig) *StatusHandler {
	return &StatusHandler{db: db, widget: widget, started: time.Now()}
}

// RegisterRoutes registers status routes.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/status", h.GetStatus)
	})
}

// GetConfig returns the server configuration for the widget.
func (h *StatusHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.widget)
}

// GetStatus reports whether the database is reachable.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	uptime := time.Since(h.started).Round(time.Second).String()
	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Status check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "unreachable",
			"uptime":   uptime,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
		"uptime":   uptime,
	})
}
