package assistant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/folio-chat/internal/api"
	"github.com/ashureev/folio-chat/internal/frame"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// streamErrorMessage is what a client sees when the model fails mid-answer.
const streamErrorMessage = "Error generating response"

// HandlerConfig bounds the chat endpoints.
type HandlerConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	// AllowedOrigins are the origins allowed to open the WebSocket endpoint.
	// Empty means any origin.
	AllowedOrigins []string
}

// Handler serves the chat API.
type Handler struct {
	svc            *Service
	rateLimiter    *RateLimiter
	maxBodySize    int64
	originPatterns []string
}

// NewHandler creates a chat handler over svc.
func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	maxBodySize := cfg.MaxRequestBodySize
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	requests := cfg.RateLimitRequests
	if requests <= 0 {
		requests = 20
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Handler{
		svc:            svc,
		rateLimiter:    NewRateLimiter(requests, window),
		maxBodySize:    maxBodySize,
		originPatterns: OriginHosts(cfg.AllowedOrigins),
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/reply", h.HandleReply)
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/history/{sessionID}", h.HandleHistory)
		r.Post("/clear/{sessionID}", h.HandleClear)
		r.Get("/stats", h.HandleStats)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// HandleChat handles POST /api/chat and streams the answer as data records.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.prepare(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reqID := chiMiddleware.GetReqID(r.Context())
	var answer strings.Builder
	chunks := 0

	for resp, err := range h.svc.Stream(r.Context(), ex) {
		if err != nil {
			slog.Error("Chat stream failed",
				"session_id", ex.SessionID,
				"request_id", reqID,
				"chunks", chunks,
				"error", err,
			)
			if writeErr := writeRecord(w, frame.Record{Error: streamErrorMessage}); writeErr != nil {
				slog.Warn("failed to write error record", "error", writeErr)
				return
			}
			flusher.Flush()
			return
		}
		if resp == nil || resp.Response == "" {
			continue
		}
		chunks++
		answer.WriteString(resp.Response)
		if err := writeRecord(w, frame.Record{Chunk: resp.Response, SessionID: ex.SessionID}); err != nil {
			slog.Warn("Chat client went away", "session_id", ex.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}

	h.svc.Save(r.Context(), ex, answer.String())
	if err := writeRecord(w, frame.Record{Done: true, SessionID: ex.SessionID}); err != nil {
		slog.Warn("failed to write done record", "error", err)
		return
	}
	flusher.Flush()

	slog.Info("Chat answered",
		"session_id", ex.SessionID,
		"request_id", reqID,
		"chunks", chunks,
		"answer_length", answer.Len(),
	)
}

type replyResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// HandleReply handles POST /api/chat/reply and returns the whole answer at once.
func (h *Handler) HandleReply(w http.ResponseWriter, r *http.Request) {
	ex, ok := h.prepare(w, r)
	if !ok {
		return
	}

	reply, err := h.svc.Reply(r.Context(), ex)
	if err != nil {
		slog.Error("Chat reply failed", "session_id", ex.SessionID, "error", err)
		api.Error(w, http.StatusBadGateway, streamErrorMessage)
		return
	}
	h.svc.Save(r.Context(), ex, reply)
	api.JSON(w, http.StatusOK, replyResponse{Reply: reply, SessionID: ex.SessionID})
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	History   []historyEntry `json:"history"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HandleHistory handles GET /api/chat/history/{sessionID}.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	entries := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, historyEntry{Role: m.Role, Content: m.Content})
	}
	api.JSON(w, http.StatusOK, historyResponse{SessionID: sessionID, History: entries})
}

// HandleClear handles POST /api/chat/clear/{sessionID}.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.svc.Clear(r.Context(), sessionID); err != nil {
		slog.Error("Failed to clear history", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "History cleared"})
}

// HandleStats handles GET /api/chat/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		slog.Error("Failed to collect stats", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	api.JSON(w, http.StatusOK, stats)
}

// prepare applies rate limiting and the body cap, decodes the request and
// binds it to a session. It writes the error response itself and reports
// whether the caller should continue.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (Exchange, bool) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return Exchange{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var in ChatInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return Exchange{}, false
		}
		api.Error(w, http.StatusBadRequest, ErrMessageRequired.Error())
		return Exchange{}, false
	}

	ex, err := h.svc.Prepare(r.Context(), in)
	if err != nil {
		h.writePrepareError(w, err)
		return Exchange{}, false
	}
	return ex, true
}

func (h *Handler) writePrepareError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMessageRequired), errors.Is(err, ErrMessageEmpty):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidSession):
		api.Error(w, http.StatusBadRequest, "invalid session id")
	default:
		slog.Error("Failed to prepare chat", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to start conversation")
	}
}

func writeRecord(w http.ResponseWriter, rec frame.Record) error {
	data, err := frame.Encode(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// clientKey identifies the caller for rate limiting. RealIP middleware has
// already rewritten RemoteAddr when a proxy header is present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
