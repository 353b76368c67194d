package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/folio-chat/internal/api"
	"github.com/ashureev/folio-chat/internal/frame"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsRequestTimeout = 30 * time.Second
)

// HandleWebSocket handles GET /api/chat/ws. The first client message is the
// request; the answer follows as one JSON record per text message, ending
// with a done or error record and a normal closure. A request that cannot
// start gets an error record and a policy violation closure, the
// counterpart of a 4xx on the HTTP endpoints.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck
	conn.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	readCtx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	_, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		slog.Warn("WebSocket request read failed", "error", err)
		return
	}

	var in ChatInput
	if err := json.Unmarshal(data, &in); err != nil {
		h.closeWithError(ctx, conn, websocket.StatusPolicyViolation, ErrMessageRequired.Error())
		return
	}
	ex, err := h.svc.Prepare(ctx, in)
	if err != nil {
		msg := "failed to start conversation"
		if errors.Is(err, ErrMessageRequired) || errors.Is(err, ErrMessageEmpty) {
			msg = err.Error()
		} else if errors.Is(err, ErrInvalidSession) {
			msg = "invalid session id"
		} else {
			slog.Error("Failed to prepare chat", "error", err)
		}
		h.closeWithError(ctx, conn, websocket.StatusPolicyViolation, msg)
		return
	}

	var answer strings.Builder
	for resp, err := range h.svc.Stream(ctx, ex) {
		if err != nil {
			slog.Error("WebSocket chat stream failed", "session_id", ex.SessionID, "error", err)
			h.closeWithError(ctx, conn, websocket.StatusNormalClosure, streamErrorMessage)
			return
		}
		if resp == nil || resp.Response == "" {
			continue
		}
		answer.WriteString(resp.Response)
		if err := writeWSRecord(ctx, conn, frame.Record{Chunk: resp.Response, SessionID: ex.SessionID}); err != nil {
			slog.Warn("WebSocket client went away", "session_id", ex.SessionID, "error", err)
			return
		}
	}

	h.svc.Save(ctx, ex, answer.String())
	if err := writeWSRecord(ctx, conn, frame.Record{Done: true, SessionID: ex.SessionID}); err != nil {
		slog.Warn("failed to write done record", "error", err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) closeWithError(ctx context.Context, conn *websocket.Conn, code websocket.StatusCode, msg string) {
	if err := writeWSRecord(ctx, conn, frame.Record{Error: msg}); err != nil {
		return
	}
	reason := ""
	if code != websocket.StatusNormalClosure {
		reason = msg
	}
	_ = conn.Close(code, reason)
}

// OriginHosts turns allowed origins such as "https://folio.example" into the
// host patterns websocket.Accept matches against.
func OriginHosts(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func writeWSRecord(ctx context.Context, conn *websocket.Conn, rec frame.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
