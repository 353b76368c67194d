package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/folio-chat/internal/conversation"
	"github.com/ashureev/folio-chat/internal/frame"
)

func newTestServer(t *testing.T, proc Processor, cfg HandlerConfig) *httptest.Server {
	t.Helper()
	svc, _ := newTestService(t, proc)

	h := NewHandler(svc, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readRecords(t *testing.T, resp *http.Response) []frame.Record {
	t.Helper()
	var recs []frame.Record
	for rec := range frame.Records(context.Background(), resp.Body) {
		recs = append(recs, rec)
	}
	return recs
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandleChatStreamsRecords(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{chunks: []string{"Vetrivel ", "", "builds ", "things."}}
	srv := newTestServer(t, proc, HandlerConfig{})

	resp := postJSON(t, srv.URL+"/api/chat", `{"message":"What does he build?","session_id":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	recs := readRecords(t, resp)
	require.Len(t, recs, 4)

	sessionID := recs[0].SessionID
	_, err := uuid.Parse(sessionID)
	require.NoError(t, err)

	var answer strings.Builder
	for _, rec := range recs[:3] {
		require.Equal(t, sessionID, rec.SessionID)
		answer.WriteString(rec.Chunk)
	}
	require.Equal(t, "Vetrivel builds things.", answer.String())
	require.Equal(t, frame.Record{Done: true, SessionID: sessionID}, recs[3])

	// The exchange is stored once the stream completes.
	hist, err := http.Get(srv.URL + "/api/chat/history/" + sessionID)
	require.NoError(t, err)
	defer hist.Body.Close()
	var got historyResponse
	decodeJSON(t, hist, &got)
	require.Equal(t, sessionID, got.SessionID)
	require.Equal(t, []historyEntry{
		{Role: "user", Content: "What does he build?"},
		{Role: "assistant", Content: "Vetrivel builds things."},
	}, got.History)
}

func TestHandleChatReportsProcessorFailure(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{chunks: []string{"partial "}, err: errors.New("model unavailable")}
	srv := newTestServer(t, proc, HandlerConfig{})

	resp := postJSON(t, srv.URL+"/api/chat", `{"message":"Tell me everything"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	recs := readRecords(t, resp)
	require.Len(t, recs, 2)
	require.Equal(t, "partial ", recs[0].Chunk)
	require.Equal(t, frame.Record{Error: streamErrorMessage}, recs[1])

	hist, err := http.Get(srv.URL + "/api/chat/history/" + recs[0].SessionID)
	require.NoError(t, err)
	defer hist.Body.Close()
	var got historyResponse
	decodeJSON(t, hist, &got)
	require.Empty(t, got.History)
}

func TestHandleChatValidatesRequest(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{}, HandlerConfig{MaxRequestBodySize: 256})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "missing message", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "Message is required"},
		{name: "not json", body: `message=hi`, wantStatus: http.StatusBadRequest, wantError: "Message is required"},
		{name: "blank message", body: `{"message":"   "}`, wantStatus: http.StatusBadRequest, wantError: "Message cannot be empty"},
		{name: "bad session", body: `{"message":"hello there","session_id":"abc"}`, wantStatus: http.StatusBadRequest, wantError: "invalid session id"},
		{
			name:       "too large",
			body:       `{"message":"` + strings.Repeat("x", 1024) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := postJSON(t, srv.URL+"/api/chat", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			var body map[string]string
			decodeJSON(t, resp, &body)
			require.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestHandleReply(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{chunks: []string{"All ", "done."}}, HandlerConfig{})

	resp := postJSON(t, srv.URL+"/api/chat/reply", `{"message":"Is it finished?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got replyResponse
	decodeJSON(t, resp, &got)
	require.Equal(t, "All done.", got.Reply)
	require.NotEmpty(t, got.SessionID)

	failing := newTestServer(t, &scriptedProcessor{err: errors.New("boom")}, HandlerConfig{})
	resp = postJSON(t, failing.URL+"/api/chat/reply", `{"message":"Is it finished?"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	require.Equal(t, streamErrorMessage, body["error"])
}

func TestHandleClear(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{chunks: []string{"answer"}}, HandlerConfig{})

	resp := postJSON(t, srv.URL+"/api/chat/reply", `{"message":"first question"}`)
	var reply replyResponse
	decodeJSON(t, resp, &reply)

	resp = postJSON(t, srv.URL+"/api/chat/clear/"+reply.SessionID, ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared map[string]any
	decodeJSON(t, resp, &cleared)
	require.Equal(t, true, cleared["success"])
	require.Equal(t, "History cleared", cleared["message"])

	hist, err := http.Get(srv.URL + "/api/chat/history/" + reply.SessionID)
	require.NoError(t, err)
	defer hist.Body.Close()
	var got historyResponse
	decodeJSON(t, hist, &got)
	require.Empty(t, got.History)

	stats, err := http.Get(srv.URL + "/api/chat/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	var s Stats
	decodeJSON(t, stats, &s)
	require.Equal(t, Stats{Backend: "scripted", ActiveSessions: 1}, s)
}

func TestHandleChatRateLimits(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{chunks: []string{"ok"}}, HandlerConfig{
		RateLimitRequests: 2,
		RateLimitWindow:   time.Hour,
	})

	for range 2 {
		resp := postJSON(t, srv.URL+"/api/chat/reply", `{"message":"question please"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := postJSON(t, srv.URL+"/api/chat/reply", `{"message":"question please"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHandleWebSocket(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{chunks: []string{"over ", "the wire"}}, HandlerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow() //nolint:errcheck

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"how does it arrive?"}`)))

	var recs []frame.Record
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		recs = append(recs, frame.ParsePayload(data))
	}
	require.Len(t, recs, 3)
	require.Equal(t, "over ", recs[0].Chunk)
	require.Equal(t, "the wire", recs[1].Chunk)
	require.True(t, recs[2].Done)
	require.Equal(t, recs[0].SessionID, recs[2].SessionID)
}

func TestHandleWebSocketRejectsBlankMessage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{}, HandlerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow() //nolint:errcheck

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":""}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, frame.Record{Error: ErrMessageEmpty.Error()}, frame.ParsePayload(data))

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestWebSocketTransportTreatsRejectedRequestAsFatal(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &scriptedProcessor{chunks: []string{"never sent"}}, HandlerConfig{})
	tr := &conversation.WebSocketTransport{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bad := "not-a-uuid"
	var recs []frame.Record
	for rec := range tr.Exchange(ctx, conversation.Request{Message: "What has he built?", SessionID: &bad}) {
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)
	require.Equal(t, "invalid session id", recs[0].Error)
	require.False(t, recs[0].Fatal)
	require.True(t, recs[1].Fatal)
}

func TestOriginHosts(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"*"}, OriginHosts(nil))
	require.Equal(t,
		[]string{"folio.example", "localhost:5173"},
		OriginHosts([]string{"https://folio.example", "http://localhost:5173"}),
	)
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	t.Cleanup(rl.Close)

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	require.Equal(t, 2, rl.Len())

	now = now.Add(2 * time.Minute)
	rl.evict()
	require.Zero(t, rl.Len())
	require.True(t, rl.Allow("a"))
}

// The widget controller talks to the real handler over every transport.
func TestControllerAgainstHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode conversation.Mode
		path string
	}{
		{mode: conversation.ModeStreaming, path: "/api/chat"},
		{mode: conversation.ModeSingleShot, path: "/api/chat/reply"},
		{mode: conversation.ModeWebSocket, path: "/api/chat/ws"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			proc := &CannedProcessor{Reply: "See the **Projects Page** for details."}
			srv := newTestServer(t, proc, HandlerConfig{})

			endpoint := srv.URL + tt.path
			if tt.mode == conversation.ModeWebSocket {
				endpoint = "ws" + strings.TrimPrefix(endpoint, "http")
			}
			view := conversation.NewHTMLView()
			ctrl, err := conversation.New(conversation.Config{
				Mode:     tt.mode,
				Endpoint: endpoint,
				BaseURL:  "https://folio.example",
				View:     view,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			require.NoError(t, ctrl.Send(ctx, "What has he built?"))
			first := ctrl.State()
			require.NotEmpty(t, first.SessionID)
			require.Equal(t, conversation.PhaseIdle, first.Phase)

			require.NoError(t, ctrl.Send(ctx, "Anything else?"))
			require.Equal(t, first.SessionID, ctrl.State().SessionID)

			transcript := ctrl.Transcript()
			require.Len(t, transcript, 4)
			last := transcript[3]
			require.Equal(t, conversation.RoleAssistant, last.Role)
			require.True(t, last.Final)
			require.Equal(t, "See the **Projects Page** for details.", last.Text)
			require.Contains(t, last.Markup, `href="https://folio.example/projects.html"`)
			require.True(t, view.InputEnabled())
			require.True(t, bytes.Contains([]byte(view.HTML()), []byte(`class="msgRow bot"`)))
		})
	}
}
