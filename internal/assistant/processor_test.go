package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/folio-chat/internal/domain"
)

func TestIsGreeting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"hi", true},
		{"Hello!", true},
		{"  hey mahi ", true},
		{"Good morning", true},
		{"goodevening", true},
		{"yo", true},
		{"hiking projects?", false},
		{"hello, what projects has Vetrivel built?", false},
		{"what is your name", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsGreeting(tt.in))
		})
	}
}

func TestCannedProcessorStreamsWords(t *testing.T) {
	t.Parallel()

	p := &CannedProcessor{Reply: "one two three"}
	var chunks []string
	for resp, err := range p.Chat(context.Background(), ChatRequest{Message: "q"}) {
		require.NoError(t, err)
		chunks = append(chunks, resp.Response)
	}
	require.Equal(t, []string{"one ", "two ", "three"}, chunks)
	require.Equal(t, "canned", p.Name())
}

func TestCannedProcessorStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &CannedProcessor{Reply: "one two three", Delay: time.Hour}

	var gotErr error
	n := 0
	for resp, err := range p.Chat(ctx, ChatRequest{}) {
		if err != nil {
			gotErr = err
			break
		}
		n++
		require.Equal(t, "one ", resp.Response)
		cancel()
	}
	require.Equal(t, 1, n)
	require.ErrorIs(t, gotErr, context.Canceled)
}

func TestLoadSystemPrompt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.md")
	require.NoError(t, os.WriteFile(path, []byte("Vetrivel builds distributed systems."), 0o600))

	prompt, err := LoadSystemPrompt(path)
	require.NoError(t, err)
	require.Contains(t, prompt, "Vetrivel builds distributed systems.")

	prompt, err = LoadSystemPrompt(filepath.Join(dir, "missing.md"))
	require.NoError(t, err)
	require.Contains(t, prompt, emptyKnowledge)
}

// completionServer fakes the Chat Completions streaming endpoint.
type completionServer struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (s *completionServer) handler(t *testing.T, chunks []string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode completion request: %v", err)
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for i, c := range chunks {
			delta, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":null}]}\n\n", delta)
			if i == 0 {
				// A role-only delta carries no text.
				fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\","+
					"\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n")
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func (s *completionServer) lastBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[len(s.bodies)-1]
}

func TestOpenAIProcessorStreams(t *testing.T) {
	t.Parallel()

	fake := &completionServer{}
	srv := httptest.NewServer(fake.handler(t, []string{"Vetrivel ", "builds ", "things."}, http.StatusOK))
	t.Cleanup(srv.Close)

	p := NewOpenAIProcessor(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/",
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are Mahi AI.",
		Temperature:  0.7,
		MaxTokens:    500,
	}, option.WithMaxRetries(0))

	history := make([]domain.StoredMessage, 0, 14)
	for i := range 7 {
		history = append(history,
			domain.StoredMessage{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
			domain.StoredMessage{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
	}

	var answer strings.Builder
	for resp, err := range p.Chat(context.Background(), ChatRequest{Message: "What does he build?", History: history}) {
		require.NoError(t, err)
		answer.WriteString(resp.Response)
	}
	require.Equal(t, "Vetrivel builds things.", answer.String())

	body := fake.lastBody()
	require.Equal(t, "gpt-4o-mini", body["model"])
	require.Equal(t, true, body["stream"])
	require.InDelta(t, 0.7, body["temperature"], 1e-9)
	require.EqualValues(t, 500, body["max_completion_tokens"])

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	// System prompt, the last ten turns and the question.
	require.Len(t, messages, 1+maxPromptHistory+1)
	first := messages[0].(map[string]any)
	require.Equal(t, "system", first["role"])
	require.Equal(t, "You are Mahi AI.", first["content"])
	second := messages[1].(map[string]any)
	require.Equal(t, "user", second["role"])
	require.Equal(t, "q2", second["content"])
	last := messages[len(messages)-1].(map[string]any)
	require.Equal(t, "What does he build?", last["content"])
}

func TestOpenAIProcessorReportsErrors(t *testing.T) {
	t.Parallel()

	fake := &completionServer{}
	srv := httptest.NewServer(fake.handler(t, nil, http.StatusBadRequest))
	t.Cleanup(srv.Close)

	p := NewOpenAIProcessor(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.Contains(t, p.Name(), "gpt-4o-mini")

	var gotErr error
	for _, err := range p.Chat(context.Background(), ChatRequest{Message: "hi there friend"}) {
		if err != nil {
			gotErr = err
		}
	}
	require.ErrorContains(t, gotErr, "openai streaming error")
}
