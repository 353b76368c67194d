package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/folio-chat/internal/frame"
)

// maxReplySize caps the bytes read from a single-shot reply or error body.
const maxReplySize = 1 << 20

// Turn is one prior message sent back to the server as history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the body of one outbound exchange. SessionID encodes as null
// until the server has assigned one.
type Request struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
	Messages  []Turn  `json:"messages,omitempty"`
}

// Transport performs one exchange and yields its records in delivery order.
// Every failure, including one before the first byte, is yielded as a single
// terminal frame.Record with Fatal set. Cancelling ctx ends the sequence
// without a record.
type Transport interface {
	Exchange(ctx context.Context, req Request) iter.Seq[frame.Record]
}

// StreamTransport posts the request and decodes a "data: <json>" line stream.
type StreamTransport struct {
	Endpoint string
	Client   *http.Client
}

func (t *StreamTransport) Exchange(ctx context.Context, req Request) iter.Seq[frame.Record] {
	return func(yield func(frame.Record) bool) {
		resp, err := post(ctx, t.Client, t.Endpoint, req, "text/event-stream")
		if err != nil {
			if ctx.Err() == nil {
				yield(frame.Failure(err))
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(frame.Failure(statusError(resp)))
			return
		}
		for rec := range frame.Records(ctx, resp.Body) {
			if !yield(rec) {
				return
			}
		}
	}
}

// SingleShotTransport posts the request and expects one JSON object back:
// {"reply": ...} on success, {"error"|"message": ...} otherwise.
type SingleShotTransport struct {
	Endpoint string
	Client   *http.Client
}

type replyBody struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (t *SingleShotTransport) Exchange(ctx context.Context, req Request) iter.Seq[frame.Record] {
	return func(yield func(frame.Record) bool) {
		resp, err := post(ctx, t.Client, t.Endpoint, req, "application/json")
		if err != nil {
			if ctx.Err() == nil {
				yield(frame.Failure(err))
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(frame.Failure(statusError(resp)))
			return
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
		if err != nil {
			if ctx.Err() == nil {
				yield(frame.Failure(err))
			}
			return
		}
		var body replyBody
		if err := json.Unmarshal(data, &body); err != nil {
			yield(frame.Record{Error: fmt.Sprintf("malformed reply: %v", err), Malformed: true})
			return
		}
		yield(frame.Record{Chunk: body.Reply, SessionID: body.SessionID, Error: body.Error})
	}
}

// WebSocketTransport sends the request as the first text message and reads
// one JSON record per message until the server closes or sends done.
type WebSocketTransport struct {
	Endpoint string
	Client   *http.Client
}

func (t *WebSocketTransport) Exchange(ctx context.Context, req Request) iter.Seq[frame.Record] {
	return func(yield func(frame.Record) bool) {
		conn, _, err := websocket.Dial(ctx, t.Endpoint, &websocket.DialOptions{HTTPClient: t.Client})
		if err != nil {
			if ctx.Err() == nil {
				yield(frame.Failure(err))
			}
			return
		}
		defer conn.CloseNow() //nolint:errcheck

		payload, err := json.Marshal(req)
		if err != nil {
			yield(frame.Failure(err))
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			if ctx.Err() == nil {
				yield(frame.Failure(err))
			}
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				yield(frame.Failure(err))
				return
			}
			rec := frame.ParsePayload(data)
			if !yield(rec) {
				return
			}
			if rec.Done {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func post(ctx context.Context, client *http.Client, endpoint string, body Request, accept string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	return resp, nil
}

// statusError describes a non-success response, preferring the server's own
// {"error"} or {"message"} text.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	var body replyBody
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body.Error)
		}
		if body.Message != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body.Message)
		}
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}

// failureError recovers the error carried by a Fatal record.
func failureError(rec frame.Record) error {
	return fmt.Errorf("%w: %s", ErrTransport, rec.Error)
}
