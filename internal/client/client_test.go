package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/stream"
)

func collect(events *[]stream.Event) stream.Handler {
	return func(ev stream.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestNew_EndpointFallback(t *testing.T) {
	t.Setenv("FLOCK_ENDPOINT", "")
	assert.Equal(t, DefaultEndpoint, New("").Endpoint())

	t.Setenv("FLOCK_ENDPOINT", "http://example.test/reply")
	assert.Equal(t, "http://example.test/reply", New("").Endpoint())
	assert.Equal(t, "http://other.test/reply", New("http://other.test/reply").Endpoint())
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8484/reply", "ws://localhost:8484/ws"},
		{"https://flock.example.com/reply", "wss://flock.example.com/ws"},
		{"ws://localhost:1/ws", "ws://localhost:1/ws"},
		{"http://localhost:8484/custom", "ws://localhost:8484/custom"},
		{"http://127.0.0.1:40123", "ws://127.0.0.1:40123/ws"},
		{"https://flock.example.com/", "wss://flock.example.com/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WebSocketURL(tt.in), tt.in)
	}
}

func TestClient_Stream(t *testing.T) {
	var got stream.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprint(w, "f:{\"messageId\":\"msg-1\"}\n")
		fmt.Fprint(w, "0:\"Hi\"\n")
		fmt.Fprint(w, "9:{\"toolCallId\":\"c1\",\"toolName\":\"read_file\",\"args\":{\"path\":\"a\"}}\n")
		fmt.Fprint(w, "a:{\"toolCallId\":\"c1\",\"result\":\"done\"}\n")
		fmt.Fprint(w, "e:{\"finishReason\":\"stop\"}\n")
		fmt.Fprint(w, "d:{\"finishReason\":\"stop\",\"usage\":{\"promptTokens\":3,\"completionTokens\":5}}\n")
	}))
	defer srv.Close()

	c := New(srv.URL)
	req := stream.Request{
		SessionID: "7",
		Messages:  []models.Message{models.NewUserMessage("u1", "hello")},
	}

	var events []stream.Event
	require.NoError(t, c.Stream(context.Background(), req, collect(&events)))

	assert.Equal(t, "7", got.SessionID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	require.Len(t, events, 5)
	assert.Equal(t, stream.StepStart{MessageID: "msg-1"}, events[0])
	assert.Equal(t, stream.TextDelta{Text: "Hi"}, events[1])
	call, ok := events[2].(stream.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "c1", call.ToolCallID)
	assert.Equal(t, stream.Finish{Reason: "stop", Usage: stream.Usage{PromptTokens: 3, CompletionTokens: 5}}, events[4])
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model configured", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL).Stream(context.Background(), stream.Request{}, func(stream.Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "no model configured")
}

func TestClient_MalformedLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"ok\"\nnot a line\n")
	}))
	defer srv.Close()

	var events []stream.Event
	err := New(srv.URL).Stream(context.Background(), stream.Request{}, collect(&events))
	assert.ErrorIs(t, err, stream.ErrMalformedLine)
	assert.Len(t, events, 1)
}

func TestClient_HandlerAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"a\"\n0:\"b\"\n")
	}))
	defer srv.Close()

	stop := errors.New("stop")
	err := New(srv.URL).Stream(context.Background(), stream.Request{}, func(stream.Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"first\"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	err := New(srv.URL).Stream(ctx, stream.Request{}, func(ev stream.Event) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func wsServer(t *testing.T, frames []stream.Frame, seen chan<- stream.StartFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var start stream.StartFrame
		if err := conn.ReadJSON(&start); err != nil {
			return
		}
		seen <- start
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
}

func TestWebSocket_Stream(t *testing.T) {
	seen := make(chan stream.StartFrame, 1)
	srv := wsServer(t, []stream.Frame{
		{Type: stream.FrameTextDelta, Text: "Hel"},
		{Type: "keep-alive"},
		{Type: stream.FrameTextDelta, Text: "lo"},
		{Type: stream.FrameToolCall, ToolCallID: "c1", ToolName: "list_directory"},
		{Type: stream.FrameFinish, FinishReason: "stop"},
		{Type: stream.FrameDone},
		{Type: stream.FrameTextDelta, Text: "ignored"},
	}, seen)
	defer srv.Close()

	ws := NewWebSocket(srv.URL)
	req := stream.Request{SessionID: "3", Messages: []models.Message{models.NewUserMessage("u1", "hey")}}

	var events []stream.Event
	require.NoError(t, ws.Stream(context.Background(), req, collect(&events)))

	start := <-seen
	assert.Equal(t, stream.FrameStart, start.Type)
	assert.NotEmpty(t, start.RequestID)
	assert.Equal(t, "3", start.Request.SessionID)

	require.Len(t, events, 4)
	assert.Equal(t, stream.TextDelta{Text: "Hel"}, events[0])
	assert.Equal(t, stream.TextDelta{Text: "lo"}, events[1])
	assert.Equal(t, stream.Finish{Reason: "stop"}, events[3])
}

func TestWebSocket_ContextCancel(t *testing.T) {
	seen := make(chan stream.StartFrame, 1)
	srv := wsServer(t, nil, seen)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-seen
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- NewWebSocket(srv.URL).Stream(ctx, stream.Request{}, func(stream.Event) error { return nil })
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestWebSocket_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := NewWebSocket(srv.URL).Stream(context.Background(), stream.Request{}, func(stream.Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket connect")
}
