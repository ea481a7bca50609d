package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/raphaelgruber/flock/internal/metrics"
	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/store"
	"github.com/raphaelgruber/flock/internal/stream"
	"github.com/raphaelgruber/flock/internal/stream/streamtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seqIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("m%d", n.Add(1))
	}
}

// setup returns a store holding sessions 1..n with session 1 selected.
func setup(t *testing.T, n int) *store.Store {
	t.Helper()
	seed := make([]models.Session, n)
	for i := range seed {
		seed[i] = models.Session{ID: i + 1}
	}
	return store.New(store.WithSessions(seed...), store.WithSelected(1))
}

func bound(t *testing.T, s *store.Store, id int, streamer stream.Streamer, opts ...Option) *Conductor {
	t.Helper()
	opts = append([]Option{WithIDGenerator(seqIDs())}, opts...)
	c := New(streamer, s, opts...)
	t.Cleanup(c.Close)
	sess, err := s.Session(id)
	require.NoError(t, err)
	c.Bind(sess)
	return c
}

func wait(t *testing.T, c *Conductor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.NoError(t, ctx.Err(), "exchange did not finish")
	return err
}

func messages(t *testing.T, s *store.Store, id int) []models.Message {
	t.Helper()
	sess, err := s.Session(id)
	require.NoError(t, err)
	return sess.Messages
}

func TestSubmit_TextScenario(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{Events: []stream.Event{
		stream.TextDelta{Text: "Hi"},
		stream.TextDelta{Text: " there"},
		stream.Finish{Reason: "stop"},
	}}
	c := bound(t, s, 1, script)

	require.NoError(t, c.Submit(context.Background(), "hello"))
	require.NoError(t, wait(t, c))

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.Equal(t, StatusIdle, c.Status())
	assert.Equal(t, msgs, c.Messages())

	reqs := script.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "1", reqs[0].SessionID)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "hello", reqs[0].Messages[0].Content)
}

func TestSubmit_Rejections(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := setup(t, 1)
		script := &streamtest.Script{}
		c := bound(t, s, 1, script)

		assert.ErrorIs(t, c.Submit(context.Background(), ""), ErrEmptySubmission)
		assert.Empty(t, messages(t, s, 1))
		assert.Empty(t, c.Messages())
		assert.Empty(t, script.Requests())
		assert.Equal(t, StatusIdle, c.Status())
	})

	t.Run("placeholder", func(t *testing.T) {
		s := setup(t, 1)
		c := New(&streamtest.Script{}, s)
		t.Cleanup(c.Close)

		assert.ErrorIs(t, c.Submit(context.Background(), "hi"), ErrPlaceholderSession)
		assert.Empty(t, c.Messages())
	})

	t.Run("removed session", func(t *testing.T) {
		s := setup(t, 1)
		c := bound(t, s, 1, &streamtest.Script{})
		s.RemoveSession(1)

		assert.ErrorIs(t, c.Submit(context.Background(), "hi"), store.ErrSessionNotFound)
		assert.Empty(t, c.Messages(), "user message rolled back")
		assert.Equal(t, StatusIdle, c.Status())
	})

	t.Run("closed", func(t *testing.T) {
		s := setup(t, 1)
		c := bound(t, s, 1, &streamtest.Script{})
		c.Close()
		assert.ErrorIs(t, c.Submit(context.Background(), "hi"), ErrClosed)
	})
}

func TestSubmit_WhitespaceIsContent(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{}
	c := bound(t, s, 1, script)

	require.NoError(t, c.Submit(context.Background(), "  "))
	require.NoError(t, wait(t, c))

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "  ", msgs[0].Content)
	assert.Len(t, script.Requests(), 1)
}

func TestSubmit_InFlight(t *testing.T) {
	s := setup(t, 1)
	manual := streamtest.NewManual()
	c := bound(t, s, 1, manual)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "first"))
	<-manual.Started
	assert.Equal(t, StatusStreaming, c.Status())

	assert.ErrorIs(t, c.Submit(ctx, "second"), ErrExchangeInFlight)
	assert.Len(t, messages(t, s, 1), 1, "rejected submission leaves no trace")

	require.True(t, manual.Send(ctx, stream.TextDelta{Text: "ok"}))
	close(manual.Steps)
	require.NoError(t, wait(t, c))

	require.NoError(t, c.Submit(ctx, "second"), "accepted once idle")
	<-manual.Started
	require.NoError(t, wait(t, c))
	assert.Len(t, messages(t, s, 1), 3)
}

func TestSubmit_ContentGrowsByPrefix(t *testing.T) {
	s := setup(t, 1)
	deltas := strings.Fields("the quick brown fox jumps over the lazy dog")
	events := make([]stream.Event, 0, len(deltas))
	for _, d := range deltas {
		events = append(events, stream.TextDelta{Text: d + " "})
	}

	var mu sync.Mutex
	var seen []string
	c := bound(t, s, 1, &streamtest.Script{Events: events}, WithOnChange(func(st State) {
		if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == models.RoleAssistant {
			mu.Lock()
			seen = append(seen, st.Messages[n-1].Content)
			mu.Unlock()
		}
	}))

	require.NoError(t, c.Submit(context.Background(), "go"))
	require.NoError(t, wait(t, c))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.True(t, strings.HasPrefix(seen[i], seen[i-1]), "%q does not extend %q", seen[i], seen[i-1])
	}
	assert.Equal(t, strings.Join(deltas, " ")+" ", seen[len(seen)-1])
}

func TestSubmit_ToolInvocations(t *testing.T) {
	s := setup(t, 1)
	collector := metrics.NewCollector()
	args := json.RawMessage(`{"path":"README.md"}`)
	script := &streamtest.Script{Events: []stream.Event{
		stream.TextDelta{Text: "Let me look."},
		stream.ToolCall{ToolCallID: "call-1", ToolName: "read_file", Args: args},
		stream.ToolCall{ToolCallID: "call-1", ToolName: "list_directory"},
		stream.ToolResult{ToolCallID: "ghost", Result: json.RawMessage(`"boo"`)},
		stream.ToolCall{ToolCallID: "", ToolName: "nameless"},
		stream.ToolResult{ToolCallID: "call-1", Result: json.RawMessage(`"# flock"`)},
		stream.ToolResult{ToolCallID: "call-1", Result: json.RawMessage(`"overwritten"`)},
		stream.ToolCall{ToolCallID: "call-2", ToolName: "search_text"},
		stream.Finish{Reason: "tool-calls"},
	}}
	c := bound(t, s, 1, script, WithMetrics(collector))

	require.NoError(t, c.Submit(context.Background(), "read the readme"))
	require.NoError(t, wait(t, c), "anomalies do not fail the exchange")

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 2)
	assistant := msgs[1]
	assert.Equal(t, "Let me look.", assistant.Content)
	require.Len(t, assistant.ToolInvocations, 2)

	first := assistant.ToolInvocations[0]
	assert.Equal(t, "read_file", first.ToolName)
	assert.Equal(t, models.ToolStateResult, first.State)
	assert.JSONEq(t, `"# flock"`, string(first.Result))
	assert.JSONEq(t, string(args), string(first.Args))

	second := assistant.ToolInvocations[1]
	assert.Equal(t, "call-2", second.ToolCallID)
	assert.Equal(t, models.ToolStateCall, second.State)

	snap := collector.Snapshot()
	assert.Equal(t, int64(4), snap.Anomalies)
	require.NotNil(t, snap.ToolCall)
	assert.Equal(t, int64(1), snap.ToolCall.Count)
	require.NotNil(t, snap.Exchange)
	assert.Equal(t, int64(1), snap.Exchange.Count)
}

func TestSubmit_CallIDUniqueAcrossExchanges(t *testing.T) {
	s := setup(t, 1)
	collector := metrics.NewCollector()
	script := &streamtest.Script{Events: []stream.Event{
		stream.ToolCall{ToolCallID: "t1", ToolName: "read_file"},
		stream.ToolResult{ToolCallID: "t1", Result: json.RawMessage(`"first"`)},
		stream.Finish{Reason: "tool-calls"},
	}}
	c := bound(t, s, 1, script, WithMetrics(collector))
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "one"))
	require.NoError(t, wait(t, c))
	require.NoError(t, c.Submit(ctx, "two"))
	require.NoError(t, wait(t, c))

	records := 0
	for _, m := range messages(t, s, 1) {
		for _, inv := range m.ToolInvocations {
			if inv.ToolCallID == "t1" {
				records++
				assert.JSONEq(t, `"first"`, string(inv.Result))
			}
		}
	}
	assert.Equal(t, 1, records)
	assert.Equal(t, int64(2), collector.Snapshot().Anomalies, "replayed call and its result")
	assert.Equal(t, StatusIdle, c.Status())
}

func TestSubmit_ToolResultWithoutAssistant(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{Events: []stream.Event{
		stream.ToolResult{ToolCallID: "call-1", Result: json.RawMessage(`{}`)},
	}}
	c := bound(t, s, 1, script)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.NoError(t, wait(t, c))
	assert.Len(t, messages(t, s, 1), 1, "no invocation is fabricated")
}

func TestSubmit_StepStartNamesAssistant(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{Events: []stream.Event{
		stream.StepStart{MessageID: "msg-abc"},
		stream.TextDelta{Text: "one"},
		stream.StepStart{MessageID: "msg-def"},
		stream.TextDelta{Text: " two"},
	}}
	c := bound(t, s, 1, script)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.NoError(t, wait(t, c))

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg-abc", msgs[1].ID)
	assert.Equal(t, "one two", msgs[1].Content)
}

func TestSubmit_AssistantIDNeverCollides(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{Events: []stream.Event{
		stream.StepStart{MessageID: "m1"},
	}}
	c := bound(t, s, 1, script)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.NoError(t, wait(t, c))

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestSubmit_StreamFailure(t *testing.T) {
	tests := []struct {
		name    string
		events  []stream.Event
		err     error
		wantMsg string
	}{
		{
			name:    "transport error",
			events:  []stream.Event{stream.TextDelta{Text: "partial"}},
			err:     errors.New("connection reset"),
			wantMsg: "connection reset",
		},
		{
			name:    "error event",
			events:  []stream.Event{stream.TextDelta{Text: "partial"}, stream.Error{Message: "model overloaded"}, stream.TextDelta{Text: "never"}},
			wantMsg: "model overloaded",
		},
		{
			name:    "deadline",
			events:  []stream.Event{stream.TextDelta{Text: "partial"}},
			err:     context.DeadlineExceeded,
			wantMsg: "deadline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup(t, 1)
			collector := metrics.NewCollector()
			c := bound(t, s, 1, &streamtest.Script{Events: tt.events, Err: tt.err}, WithMetrics(collector))

			require.NoError(t, c.Submit(context.Background(), "hi"))
			err := wait(t, c)
			require.ErrorIs(t, err, ErrStreamFailure)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, StatusError, c.Status())

			msgs := messages(t, s, 1)
			require.Len(t, msgs, 2, "partial content is kept")
			assert.Equal(t, "partial", msgs[1].Content)
			assert.Equal(t, int64(1), collector.Snapshot().StreamFailures)

			c.Bind(models.Session{ID: 1, Messages: msgs})
			assert.Equal(t, StatusIdle, c.Status())
			assert.NoError(t, c.Err())
		})
	}
}

func TestSubmit_CancelledByCaller(t *testing.T) {
	s := setup(t, 1)
	manual := streamtest.NewManual()
	c := bound(t, s, 1, manual)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Submit(ctx, "hi"))
	<-manual.Started
	cancel()

	assert.NoError(t, wait(t, c))
	assert.Equal(t, StatusIdle, c.Status())
}

func TestBind_DropsStaleEvents(t *testing.T) {
	s := setup(t, 2)
	release := make(chan struct{})
	first := make(chan struct{})
	var lateErr error

	// Ignores cancellation so late events actually reach the handler.
	streamer := stream.StreamerFunc(func(_ context.Context, _ stream.Request, handle stream.Handler) error {
		if err := handle(stream.TextDelta{Text: "early"}); err != nil {
			return err
		}
		close(first)
		<-release
		lateErr = handle(stream.TextDelta{Text: " late"})
		return lateErr
	})

	collector := metrics.NewCollector()
	c := bound(t, s, 1, streamer, WithMetrics(collector))
	require.NoError(t, c.Submit(context.Background(), "in one"))
	<-first

	sess2, err := s.Session(2)
	require.NoError(t, err)
	c.Bind(sess2)
	close(release)
	c.Close()

	assert.ErrorIs(t, lateErr, errSuperseded)
	msgs1 := messages(t, s, 1)
	require.Len(t, msgs1, 2)
	assert.Equal(t, "early", msgs1[1].Content, "committed content survives, late chunk dropped")
	assert.Empty(t, messages(t, s, 2))
	assert.Empty(t, c.Messages())
	assert.Equal(t, 2, c.SessionID())
	assert.Equal(t, int64(1), collector.Snapshot().Cancelled)
}

func TestRemoveSession_DuringExchange(t *testing.T) {
	s := setup(t, 1)
	manual := streamtest.NewManual()
	c := bound(t, s, 1, manual)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "hi"))
	<-manual.Started
	s.RemoveSession(1)

	require.True(t, manual.Send(ctx, stream.TextDelta{Text: "orphan"}))
	assert.NoError(t, wait(t, c), "a removed session ends the exchange quietly")
	assert.Equal(t, StatusIdle, c.Status())
	assert.Zero(t, s.Len())
}

func TestIsolation_ConcurrentSessions(t *testing.T) {
	s := setup(t, 2)
	manualA := streamtest.NewManual()
	manualB := streamtest.NewManual()
	a := bound(t, s, 1, manualA)
	b := bound(t, s, 2, manualB)
	ctx := context.Background()

	require.NoError(t, a.Submit(ctx, "to A"))
	require.NoError(t, b.Submit(ctx, "to B"))
	<-manualA.Started
	<-manualB.Started

	for i := 0; i < 5; i++ {
		require.True(t, manualA.Send(ctx, stream.TextDelta{Text: "a"}))
		require.True(t, manualB.Send(ctx, stream.TextDelta{Text: "b"}))
	}
	require.True(t, manualA.Send(ctx, stream.ToolCall{ToolCallID: "shared", ToolName: "read_file"}))
	close(manualA.Steps)
	close(manualB.Steps)
	require.NoError(t, wait(t, a))
	require.NoError(t, wait(t, b))

	msgsA := messages(t, s, 1)
	require.Len(t, msgsA, 2)
	assert.Equal(t, "to A", msgsA[0].Content)
	assert.Equal(t, "aaaaa", msgsA[1].Content)
	require.Len(t, msgsA[1].ToolInvocations, 1)

	msgsB := messages(t, s, 2)
	require.Len(t, msgsB, 2)
	assert.Equal(t, "to B", msgsB[0].Content)
	assert.Equal(t, "bbbbb", msgsB[1].Content)
	assert.Empty(t, msgsB[1].ToolInvocations)
}

func TestResubmitFromResult(t *testing.T) {
	s := setup(t, 1)
	script := &streamtest.Script{Events: []stream.Event{
		stream.TextDelta{Text: "Searching."},
		stream.ToolCall{ToolCallID: "c1", ToolName: "search_text"},
		stream.ToolResult{ToolCallID: "c1", Result: json.RawMessage(`{"text":"look in main.go"}`)},
	}}
	c := bound(t, s, 1, script)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "where is main?"))
	require.NoError(t, wait(t, c))

	last, ok := models.Session{Messages: c.Messages()}.LastMessage()
	require.True(t, ok)
	require.Len(t, last.ToolInvocations, 1)
	require.NoError(t, c.ResubmitFromResult(ctx, last.ToolInvocations[0].ResultText()))
	require.NoError(t, wait(t, c))

	msgs := messages(t, s, 1)
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleUser, msgs[2].Role)
	assert.Equal(t, "look in main.go", msgs[2].Content)

	reqs := script.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3, "history includes the earlier exchange")
}

func TestClose_CancelsInFlight(t *testing.T) {
	s := setup(t, 1)
	manual := streamtest.NewManual()
	c := New(manual, s)
	sess, err := s.Session(1)
	require.NoError(t, err)
	c.Bind(sess)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	<-manual.Started
	c.Close()
	c.Close()

	assert.Len(t, messages(t, s, 1), 1)
}
