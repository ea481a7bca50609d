// Package streamtest provides Streamers with scripted behavior for tests and
// offline demos.
package streamtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/stream"
)

// Script replays the same events for every exchange and then returns Err.
type Script struct {
	Events []stream.Event
	Err    error

	mu       sync.Mutex
	requests []stream.Request
}

// Stream implements stream.Streamer.
func (s *Script) Stream(ctx context.Context, req stream.Request, handle stream.Handler) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	for _, ev := range s.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
	return s.Err
}

// Requests returns every request seen so far.
func (s *Script) Requests() []stream.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Request(nil), s.requests...)
}

// Step is one event delivered by a Manual streamer, or an error that ends the stream.
type Step struct {
	Event stream.Event
	Err   error
}

// Manual delivers events one at a time under test control. Each exchange
// reads from Steps until the channel is closed, an error step arrives or ctx
// is cancelled.
type Manual struct {
	Steps   chan Step
	Started chan stream.Request
}

// NewManual creates a Manual streamer with unbuffered channels.
func NewManual() *Manual {
	return &Manual{
		Steps:   make(chan Step),
		Started: make(chan stream.Request, 16),
	}
}

// Stream implements stream.Streamer.
func (m *Manual) Stream(ctx context.Context, req stream.Request, handle stream.Handler) error {
	m.Started <- req
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case step, ok := <-m.Steps:
			if !ok {
				return nil
			}
			if step.Err != nil {
				return step.Err
			}
			if err := handle(step.Event); err != nil {
				return err
			}
		}
	}
}

// Send delivers one event, or returns false if ctx ends first.
func (m *Manual) Send(ctx context.Context, ev stream.Event) bool {
	select {
	case m.Steps <- Step{Event: ev}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Echo answers every exchange by repeating the last user message word by word.
type Echo struct{}

// Stream implements stream.Streamer.
func (Echo) Stream(ctx context.Context, req stream.Request, handle stream.Handler) error {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return errors.New("echo: no user message")
	}

	words := strings.Fields(last)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			w = " " + w
		}
		if err := handle(stream.TextDelta{Text: w}); err != nil {
			return err
		}
	}
	return handle(stream.Finish{Reason: "stop"})
}
