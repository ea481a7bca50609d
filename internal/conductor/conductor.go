// Package conductor drives one live exchange between a bound chat session and
// an assistant endpoint, materializing streamed events into the session's
// message list and publishing every increment back to the session store.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/flock/internal/metrics"
	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/store"
	"github.com/raphaelgruber/flock/internal/stream"
)

// Status is the streaming status shown to the presentation layer.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Publisher receives the full message list of a session after every change.
// *store.Store implements it.
type Publisher interface {
	UpdateMessages(id int, msgs []models.Message) error
}

// State is a copy of everything the presentation layer may observe.
type State struct {
	SessionID int
	Status    Status
	Err       error
	Messages  []models.Message
}

// errSuperseded stops the stream of an exchange that is no longer current.
var errSuperseded = errors.New("exchange superseded")

// exchange is one request/response round trip.
type exchange struct {
	seq       uint64
	sessionID int
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   time.Time

	assistant int // index of the assistant message in Conductor.messages, -1 until created
	chunks    int
	reason    string
	usage     stream.Usage
	toolCalls map[string]time.Time
}

// Conductor binds to one session at a time and runs at most one exchange
// for it. All methods are safe for concurrent use.
type Conductor struct {
	streamer stream.Streamer
	pub      Publisher
	logger   *slog.Logger
	metrics  *metrics.Collector
	newID    func() string
	onChange func(State)

	mu        sync.Mutex
	sessionID int
	messages  []models.Message
	status    Status
	err       error
	seq       uint64
	current   *exchange
	closed    bool

	wg sync.WaitGroup
}

// Option configures a Conductor.
type Option func(*Conductor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conductor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records exchange statistics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Conductor) {
		c.metrics = m
	}
}

// WithIDGenerator replaces the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Conductor) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithOnChange registers a callback invoked after every state change.
// The callback runs on the goroutine that made the change and must not block.
func WithOnChange(fn func(State)) Option {
	return func(c *Conductor) {
		c.onChange = fn
	}
}

// New creates a conductor bound to the placeholder session.
func New(streamer stream.Streamer, pub Publisher, opts ...Option) *Conductor {
	c := &Conductor{
		streamer:  streamer,
		pub:       pub,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		sessionID: models.PlaceholderID,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind switches the conductor to sess, seeding the working list with its
// messages. An exchange still running for the previous binding is cancelled
// and none of its later events are applied.
func (c *Conductor) Bind(sess models.Session) {
	c.mu.Lock()
	prev := c.sessionID
	superseded := c.supersedeLocked()
	c.sessionID = sess.ID
	c.messages = models.CloneMessages(sess.Messages)
	c.status = StatusIdle
	c.err = nil
	c.mu.Unlock()

	if superseded != nil {
		c.logger.Debug("exchange superseded by rebind",
			"session_id", prev, "exchange", superseded.seq, "bound", sess.ID)
	}
	c.notify()
}

// supersedeLocked cancels the current exchange. Caller must hold c.mu.
func (c *Conductor) supersedeLocked() *exchange {
	ex := c.current
	if ex == nil {
		return nil
	}
	c.current = nil
	ex.cancel()
	return ex
}

// Submit appends a user message with text to the bound session and starts
// an exchange. It returns once the user message is published; assistant
// output arrives asynchronously. ctx bounds the whole exchange.
func (c *Conductor) Submit(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptySubmission
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.sessionID == models.PlaceholderID:
		c.mu.Unlock()
		return ErrPlaceholderSession
	case c.current != nil:
		c.mu.Unlock()
		return ErrExchangeInFlight
	}

	n := len(c.messages)
	c.messages = append(c.messages, models.NewUserMessage(c.newID(), text))
	if err := c.pub.UpdateMessages(c.sessionID, c.messages); err != nil {
		c.messages = c.messages[:n]
		c.mu.Unlock()
		return fmt.Errorf("submit to session %d: %w", c.sessionID, err)
	}

	c.seq++
	exCtx, cancel := context.WithCancel(ctx)
	ex := &exchange{
		seq:       c.seq,
		sessionID: c.sessionID,
		ctx:       exCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		started:   time.Now(),
		assistant: -1,
		toolCalls: make(map[string]time.Time),
	}
	c.current = ex
	c.status = StatusStreaming
	c.err = nil
	req := stream.Request{
		SessionID: strconv.Itoa(c.sessionID),
		Messages:  models.CloneMessages(c.messages),
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("exchange started", "session_id", ex.sessionID, "exchange", ex.seq)
	c.notify()

	go c.run(ex, req)
	return nil
}

// ResubmitFromResult submits text taken from a rendered tool result as new user input.
func (c *Conductor) ResubmitFromResult(ctx context.Context, text string) error {
	return c.Submit(ctx, text)
}

func (c *Conductor) run(ex *exchange, req stream.Request) {
	defer c.wg.Done()
	defer close(ex.done)

	err := c.streamer.Stream(ex.ctx, req, func(ev stream.Event) error {
		return c.handle(ex, ev)
	})
	c.finish(ex, err)
}

// handle applies one event. Events run to completion one at a time under c.mu.
func (c *Conductor) handle(ex *exchange, ev stream.Event) error {
	c.mu.Lock()
	if c.current != ex {
		c.mu.Unlock()
		c.logger.Debug("dropping stale event", "session_id", ex.sessionID, "exchange", ex.seq)
		return errSuperseded
	}

	changed, err := c.apply(ex, ev)
	if err != nil {
		c.mu.Unlock()
		var anomaly *AnomalyError
		if errors.As(err, &anomaly) {
			c.logger.Warn("tool protocol anomaly, event dropped",
				"session_id", ex.sessionID, "exchange", ex.seq,
				"tool_call_id", anomaly.ToolCallID, "kind", anomaly.Kind)
			c.metrics.IncAnomalies()
			return nil
		}
		return err
	}
	if !changed {
		c.mu.Unlock()
		return nil
	}

	ex.chunks++
	err = c.pub.UpdateMessages(ex.sessionID, c.messages)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.metrics.IncChunks()
	c.notify()
	return nil
}

func (c *Conductor) finish(ex *exchange, err error) {
	ex.cancel()
	duration := time.Since(ex.started)

	c.mu.Lock()
	if c.current != ex {
		c.mu.Unlock()
		c.metrics.IncCancelled()
		c.logger.Debug("superseded exchange ended",
			"session_id", ex.sessionID, "exchange", ex.seq, "duration_ms", duration.Milliseconds())
		return
	}
	c.current = nil

	switch {
	case err == nil, errors.Is(err, stream.ErrStopped), errors.Is(err, context.Canceled):
		c.status = StatusIdle
	case errors.Is(err, store.ErrSessionNotFound):
		c.status = StatusIdle
		c.logger.Debug("session removed during exchange", "session_id", ex.sessionID, "exchange", ex.seq)
	default:
		c.status = StatusError
		c.err = fmt.Errorf("%w: %w", ErrStreamFailure, err)
	}
	status, failure := c.status, c.err
	c.mu.Unlock()

	if failure != nil {
		c.metrics.IncStreamFailures()
		c.logger.Error("exchange failed",
			"session_id", ex.sessionID, "exchange", ex.seq,
			"duration_ms", duration.Milliseconds(), "error", failure)
	} else {
		c.metrics.RecordExchange(duration, ex.usage.PromptTokens, ex.usage.CompletionTokens)
		c.logger.Info("exchange finished",
			"session_id", ex.sessionID, "exchange", ex.seq, "status", status,
			"reason", ex.reason, "chunks", ex.chunks, "duration_ms", duration.Milliseconds())
	}
	c.notify()
}

// Wait blocks until the current exchange ends or ctx is done, then returns Err.
func (c *Conductor) Wait(ctx context.Context) error {
	c.mu.Lock()
	ex := c.current
	c.mu.Unlock()

	if ex != nil {
		select {
		case <-ex.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Err()
}

// Close cancels any exchange and waits for its goroutine to exit.
// Submit fails with ErrClosed afterwards.
func (c *Conductor) Close() {
	c.mu.Lock()
	c.closed = true
	c.supersedeLocked()
	c.mu.Unlock()

	c.wg.Wait()
}

// SessionID returns the bound session id.
func (c *Conductor) SessionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns a copy of the working message list.
func (c *Conductor) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CloneMessages(c.messages)
}

// Status returns the streaming status.
func (c *Conductor) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the failure of the last exchange, if its status is StatusError.
func (c *Conductor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns a consistent copy of the observable state.
func (c *Conductor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SessionID: c.sessionID,
		Status:    c.status,
		Err:       c.err,
		Messages:  models.CloneMessages(c.messages),
	}
}

func (c *Conductor) notify() {
	if c.onChange != nil {
		c.onChange(c.State())
	}
}
