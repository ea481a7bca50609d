// Package chat ties the session store and the streaming conductor together
// into the surface a user interface drives: tabs, selection and submission.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/flock/internal/conductor"
	"github.com/raphaelgruber/flock/internal/metrics"
	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/store"
	"github.com/raphaelgruber/flock/internal/stream"
)

// View is everything a renderer needs for one frame.
type View struct {
	Sessions   []models.Session
	SelectedID int
	Status     conductor.Status
	Err        error
	Messages   []models.Message
}

// Workspace owns one conductor that follows the store's selection.
// Every intent is serialized, so selection and binding never disagree.
type Workspace struct {
	ctx       context.Context
	store     *store.Store
	conductor *conductor.Conductor
	logger    *slog.Logger

	mu      sync.Mutex
	changes chan struct{}
}

type options struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	newID   func() string
}

// Option configures a Workspace.
type Option func(*options)

// WithLogger sets the logger for the workspace and its conductor.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records exchange statistics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator replaces the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// New creates a workspace over st, bound to its selected session.
// Exchanges run until ctx is cancelled or the workspace is closed.
func New(ctx context.Context, st *store.Store, streamer stream.Streamer, opts ...Option) *Workspace {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	w := &Workspace{
		ctx:     ctx,
		store:   st,
		logger:  o.logger,
		changes: make(chan struct{}, 1),
	}
	w.conductor = conductor.New(streamer, st,
		conductor.WithLogger(o.logger),
		conductor.WithMetrics(o.metrics),
		conductor.WithIDGenerator(o.newID),
		conductor.WithOnChange(func(conductor.State) { w.signal() }),
	)
	w.conductor.Bind(st.Selected())
	return w
}

// Changes delivers a value whenever the view may have changed. Signals
// coalesce, so a reader always re-reads the whole View.
func (w *Workspace) Changes() <-chan struct{} {
	return w.changes
}

func (w *Workspace) signal() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// rebind points the conductor at the selected session if it is not there yet.
// Caller must hold w.mu.
func (w *Workspace) rebind() {
	sel := w.store.Selected()
	if sel.ID == w.conductor.SessionID() && !sel.IsPlaceholder() {
		return
	}
	w.conductor.Bind(sel)
}

// Sessions returns every stored session in creation order.
func (w *Workspace) Sessions() []models.Session {
	return w.store.ListSessions()
}

// SelectedID returns the selected session id, or models.PlaceholderID.
func (w *Workspace) SelectedID() int {
	return w.store.SelectedID()
}

// Select switches to id. Unknown ids select the placeholder.
func (w *Workspace) Select(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.store.Select(id)
	w.rebind()
	w.signal()
}

// SelectNext moves the selection by delta positions, wrapping around.
// The placeholder is treated as sitting after the last session.
func (w *Workspace) SelectNext(delta int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sessions := w.store.ListSessions()
	if len(sessions) == 0 {
		return
	}
	n := len(sessions) + 1
	cur := len(sessions)
	for i, s := range sessions {
		if s.ID == w.store.SelectedID() {
			cur = i
			break
		}
	}
	next := ((cur+delta)%n + n) % n
	id := models.PlaceholderID
	if next < len(sessions) {
		id = sessions[next].ID
	}
	w.store.Select(id)
	w.rebind()
	w.signal()
}

// NewSession creates an empty session and selects it.
func (w *Workspace) NewSession() models.Session {
	w.mu.Lock()
	defer w.mu.Unlock()

	sess := w.store.CreateSession()
	w.conductor.Bind(sess)
	w.signal()
	return sess
}

// Remove deletes a session. Removing the bound session cancels its exchange.
func (w *Workspace) Remove(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.store.RemoveSession(id)
	if w.conductor.SessionID() == id {
		w.conductor.Bind(w.store.Selected())
	}
	w.signal()
}

// Send submits text to the selected session. With the placeholder selected,
// a new session is created and selected first and receives the message.
func (w *Workspace) Send(text string) error {
	return w.submit(text, w.conductor.Submit)
}

// Resubmit sends text taken from a tool result, following the same rules as Send.
func (w *Workspace) Resubmit(text string) error {
	return w.submit(text, w.conductor.ResubmitFromResult)
}

func (w *Workspace) submit(text string, fn func(context.Context, string) error) error {
	if text == "" {
		return conductor.ErrEmptySubmission
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.store.SelectedID() != models.PlaceholderID {
		return fn(w.ctx, text)
	}

	sess := w.store.CreateSession()
	w.conductor.Bind(sess)
	if err := fn(w.ctx, text); err != nil {
		// The promoted session never received the message; undo it.
		w.store.RemoveSession(sess.ID)
		w.conductor.Bind(w.store.Selected())
		return err
	}
	w.logger.Debug("placeholder promoted", "session_id", sess.ID)
	return nil
}

// Messages returns the bound session's working messages.
func (w *Workspace) Messages() []models.Message {
	return w.conductor.Messages()
}

// Status returns the bound session's streaming status.
func (w *Workspace) Status() conductor.Status {
	return w.conductor.Status()
}

// Err returns the last stream failure of the bound session.
func (w *Workspace) Err() error {
	return w.conductor.Err()
}

// View returns a snapshot for rendering.
func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.conductor.State()
	return View{
		Sessions:   w.store.ListSessions(),
		SelectedID: w.store.SelectedID(),
		Status:     st.Status,
		Err:        st.Err,
		Messages:   st.Messages,
	}
}

// Wait blocks until the running exchange ends or ctx is done.
func (w *Workspace) Wait(ctx context.Context) error {
	return w.conductor.Wait(ctx)
}

// Close cancels any exchange and waits for it to stop.
func (w *Workspace) Close() {
	w.conductor.Close()
}
