// Package store holds every chat session and the current selection.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/flock/internal/models"
)

// ChangeKind describes what a Change notification is about.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeRemoved  ChangeKind = "removed"
	ChangeSelected ChangeKind = "selected"
	ChangeMessages ChangeKind = "messages"
)

// Change is published to subscribers after every successful mutation.
type Change struct {
	Kind       ChangeKind
	SessionID  int
	SelectedID int
}

// Store owns all sessions and their messages. All methods are safe for
// concurrent use; every read returns deep copies.
type Store struct {
	mu       sync.RWMutex
	sessions []*models.Session // creation order
	nextID   int
	selected int
	logger   *slog.Logger

	subMu       sync.Mutex
	subscribers []chan Change
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovered errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessions seeds the store. Duplicate or placeholder ids are skipped.
// New ids continue after the highest seeded id.
func WithSessions(seed ...models.Session) Option {
	return func(s *Store) {
		for _, sess := range seed {
			if sess.IsPlaceholder() || s.indexOf(sess.ID) >= 0 {
				continue
			}
			c := sess.Clone()
			if c.Title == "" {
				c.Title = models.DefaultTitle(c.ID)
			}
			s.sessions = append(s.sessions, &c)
			if c.ID >= s.nextID {
				s.nextID = c.ID + 1
			}
		}
	}
}

// WithSelected sets the initial selection. Unknown ids fall back to the placeholder.
func WithSelected(id int) Option {
	return func(s *Store) {
		s.selected = id
	}
}

// New creates a store. Without options it is empty with the placeholder selected.
func New(opts ...Option) *Store {
	s := &Store{
		nextID:   1,
		selected: models.PlaceholderID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.indexOf(s.selected) < 0 {
		s.selected = models.PlaceholderID
	}
	return s
}

// indexOf returns the position of id in s.sessions, or -1.
// Caller must hold the lock (or be constructing the store).
func (s *Store) indexOf(id int) int {
	if id == models.PlaceholderID {
		return -1
	}
	return slices.IndexFunc(s.sessions, func(sess *models.Session) bool {
		return sess.ID == id
	})
}

// ListSessions returns all sessions in creation order.
func (s *Store) ListSessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id int) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Session{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return s.sessions[i].Clone(), nil
}

// SelectedID returns the selected session id, or models.PlaceholderID.
func (s *Store) SelectedID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Selected returns the selected session, or the placeholder when nothing is selected.
func (s *Store) Selected() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(s.selected); i >= 0 {
		return s.sessions[i].Clone()
	}
	return models.Placeholder()
}

// Select makes id the current session. Unknown ids select the placeholder.
func (s *Store) Select(id int) {
	s.mu.Lock()
	if id != models.PlaceholderID && s.indexOf(id) < 0 {
		s.logger.Debug("select unknown session, using placeholder", "session_id", id)
		id = models.PlaceholderID
	}
	s.selected = id
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSelected, SessionID: id, SelectedID: id})
}

// CreateSession adds an empty session with a fresh id and selects it.
// Ids come from a counter that never goes backwards, so removed ids are never reused.
func (s *Store) CreateSession() models.Session {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sess := &models.Session{
		ID:        id,
		Title:     models.DefaultTitle(id),
		CreatedAt: time.Now(),
	}
	s.sessions = append(s.sessions, sess)
	s.selected = id
	out := sess.Clone()
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", id)
	s.publish(Change{Kind: ChangeCreated, SessionID: id, SelectedID: id})
	return out
}

// RemoveSession deletes a session. Removing the selected session selects
// the placeholder. Unknown ids are ignored.
func (s *Store) RemoveSession(id int) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("remove unknown session", "session_id", id)
		return
	}
	s.sessions = slices.Delete(s.sessions, i, i+1)
	if s.selected == id {
		s.selected = models.PlaceholderID
	}
	selected := s.selected
	s.mu.Unlock()

	s.logger.Debug("session removed", "session_id", id, "selected", selected)
	s.publish(Change{Kind: ChangeRemoved, SessionID: id, SelectedID: selected})
}

// UpdateMessages replaces a session's message sequence wholesale.
// The placeholder is never stored, so updating it is a no-op.
func (s *Store) UpdateMessages(id int, msgs []models.Message) error {
	if id == models.PlaceholderID {
		return nil
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	s.sessions[i].Messages = models.CloneMessages(msgs)
	selected := s.selected
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessages, SessionID: id, SelectedID: selected})
	return nil
}

// Subscribe returns a channel of changes and a function that cancels the
// subscription. Slow subscribers miss changes rather than block writers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 64)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if i := slices.Index(s.subscribers, ch); i >= 0 {
				s.subscribers = slices.Delete(s.subscribers, i, i+1)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
}
