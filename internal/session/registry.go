package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// InvalidTransitionError is returned when a state change is attempted that
// the forward-only lifecycle does not allow.
type InvalidTransitionError struct {
	ID   string
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot go from %s to %s", e.ID, e.From, e.To)
}

// Registry maps session ids to Sessions. It is shared between the request
// handlers and each run's completion path, so every operation takes the
// lock; reads hand out copies so callers never observe a half-updated
// Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new Session in the created state and returns its id.
func (r *Registry) Create(input Input) string {
	s := &Session{
		ID:        uuid.NewString(),
		Input:     input,
		State:     Created,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return s.ID
}

// Get returns a copy of the session, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// All returns copies of every session, for the observability endpoint.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// MarkProcessing moves a created session into processing.
func (r *Registry) MarkProcessing(id string) error {
	return r.transition(id, Processing, func(s *Session) {})
}

// MarkReady moves a processing session into ready and stores the engine
// handle. It is the only call that sets the handle; calling it twice, or
// from any state but processing, fails without touching the stored handle.
func (r *Registry) MarkReady(id string, handle any) error {
	return r.transition(id, Ready, func(s *Session) {
		s.Handle = handle
	})
}

// MarkFailed moves a session into failed with a human-readable reason. Legal
// from created (spawn failures) and processing; a no-op error from terminal
// states.
func (r *Registry) MarkFailed(id, reason string) error {
	return r.transition(id, Failed, func(s *Session) {
		s.Reason = reason
	})
}

// SetTranscript records the retained output of the session's most recent
// run. Called by the run's completion path before the terminal transition.
func (r *Registry) SetTranscript(id string, lines []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Transcript = make([]string, len(lines))
	copy(s.Transcript, lines)
	return nil
}

// IsReady reports whether the session exists and is ready to serve queries.
func (r *Registry) IsReady(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.State == Ready
}

func (r *Registry) transition(id string, to State, apply func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !legalTransition(s.State, to) {
		return &InvalidTransitionError{ID: id, From: s.State, To: to}
	}

	s.State = to
	apply(s)
	return nil
}

func legalTransition(from, to State) bool {
	switch to {
	case Processing:
		return from == Created
	case Ready:
		return from == Processing
	case Failed:
		return from == Created || from == Processing
	default:
		return false
	}
}
