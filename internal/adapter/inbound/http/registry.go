package http

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrCapacityReached is returned by Admit when the registry is full.
var ErrCapacityReached = errors.New("connection limit reached")

// ErrSessionNotFound is reported when a message names a session that is not open.
var ErrSessionNotFound = errors.New("session not found")

// ErrShuttingDown is returned by Admit once CloseAll has begun.
var ErrShuttingDown = errors.New("server shutting down")

// ErrDuplicateSession is returned by Admit when the identifier is already open.
var ErrDuplicateSession = errors.New("session id already registered")

// StreamSession is an open streaming session as seen by the registry.
type StreamSession interface {
	// SessionID returns the server-issued identifier.
	SessionID() string

	// HandleMessage delivers one client message posted for this session and
	// writes the HTTP reply.
	HandleMessage(w http.ResponseWriter, r *http.Request)

	// Close closes the session. Safe to call more than once.
	Close() error
}

// SessionRegistry holds the open streaming sessions keyed by session ID.
// It is the only shared mutable state of the HTTP transport; all access goes
// through Admit, Get, Remove, Len and CloseAll.
//
// CloseAll is terminal: from the moment it starts, Admit refuses every new
// session, so a request already past the security gate cannot slip in
// behind the sweep.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]StreamSession
	closing  bool
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]StreamSession),
	}
}

// Admit inserts s unless the registry already holds limit sessions. The
// capacity check and the insert happen under one lock so concurrent opens
// can never overshoot the limit.
func (r *SessionRegistry) Admit(s StreamSession, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return ErrShuttingDown
	}
	if len(r.sessions) >= limit {
		return ErrCapacityReached
	}
	id := s.SessionID()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.sessions[id] = s
	return nil
}

// Get looks up an open session.
func (r *SessionRegistry) Get(id string) (StreamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id if present and reports whether it was. Removing an
// absent id is a no-op.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Closing reports whether CloseAll has begun.
func (r *SessionRegistry) Closing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll stops admissions, closes every registered session and then
// clears the registry. Every close is attempted even if earlier ones fail;
// the failures are returned joined. The registry is empty afterwards
// regardless.
func (r *SessionRegistry) CloseAll() error {
	// Snapshot under the same lock that stops admissions, so every session
	// is either in the snapshot or refused. Close fires the session's close
	// hook, which calls Remove and needs the lock.
	r.mu.Lock()
	r.closing = true
	snapshot := make([]StreamSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range snapshot {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.SessionID(), err))
		}
	}

	r.mu.Lock()
	clear(r.sessions)
	r.mu.Unlock()

	return errors.Join(errs...)
}
