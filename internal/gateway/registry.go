package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one live proxied websocket session: the client connection, the
// upstream connection and the handle stopping the renewal loop. Sessions
// are created and destroyed only by the SessionGateway.
type Session struct {
	ID       string
	Client   *websocket.Conn
	Upstream *websocket.Conn

	stopRenewal chan struct{}
	closeOnce   sync.Once

	// writeMu serializes writes to the client connection: the relay loop,
	// the renewal loop and settlement messages all write to it.
	writeMu sync.Mutex
}

// Registry tracks live sessions keyed by resource identifier. It is the
// only state shared across sessions and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a session, replacing any previous entry for the same id.
// The replaced session, if any, is returned so the caller can log it.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[s.ID]
	r.sessions[s.ID] = s
	return prev
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove deletes the entry for id if it still points at s. A session that
// was already replaced must not remove its successor.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
