package session

import (
	"sync"

	"github.com/agorai/agorai/internal/store"
)

// state is a session's position in the Uninitialized -> Initialized ->
// Closed lifecycle. Closed sessions are removed from the Manager's map
// entirely rather than kept around in a terminal state, so a lookup
// failure and "the session was closed" collapse into the same
// "Session not found" signal the spec requires.
type state int

const (
	stateUninitialized state = iota
	stateInitialized
)

// Session is one authenticated mcp-session-id's server-side state: the
// agent identity resolved at initialize, the lifecycle state, and the
// Event Bus watchers feeding its SSE stream (if one is open).
type Session struct {
	ID        string
	AgentID   string
	AgentName string
	Clearance store.Clearance

	mu       sync.Mutex
	st       state
	streamer *streamer // non-nil while a GET /mcp SSE stream is attached
}

func newSession(id, agentID, agentName string, clearance store.Clearance) *Session {
	return &Session{ID: id, AgentID: agentID, AgentName: agentName, Clearance: clearance, st: stateUninitialized}
}

// MarkInitialized transitions the session past its one required
// initialize call. Calling it more than once is harmless.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	s.st = stateInitialized
	s.mu.Unlock()
}

// Initialized reports whether the session has completed initialize.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateInitialized
}

func (s *Session) attachStreamer(st *streamer) {
	s.mu.Lock()
	prev := s.streamer
	s.streamer = st
	s.mu.Unlock()
	if prev != nil {
		prev.stop()
	}
}

func (s *Session) detachStreamer(st *streamer) {
	s.mu.Lock()
	if s.streamer == st {
		s.streamer = nil
	}
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.mu.Lock()
	st := s.streamer
	s.streamer = nil
	s.mu.Unlock()
	if st != nil {
		st.stop()
	}
}
