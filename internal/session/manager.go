package session

import (
	"sync"

	"github.com/agorai/agorai/internal/id"
	"github.com/agorai/agorai/internal/store"
)

// Manager owns every live Session, keyed by mcp-session-id. A session
// absent from the map is indistinguishable to callers from one that
// was explicitly closed — both answer "Session not found".
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty, ready-to-use Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create allocates a new session id and registers a Session for it in
// state Uninitialized.
func (m *Manager) Create(agentID, agentName string, clearance store.Clearance) *Session {
	s := newSession(id.Generate(), agentID, agentName, clearance)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by id. ok is false for both an unknown id and
// one that was previously closed.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Close tears down and removes a session, releasing its SSE streamer
// (if any). Best-effort: an unknown id is a no-op, matching the
// client's DELETE semantics ("client may ignore errors").
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		s.teardown()
	}
}

// Count reports the number of live sessions, for diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
