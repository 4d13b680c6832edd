package mcp

import (
	"sort"
	"sync"
)

// SessionRegistry maps investigator IDs to MCP session IDs. Populated
// automatically when a tool call carries an investigator_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // investigatorID -> sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an investigator ID with a session ID. An existing
// mapping is overwritten (reconnect).
func (r *SessionRegistry) Register(investigatorID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[investigatorID] = sessionID
}

// SessionFor returns the session ID for the given investigator, if
// connected.
func (r *SessionRegistry) SessionFor(investigatorID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[investigatorID]
	return sid, ok
}

// Sessions returns the distinct connected session IDs, sorted.
func (r *SessionRegistry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.sessions))
	var out []string
	for _, sid := range r.sessions {
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove deletes all investigator mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, id)
		}
	}
}
