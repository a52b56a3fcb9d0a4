package presence

import (
	"errors"
	"sync"
)

var (
	// ErrConnectionNotFound indicates the connection is not registered.
	ErrConnectionNotFound = errors.New("presence: connection not found")
	// ErrConnectionExists indicates a duplicate registration attempt.
	ErrConnectionExists = errors.New("presence: connection already registered")
)

// Connection is the tracked state of one live websocket connection. A
// connection belongs to at most one project room and one session room at a
// time; LockKeys is the reverse index of coordination keys the connection
// currently holds, consulted at disconnect so locks can be released without
// scanning the lock store.
type Connection struct {
	ConnectionID string
	UserID       string
	ProjectID    string
	SessionID    string
	LockKeys     []string
}

type connectionState struct {
	userID    string
	projectID string
	sessionID string
	lockKeys  map[string]struct{}
}

// Registry tracks live connections and their room membership. All methods are
// safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connectionState
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*connectionState)}
}

// Register records a new connection for userID.
func (r *Registry) Register(connectionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[connectionID]; exists {
		return ErrConnectionExists
	}
	r.connections[connectionID] = &connectionState{
		userID:   userID,
		lockKeys: make(map[string]struct{}),
	}
	return nil
}

// SetProjectRoom moves the connection into projectID's room, replacing any
// previous project membership. An empty projectID leaves the room.
func (r *Registry) SetProjectRoom(connectionID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.connections[connectionID]
	if !exists {
		return ErrConnectionNotFound
	}
	state.projectID = projectID
	return nil
}

// SetSessionRoom moves the connection into sessionID's room, replacing any
// previous session membership. An empty sessionID leaves the room.
func (r *Registry) SetSessionRoom(connectionID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.connections[connectionID]
	if !exists {
		return ErrConnectionNotFound
	}
	state.sessionID = sessionID
	return nil
}

// TrackLock records that the connection holds the coordination key.
func (r *Registry) TrackLock(connectionID, lockKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.connections[connectionID]
	if !exists {
		return ErrConnectionNotFound
	}
	state.lockKeys[lockKey] = struct{}{}
	return nil
}

// UntrackLock removes the coordination key from the connection's holdings.
// Untracking a key that was never tracked is a no-op.
func (r *Registry) UntrackLock(connectionID, lockKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, exists := r.connections[connectionID]; exists {
		delete(state.lockKeys, lockKey)
	}
}

// Get returns a snapshot of the connection's current state.
func (r *Registry) Get(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, exists := r.connections[connectionID]
	if !exists {
		return Connection{}, false
	}
	return snapshot(connectionID, state), true
}

// Remove deregisters the connection and returns its final state, so the
// caller can run disconnect cleanup against the returned snapshot.
func (r *Registry) Remove(connectionID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.connections[connectionID]
	if !exists {
		return Connection{}, false
	}
	delete(r.connections, connectionID)
	return snapshot(connectionID, state), true
}

// ProjectMembers returns the connection identifiers currently in the
// project's room.
func (r *Registry) ProjectMembers(projectID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := []string{}
	for connectionID, state := range r.connections {
		if state.projectID == projectID {
			members = append(members, connectionID)
		}
	}
	return members
}

// SessionMembers returns the connection identifiers currently in the
// session's room.
func (r *Registry) SessionMembers(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := []string{}
	for connectionID, state := range r.connections {
		if state.sessionID == sessionID {
			members = append(members, connectionID)
		}
	}
	return members
}

// Size reports the number of registered connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func snapshot(connectionID string, state *connectionState) Connection {
	lockKeys := make([]string, 0, len(state.lockKeys))
	for key := range state.lockKeys {
		lockKeys = append(lockKeys, key)
	}
	return Connection{
		ConnectionID: connectionID,
		UserID:       state.userID,
		ProjectID:    state.projectID,
		SessionID:    state.sessionID,
		LockKeys:     lockKeys,
	}
}
