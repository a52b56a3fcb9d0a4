package realtime

import "sync"

// Subscriber is one deliverable endpoint of the hub, usually a websocket
// client. Deliver must not block; slow endpoints drop rather than stall the
// room.
type Subscriber interface {
	ConnectionID() string
	UserID() string
	Deliver(envelope Envelope)
}

// Room identifiers are namespaced so project and session rooms never collide.
func ProjectRoom(projectID string) string { return "project:" + projectID }
func SessionRoom(sessionID string) string { return "session:" + sessionID }

type room struct {
	mu      sync.Mutex
	members map[string]Subscriber
}

// Hub groups subscribers into rooms and fans envelopes out to them. Each room
// serializes its broadcasts: the room lock is held while every member is
// enqueued, so all members observe the same delivery order for that room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join adds the subscriber to the room, creating the room on first join.
func (h *Hub) Join(roomID string, subscriber Subscriber) {
	h.mu.Lock()
	target, exists := h.rooms[roomID]
	if !exists {
		target = &room{members: make(map[string]Subscriber)}
		h.rooms[roomID] = target
	}
	h.mu.Unlock()

	target.mu.Lock()
	target.members[subscriber.ConnectionID()] = subscriber
	target.mu.Unlock()
}

// Leave removes the connection from the room, dropping the room when it
// empties.
func (h *Hub) Leave(roomID, connectionID string) {
	h.mu.Lock()
	target, exists := h.rooms[roomID]
	if !exists {
		h.mu.Unlock()
		return
	}
	target.mu.Lock()
	delete(target.members, connectionID)
	empty := len(target.members) == 0
	target.mu.Unlock()
	if empty {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
}

// Broadcast enqueues the envelope to every room member except excludeID.
// Pass an empty excludeID to include every member.
func (h *Hub) Broadcast(roomID string, envelope Envelope, excludeID string) {
	h.mu.RLock()
	target, exists := h.rooms[roomID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	for connectionID, subscriber := range target.members {
		if connectionID == excludeID {
			continue
		}
		subscriber.Deliver(envelope)
	}
}

// MemberUserIDs returns the user ids currently subscribed to the room.
func (h *Hub) MemberUserIDs(roomID string) []string {
	h.mu.RLock()
	target, exists := h.rooms[roomID]
	h.mu.RUnlock()
	if !exists {
		return []string{}
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	userIDs := make([]string, 0, len(target.members))
	for _, subscriber := range target.members {
		userIDs = append(userIDs, subscriber.UserID())
	}
	return userIDs
}
