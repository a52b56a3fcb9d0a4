package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried in Envelope.Type. Inbound names are client intents;
// the rest are server-originated replies and broadcasts.
const (
	EventConnected = "connected"

	EventJoinProject       = "join_project"
	EventProjectJoined     = "project_joined"
	EventUserJoinedProject = "user_joined_project"
	EventLeaveProject      = "leave_project"
	EventUserLeftProject   = "user_left_project"

	EventJoinSession       = "join_session"
	EventSessionJoined     = "session_joined"
	EventUserJoinedSession = "user_joined_session"
	EventUserLeftSession   = "user_left_session"

	EventClaimEditStart        = "claim_edit_start"
	EventClaimEditConflict     = "claim_edit_conflict"
	EventClaimEditLockAcquired = "claim_edit_lock_acquired"
	EventClaimEditStarted      = "claim_edit_started"
	EventClaimEditUpdate       = "claim_edit_update"
	EventClaimEditEnd          = "claim_edit_end"
	EventClaimEditEnded        = "claim_edit_ended"
	EventClaimEditLockReleased = "claim_edit_lock_released"

	EventCursorUpdate = "cursor_update"
	EventSessionChat  = "session_chat"

	EventScreenShareStart   = "screen_share_start"
	EventScreenShareStarted = "screen_share_started"
	EventScreenShareEnd     = "screen_share_end"
	EventScreenShareEnded   = "screen_share_ended"

	EventError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	ErrorCodeNotFound           = "not_found"
	ErrorCodeAccessDenied       = "access_denied"
	ErrorCodeStorageUnavailable = "storage_unavailable"
	ErrorCodeInvalidPayload     = "invalid_payload"
)

// Envelope is the wire form of every event: a type tag plus a typed payload
// encoded as JSON. Each event name has exactly one payload struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload confirms registration to the freshly upgraded connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// JoinProjectPayload asks to enter a project room.
type JoinProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// ProjectJoinedPayload replies to a successful project join with the current
// active member user ids.
type ProjectJoinedPayload struct {
	ProjectID string   `json:"project_id"`
	Members   []string `json:"members"`
}

// ProjectPresencePayload announces a user entering or leaving a project room.
type ProjectPresencePayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

// LeaveProjectPayload asks to leave the current project room.
type LeaveProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// JoinSessionPayload asks to join an existing collaboration session.
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role,omitempty"`
}

// SessionJoinedPayload replies to a successful session join with a snapshot.
type SessionJoinedPayload struct {
	SessionID string          `json:"session_id"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// SessionPresencePayload announces a user entering or leaving a session room.
type SessionPresencePayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ClaimEditStartPayload asks to begin editing a claim.
type ClaimEditStartPayload struct {
	ClaimID string `json:"claim_id"`
}

// ClaimEditConflictPayload reports that another user holds the claim's lock.
type ClaimEditConflictPayload struct {
	ClaimID       string `json:"claim_id"`
	CurrentEditor string `json:"current_editor,omitempty"`
}

// ClaimEditLockPayload acknowledges lock acquisition or release to the caller.
type ClaimEditLockPayload struct {
	ClaimID string `json:"claim_id"`
}

// ClaimEditStartedPayload announces an edit beginning to the project room.
type ClaimEditStartedPayload struct {
	ClaimID string `json:"claim_id"`
	UserID  string `json:"user_id"`
}

// ClaimEditUpdatePayload streams one edit delta. The delta body is opaque to
// the router; only lock ownership is checked before fan-out.
type ClaimEditUpdatePayload struct {
	ClaimID string          `json:"claim_id"`
	UserID  string          `json:"user_id,omitempty"`
	Delta   json.RawMessage `json:"delta"`
}

// ClaimEditEndPayload asks to finish editing a claim.
type ClaimEditEndPayload struct {
	ClaimID string `json:"claim_id"`
	Saved   bool   `json:"saved"`
}

// ClaimEditEndedPayload announces an edit finishing to the project room.
type ClaimEditEndedPayload struct {
	ClaimID string `json:"claim_id"`
	UserID  string `json:"user_id"`
	Saved   bool   `json:"saved"`
}

// CursorUpdatePayload broadcasts a cursor or selection move. Never persisted.
type CursorUpdatePayload struct {
	ClaimID   string  `json:"claim_id,omitempty"`
	UserID    string  `json:"user_id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Selection string  `json:"selection,omitempty"`
}

// SessionChatPayload carries a chat message. Inbound only Text is set; the
// broadcast form carries the stored message fields.
type SessionChatPayload struct {
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// ScreenSharePayload announces the presenter starting or stopping.
type ScreenSharePayload struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
}

// ErrorPayload reports a failed action back to its initiator. Event names the
// inbound event that failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// NewEnvelope encodes payload under the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encode %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: encoded}, nil
}

// mustEnvelope is used for server-built payloads whose encoding cannot fail.
func mustEnvelope(eventType string, payload any) Envelope {
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		panic(err)
	}
	return envelope
}
