package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSessionID indicates that a session identifier is empty or exceeds storage bounds.
	ErrInvalidSessionID = errors.New("sessions: invalid session id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("sessions: invalid user id")
	// ErrInvalidProjectID indicates that a project identifier is empty or exceeds storage bounds.
	ErrInvalidProjectID = errors.New("sessions: invalid project id")
)

// SessionID represents a validated session identifier.
type SessionID string

// NewSessionID validates raw input and returns a SessionID.
func NewSessionID(rawInput string) (SessionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSessionID, maxIdentifierLength)
	}
	return SessionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SessionID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ProjectID represents a validated project identifier.
type ProjectID string

// NewProjectID validates raw input and returns a ProjectID.
func NewProjectID(rawInput string) (ProjectID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidProjectID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidProjectID, maxIdentifierLength)
	}
	return ProjectID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ProjectID) String() string {
	return string(id)
}

// SessionType enumerates supported collaboration session kinds.
type SessionType string

const (
	SessionTypeCollaborative SessionType = "collaborative"
	SessionTypeIndividual    SessionType = "individual"
	SessionTypeReview        SessionType = "review"
	SessionTypeAnalysis      SessionType = "analysis"
)

// SessionStatus enumerates the lifecycle states of a session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTerminated SessionStatus = "terminated"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTerminated
}

// ParticipantRole enumerates the roles a session participant can hold.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
	RoleObserver    ParticipantRole = "observer"
)

// DefaultPermissions derives the permission set granted when a participant
// joins with this role. Observers cannot edit; hosts may present and moderate.
func (r ParticipantRole) DefaultPermissions() Permissions {
	switch r {
	case RoleHost:
		return Permissions{CanEdit: true, CanComment: true, CanPresent: true, CanModerate: true}
	case RoleObserver:
		return Permissions{CanEdit: false, CanComment: true, CanPresent: false, CanModerate: false}
	default:
		return Permissions{CanEdit: true, CanComment: true, CanPresent: false, CanModerate: false}
	}
}

// Permissions captures what a participant may do within a session.
type Permissions struct {
	CanEdit     bool `json:"can_edit"`
	CanComment  bool `json:"can_comment"`
	CanPresent  bool `json:"can_present"`
	CanModerate bool `json:"can_moderate"`
}

// Participant is one member of a session. A user appears at most once in the
// participant list; rejoining reactivates the existing entry.
type Participant struct {
	UserID      string          `json:"user_id"`
	Role        ParticipantRole `json:"role"`
	JoinedAt    time.Time       `json:"joined_at"`
	LeftAt      *time.Time      `json:"left_at,omitempty"`
	IsActive    bool            `json:"is_active"`
	Permissions Permissions     `json:"permissions"`
}

// ActivityAction enumerates the recordable participant actions.
type ActivityAction string

const (
	ActionJoin            ActivityAction = "join"
	ActionLeave           ActivityAction = "leave"
	ActionEditClaim       ActivityAction = "edit_claim"
	ActionAddEvidence     ActivityAction = "add_evidence"
	ActionCreateReasoning ActivityAction = "create_reasoning"
	ActionComment         ActivityAction = "comment"
	ActionReview          ActivityAction = "review"
	ActionVote            ActivityAction = "vote"
)

// Undoable reports whether the action supports undo.
func (a ActivityAction) Undoable() bool {
	switch a {
	case ActionEditClaim, ActionAddEvidence, ActionCreateReasoning:
		return true
	default:
		return false
	}
}

// ActivityTarget names the entity an activity acted upon.
type ActivityTarget struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Activity is one entry of the append-only activity log. Entries are never
// mutated or reordered after insertion; insertion order is the causal order
// of events within the session.
type Activity struct {
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Action    ActivityAction `json:"action"`
	Target    ActivityTarget `json:"target"`
	Details   string         `json:"details,omitempty"`
	Undoable  bool           `json:"undoable"`
}

// ChangeType enumerates entries of the change audit log.
type ChangeType string

const (
	ChangeTypeCreate  ChangeType = "create"
	ChangeTypeUpdate  ChangeType = "update"
	ChangeTypeDelete  ChangeType = "delete"
	ChangeTypeRestore ChangeType = "restore"
)

// ChangeEntity names the entity a change applied to.
type ChangeEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Change is one entry of the append-only change log, used for conflict
// auditing rather than real-time transport. A downstream reconciler marks
// entries synchronized after durable propagation; entries are always
// appended with Synchronized=false.
type Change struct {
	Timestamp    time.Time       `json:"timestamp"`
	UserID       string          `json:"user_id"`
	ChangeType   ChangeType      `json:"change_type"`
	Entity       ChangeEntity    `json:"entity"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Synchronized bool            `json:"synchronized"`
}

// ChatMessage is one durable chat entry.
type ChatMessage struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Communication bundles chat history, voice-call state and the single active
// screen-share presenter (last writer wins on the presenter field).
type Communication struct {
	Chat            []ChatMessage `json:"chat"`
	VoiceCallActive bool          `json:"voice_call_active"`
	Presenter       string        `json:"presenter,omitempty"`
	PresenterSince  *time.Time    `json:"presenter_since,omitempty"`
}

// Metrics carries derived scalar summaries recomputed on every persist. They
// are observational only and never feed a control decision.
type Metrics struct {
	DurationMinutes    float64 `json:"duration_minutes"`
	ProductivityScore  float64 `json:"productivity_score"`
	CollaborationScore float64 `json:"collaboration_score"`
}

// SessionRecord is the persisted session row. The nested collections are
// stored as JSON columns, mirroring the upstream document layout.
type SessionRecord struct {
	SessionID         string `gorm:"column:session_id;primaryKey;size:190;not null"`
	OwnerID           string `gorm:"column:owner_id;size:190;not null"`
	ProjectID         string `gorm:"column:project_id;size:190;not null;index:idx_sessions_project_status,priority:1"`
	SessionType       string `gorm:"column:session_type;size:32;not null"`
	Status            string `gorm:"column:status;size:32;not null;index:idx_sessions_project_status,priority:2"`
	StartedAtSeconds  int64  `gorm:"column:started_at_s;not null"`
	EndedAtSeconds    *int64 `gorm:"column:ended_at_s"`
	ParticipantsJSON  string `gorm:"column:participants_json;type:text;not null"`
	ActivitiesJSON    string `gorm:"column:activities_json;type:text;not null"`
	ChangesJSON       string `gorm:"column:changes_json;type:text;not null"`
	CommunicationJSON string `gorm:"column:communication_json;type:text;not null"`
	MetricsJSON       string `gorm:"column:metrics_json;type:text;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SessionRecord) TableName() string {
	return "collab_sessions"
}
