package sessions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is the in-memory collaboration session aggregate. All transition
// methods are pure state manipulation; persistence happens in Service.
type Session struct {
	ID           SessionID
	OwnerID      UserID
	ProjectID    ProjectID
	Type         SessionType
	Status       SessionStatus
	StartedAt    time.Time
	EndedAt      *time.Time
	Participants []Participant
	Activities   []Activity
	Changes      []Change
	Comm         Communication
	Metrics      Metrics
}

// NewSession creates an active session owned by ownerID, with the owner
// joined as host.
func NewSession(id SessionID, projectID ProjectID, ownerID UserID, sessionType SessionType, now time.Time) *Session {
	session := &Session{
		ID:        id,
		OwnerID:   ownerID,
		ProjectID: projectID,
		Type:      sessionType,
		Status:    SessionStatusActive,
		StartedAt: now.UTC(),
	}
	session.AddParticipant(ownerID, RoleHost, now)
	return session
}

// AddParticipant joins a user to the session, or reactivates the existing
// entry when the user was a participant before. A user never appears twice.
func (s *Session) AddParticipant(userID UserID, role ParticipantRole, now time.Time) *Participant {
	now = now.UTC()
	for index := range s.Participants {
		if s.Participants[index].UserID == userID.String() {
			participant := &s.Participants[index]
			if !participant.IsActive {
				participant.IsActive = true
				participant.JoinedAt = now
				participant.LeftAt = nil
				s.appendActivity(userID, ActionJoin, ActivityTarget{Type: "session", ID: s.ID.String()}, "", now)
			}
			return participant
		}
	}

	s.Participants = append(s.Participants, Participant{
		UserID:      userID.String(),
		Role:        role,
		JoinedAt:    now,
		IsActive:    true,
		Permissions: role.DefaultPermissions(),
	})
	s.appendActivity(userID, ActionJoin, ActivityTarget{Type: "session", ID: s.ID.String()}, "", now)
	return &s.Participants[len(s.Participants)-1]
}

// RemoveParticipant deactivates the user's participant entry and stamps the
// departure time. It is a no-op for users that never joined.
func (s *Session) RemoveParticipant(userID UserID, now time.Time) bool {
	now = now.UTC()
	for index := range s.Participants {
		if s.Participants[index].UserID != userID.String() {
			continue
		}
		participant := &s.Participants[index]
		if participant.IsActive {
			participant.IsActive = false
			leftAt := now
			participant.LeftAt = &leftAt
			s.appendActivity(userID, ActionLeave, ActivityTarget{Type: "session", ID: s.ID.String()}, "", now)
		}
		return true
	}
	return false
}

// AddActivity appends an entry to the activity log. Undoable is derived from
// the action, never supplied by the caller.
func (s *Session) AddActivity(userID UserID, action ActivityAction, target ActivityTarget, details string, now time.Time) Activity {
	return s.appendActivity(userID, action, target, details, now.UTC())
}

func (s *Session) appendActivity(userID UserID, action ActivityAction, target ActivityTarget, details string, now time.Time) Activity {
	activity := Activity{
		Timestamp: now,
		UserID:    userID.String(),
		Action:    action,
		Target:    target,
		Details:   details,
		Undoable:  action.Undoable(),
	}
	s.Activities = append(s.Activities, activity)
	return activity
}

// AddChange appends an entry to the change audit log. Entries start
// unsynchronized; a downstream reconciler flips the flag after propagation.
func (s *Session) AddChange(userID UserID, changeType ChangeType, entity ChangeEntity, before, after json.RawMessage, now time.Time) Change {
	change := Change{
		Timestamp:    now.UTC(),
		UserID:       userID.String(),
		ChangeType:   changeType,
		Entity:       entity,
		Before:       before,
		After:        after,
		Synchronized: false,
	}
	s.Changes = append(s.Changes, change)
	return change
}

// AddChatMessage trims and appends a chat message. Messages that are empty
// after trimming are dropped and ok is false.
func (s *Session) AddChatMessage(messageID string, userID UserID, text string, now time.Time) (ChatMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ChatMessage{}, false
	}
	message := ChatMessage{
		MessageID: messageID,
		UserID:    userID.String(),
		Text:      trimmed,
		SentAt:    now.UTC(),
	}
	s.Comm.Chat = append(s.Comm.Chat, message)
	return message, true
}

// SetPresenter makes userID the single active screen-share presenter.
// Last writer wins: an existing presenter is displaced without negotiation.
func (s *Session) SetPresenter(userID UserID, now time.Time) {
	since := now.UTC()
	s.Comm.Presenter = userID.String()
	s.Comm.PresenterSince = &since
}

// ClearPresenter ends the screen share when userID is the active presenter.
func (s *Session) ClearPresenter(userID UserID) bool {
	if s.Comm.Presenter != userID.String() {
		return false
	}
	s.Comm.Presenter = ""
	s.Comm.PresenterSince = nil
	return true
}

// Pause suspends an active session; Resume reverses it. Both are no-ops in
// terminal states.
func (s *Session) Pause() {
	if s.Status == SessionStatusActive {
		s.Status = SessionStatusPaused
	}
}

// Resume reactivates a paused session.
func (s *Session) Resume() {
	if s.Status == SessionStatusPaused {
		s.Status = SessionStatusActive
	}
}

// End completes the session: every active participant is forced inactive
// with their departure stamped, and the end time is recorded. Calling End
// again leaves the state unchanged in substance.
func (s *Session) End(now time.Time) {
	now = now.UTC()
	if !s.Status.IsTerminal() {
		s.Status = SessionStatusCompleted
		endedAt := now
		s.EndedAt = &endedAt
	}
	for index := range s.Participants {
		participant := &s.Participants[index]
		if participant.IsActive {
			participant.IsActive = false
			leftAt := now
			participant.LeftAt = &leftAt
		}
	}
}

// ActiveParticipants returns the currently active participants in join order.
func (s *Session) ActiveParticipants() []Participant {
	active := make([]Participant, 0, len(s.Participants))
	for _, participant := range s.Participants {
		if participant.IsActive {
			active = append(active, participant)
		}
	}
	return active
}

// FindParticipant returns the participant entry for userID, if any.
func (s *Session) FindParticipant(userID UserID) (Participant, bool) {
	for _, participant := range s.Participants {
		if participant.UserID == userID.String() {
			return participant, true
		}
	}
	return Participant{}, false
}

// RecomputeMetrics refreshes the derived summaries from the current logs.
// Productivity relates meaningful change volume to elapsed time; both scores
// are clamped to [0, 1].
func (s *Session) RecomputeMetrics(now time.Time) {
	endedAt := now.UTC()
	if s.EndedAt != nil {
		endedAt = *s.EndedAt
	}
	durationMinutes := endedAt.Sub(s.StartedAt).Minutes()
	if durationMinutes < 0 {
		durationMinutes = 0
	}

	meaningfulChanges := 0
	for _, change := range s.Changes {
		if change.ChangeType != ChangeTypeDelete {
			meaningfulChanges++
		}
	}

	productivity := 0.0
	if durationMinutes > 0 {
		productivity = clampScore(float64(meaningfulChanges) / durationMinutes * 10)
	} else if meaningfulChanges > 0 {
		productivity = 1
	}

	s.Metrics = Metrics{
		DurationMinutes:    durationMinutes,
		ProductivityScore:  productivity,
		CollaborationScore: clampScore(float64(len(s.ActiveParticipants())) / 5),
	}
}

func clampScore(value float64) float64 {
	if value > 1 {
		return 1
	}
	if value < 0 {
		return 0
	}
	return value
}

// toRecord serializes the aggregate into its persisted row form.
func (s *Session) toRecord(now time.Time) (*SessionRecord, error) {
	participantsJSON, err := marshalColumn(s.Participants, "participants")
	if err != nil {
		return nil, err
	}
	activitiesJSON, err := marshalColumn(s.Activities, "activities")
	if err != nil {
		return nil, err
	}
	changesJSON, err := marshalColumn(s.Changes, "changes")
	if err != nil {
		return nil, err
	}
	communicationJSON, err := marshalColumn(s.Comm, "communication")
	if err != nil {
		return nil, err
	}
	metricsJSON, err := marshalColumn(s.Metrics, "metrics")
	if err != nil {
		return nil, err
	}

	record := &SessionRecord{
		SessionID:         s.ID.String(),
		OwnerID:           s.OwnerID.String(),
		ProjectID:         s.ProjectID.String(),
		SessionType:       string(s.Type),
		Status:            string(s.Status),
		StartedAtSeconds:  s.StartedAt.Unix(),
		ParticipantsJSON:  participantsJSON,
		ActivitiesJSON:    activitiesJSON,
		ChangesJSON:       changesJSON,
		CommunicationJSON: communicationJSON,
		MetricsJSON:       metricsJSON,
		UpdatedAtSeconds:  now.UTC().Unix(),
	}
	if s.EndedAt != nil {
		endedAt := s.EndedAt.Unix()
		record.EndedAtSeconds = &endedAt
	}
	return record, nil
}

// fromRecord rebuilds the aggregate from its persisted row form.
func fromRecord(record *SessionRecord) (*Session, error) {
	session := &Session{
		ID:        SessionID(record.SessionID),
		OwnerID:   UserID(record.OwnerID),
		ProjectID: ProjectID(record.ProjectID),
		Type:      SessionType(record.SessionType),
		Status:    SessionStatus(record.Status),
		StartedAt: time.Unix(record.StartedAtSeconds, 0).UTC(),
	}
	if record.EndedAtSeconds != nil {
		endedAt := time.Unix(*record.EndedAtSeconds, 0).UTC()
		session.EndedAt = &endedAt
	}
	if err := unmarshalColumn(record.ParticipantsJSON, &session.Participants, "participants"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(record.ActivitiesJSON, &session.Activities, "activities"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(record.ChangesJSON, &session.Changes, "changes"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(record.CommunicationJSON, &session.Comm, "communication"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(record.MetricsJSON, &session.Metrics, "metrics"); err != nil {
		return nil, err
	}
	return session, nil
}

func marshalColumn(value any, column string) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("sessions: encode %s: %w", column, err)
	}
	return string(encoded), nil
}

func unmarshalColumn(encoded string, target any, column string) error {
	if strings.TrimSpace(encoded) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), target); err != nil {
		return fmt.Errorf("sessions: decode %s: %w", column, err)
	}
	return nil
}
