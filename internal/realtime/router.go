package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-maps/veritas/internal/presence"
	"github.com/veritas-maps/veritas/internal/projects"
	"github.com/veritas-maps/veritas/internal/sessions"
)

const claimLockResourcePrefix = "claim_edit:"

// ClaimLockResource derives the coordination resource name for a claim.
func ClaimLockResource(claimID string) string {
	return claimLockResourcePrefix + claimID
}

// LockManager is the slice of the lock manager the router drives.
type LockManager interface {
	Acquire(ctx context.Context, resource, holder string) bool
	Release(ctx context.Context, resource, holder string) bool
	Inspect(ctx context.Context, resource string) (string, bool)
}

// SessionStore is the slice of the session service the router drives.
type SessionStore interface {
	Get(ctx context.Context, sessionID sessions.SessionID) (*sessions.Session, error)
	JoinSession(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID, role sessions.ParticipantRole) (*sessions.Session, error)
	AppendChat(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID, text string) (sessions.ChatMessage, error)
	RecordChange(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID, changeType sessions.ChangeType, entity sessions.ChangeEntity, before, after json.RawMessage) (*sessions.Session, error)
	StartScreenShare(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID) (*sessions.Session, error)
	EndScreenShare(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID) (*sessions.Session, error)
	DeactivateParticipant(ctx context.Context, sessionID sessions.SessionID, userID sessions.UserID) (*sessions.Session, error)
}

// AccessChecker answers project membership questions.
type AccessChecker interface {
	CanAccess(ctx context.Context, projectID, userID string) (bool, error)
}

// RouterConfig describes the dependencies required by the event router.
type RouterConfig struct {
	Locks    LockManager
	Sessions SessionStore
	Projects AccessChecker
	Registry *presence.Registry
	Hub      *Hub
	Logger   *zap.Logger
}

// Router translates inbound client events into lock, session and presence
// operations and fans the resulting state changes out to the affected rooms.
// Inbound events for one connection are handled serially by that connection's
// read loop; the router itself holds no per-event state.
type Router struct {
	locks    LockManager
	sessions SessionStore
	projects AccessChecker
	registry *presence.Registry
	hub      *Hub
	logger   *zap.Logger
}

// NewRouter constructs a Router after validating its dependencies.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Locks == nil {
		return nil, fmt.Errorf("realtime: lock manager required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("realtime: session store required")
	}
	if cfg.Projects == nil {
		return nil, fmt.Errorf("realtime: access checker required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("realtime: presence registry required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("realtime: hub required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		locks:    cfg.Locks,
		sessions: cfg.Sessions,
		projects: cfg.Projects,
		registry: cfg.Registry,
		hub:      cfg.Hub,
		logger:   logger,
	}, nil
}

// Connect registers the authenticated connection and confirms it with a
// connected event. Callers must not deliver any other event first.
func (r *Router) Connect(subscriber Subscriber) error {
	if err := r.registry.Register(subscriber.ConnectionID(), subscriber.UserID()); err != nil {
		return err
	}
	subscriber.Deliver(mustEnvelope(EventConnected, ConnectedPayload{
		ConnectionID: subscriber.ConnectionID(),
		UserID:       subscriber.UserID(),
	}))
	return nil
}

// HandleMessage dispatches one inbound envelope. Every failure of an action
// the client initiated is answered with an explicit error event.
func (r *Router) HandleMessage(ctx context.Context, subscriber Subscriber, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		r.replyError(subscriber, "", ErrorCodeInvalidPayload, "malformed envelope")
		return
	}

	switch envelope.Type {
	case EventJoinProject:
		r.handleJoinProject(ctx, subscriber, envelope.Payload)
	case EventLeaveProject:
		r.handleLeaveProject(subscriber)
	case EventJoinSession:
		r.handleJoinSession(ctx, subscriber, envelope.Payload)
	case EventClaimEditStart:
		r.handleClaimEditStart(ctx, subscriber, envelope.Payload)
	case EventClaimEditUpdate:
		r.handleClaimEditUpdate(ctx, subscriber, envelope.Payload)
	case EventClaimEditEnd:
		r.handleClaimEditEnd(ctx, subscriber, envelope.Payload)
	case EventCursorUpdate:
		r.handleCursorUpdate(subscriber, envelope.Payload)
	case EventSessionChat:
		r.handleSessionChat(ctx, subscriber, envelope.Payload)
	case EventScreenShareStart:
		r.handleScreenShare(ctx, subscriber, true)
	case EventScreenShareEnd:
		r.handleScreenShare(ctx, subscriber, false)
	default:
		r.replyError(subscriber, envelope.Type, ErrorCodeInvalidPayload, "unknown event type")
	}
}

func (r *Router) handleJoinProject(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload JoinProjectPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ProjectID == "" {
		r.replyError(subscriber, EventJoinProject, ErrorCodeInvalidPayload, "project_id required")
		return
	}

	allowed, err := r.projects.CanAccess(ctx, payload.ProjectID, subscriber.UserID())
	if errors.Is(err, projects.ErrProjectNotFound) {
		r.replyError(subscriber, EventJoinProject, ErrorCodeNotFound, "unknown project")
		return
	}
	if err != nil {
		r.logger.Error("project access check failed", zap.Error(err), zap.String("project_id", payload.ProjectID))
		r.replyError(subscriber, EventJoinProject, ErrorCodeStorageUnavailable, "access check failed")
		return
	}
	if !allowed {
		r.replyError(subscriber, EventJoinProject, ErrorCodeAccessDenied, "not a project member")
		return
	}

	// Leaving the previous room is announced before the new join so
	// observers never see the user in two project rooms at once.
	r.leaveProjectRoom(subscriber)

	if err := r.registry.SetProjectRoom(subscriber.ConnectionID(), payload.ProjectID); err != nil {
		r.replyError(subscriber, EventJoinProject, ErrorCodeNotFound, "connection not registered")
		return
	}
	roomID := ProjectRoom(payload.ProjectID)
	r.hub.Broadcast(roomID, mustEnvelope(EventUserJoinedProject, ProjectPresencePayload{
		ProjectID: payload.ProjectID,
		UserID:    subscriber.UserID(),
	}), subscriber.ConnectionID())
	r.hub.Join(roomID, subscriber)

	subscriber.Deliver(mustEnvelope(EventProjectJoined, ProjectJoinedPayload{
		ProjectID: payload.ProjectID,
		Members:   r.hub.MemberUserIDs(roomID),
	}))
}

func (r *Router) handleLeaveProject(subscriber Subscriber) {
	r.leaveProjectRoom(subscriber)
	if err := r.registry.SetProjectRoom(subscriber.ConnectionID(), ""); err != nil {
		r.replyError(subscriber, EventLeaveProject, ErrorCodeNotFound, "connection not registered")
	}
}

func (r *Router) leaveProjectRoom(subscriber Subscriber) {
	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.ProjectID == "" {
		return
	}
	roomID := ProjectRoom(connection.ProjectID)
	r.hub.Leave(roomID, subscriber.ConnectionID())
	r.hub.Broadcast(roomID, mustEnvelope(EventUserLeftProject, ProjectPresencePayload{
		ProjectID: connection.ProjectID,
		UserID:    subscriber.UserID(),
	}), subscriber.ConnectionID())
}

func (r *Router) handleJoinSession(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload JoinSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		r.replyError(subscriber, EventJoinSession, ErrorCodeInvalidPayload, "session_id required")
		return
	}
	sessionID, err := sessions.NewSessionID(payload.SessionID)
	if err != nil {
		r.replyError(subscriber, EventJoinSession, ErrorCodeInvalidPayload, "invalid session id")
		return
	}
	userID, err := sessions.NewUserID(subscriber.UserID())
	if err != nil {
		r.replyError(subscriber, EventJoinSession, ErrorCodeInvalidPayload, "invalid user id")
		return
	}

	session, err := r.sessions.Get(ctx, sessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		r.replyError(subscriber, EventJoinSession, ErrorCodeNotFound, "unknown session")
		return
	}
	if err != nil {
		r.replyError(subscriber, EventJoinSession, ErrorCodeStorageUnavailable, "session lookup failed")
		return
	}

	if _, isParticipant := session.FindParticipant(userID); !isParticipant {
		allowed, accessErr := r.projects.CanAccess(ctx, session.ProjectID.String(), subscriber.UserID())
		if accessErr != nil && !errors.Is(accessErr, projects.ErrProjectNotFound) {
			r.replyError(subscriber, EventJoinSession, ErrorCodeStorageUnavailable, "access check failed")
			return
		}
		if accessErr != nil || !allowed {
			r.replyError(subscriber, EventJoinSession, ErrorCodeAccessDenied, "not a member of the session's project")
			return
		}
	}

	role := sessions.ParticipantRole(payload.Role)
	if role != sessions.RoleHost && role != sessions.RoleObserver {
		role = sessions.RoleParticipant
	}
	session, err = r.sessions.JoinSession(ctx, sessionID, userID, role)
	if err != nil {
		r.replyError(subscriber, EventJoinSession, ErrorCodeStorageUnavailable, "join failed")
		return
	}

	r.leaveSessionRoom(ctx, subscriber, false)

	if err := r.registry.SetSessionRoom(subscriber.ConnectionID(), payload.SessionID); err != nil {
		r.replyError(subscriber, EventJoinSession, ErrorCodeNotFound, "connection not registered")
		return
	}
	roomID := SessionRoom(payload.SessionID)
	r.hub.Broadcast(roomID, mustEnvelope(EventUserJoinedSession, SessionPresencePayload{
		SessionID: payload.SessionID,
		UserID:    subscriber.UserID(),
	}), subscriber.ConnectionID())
	r.hub.Join(roomID, subscriber)

	snapshot, err := encodeSessionSnapshot(session)
	if err != nil {
		r.logger.Error("session snapshot encode failed", zap.Error(err), zap.String("session_id", payload.SessionID))
		r.replyError(subscriber, EventJoinSession, ErrorCodeStorageUnavailable, "snapshot encode failed")
		return
	}
	subscriber.Deliver(mustEnvelope(EventSessionJoined, SessionJoinedPayload{
		SessionID: payload.SessionID,
		Snapshot:  snapshot,
	}))
}

func (r *Router) leaveSessionRoom(ctx context.Context, subscriber Subscriber, deactivate bool) {
	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.SessionID == "" {
		return
	}
	roomID := SessionRoom(connection.SessionID)
	r.hub.Leave(roomID, subscriber.ConnectionID())
	r.hub.Broadcast(roomID, mustEnvelope(EventUserLeftSession, SessionPresencePayload{
		SessionID: connection.SessionID,
		UserID:    subscriber.UserID(),
	}), subscriber.ConnectionID())
	if deactivate {
		r.deactivateParticipant(ctx, connection.SessionID, subscriber.UserID())
	}
}

func (r *Router) handleClaimEditStart(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload ClaimEditStartPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ClaimID == "" {
		r.replyError(subscriber, EventClaimEditStart, ErrorCodeInvalidPayload, "claim_id required")
		return
	}

	resource := ClaimLockResource(payload.ClaimID)
	if holder, held := r.locks.Inspect(ctx, resource); held && holder != subscriber.UserID() {
		subscriber.Deliver(mustEnvelope(EventClaimEditConflict, ClaimEditConflictPayload{
			ClaimID:       payload.ClaimID,
			CurrentEditor: holder,
		}))
		return
	}

	if !r.locks.Acquire(ctx, resource, subscriber.UserID()) {
		holder, _ := r.locks.Inspect(ctx, resource)
		subscriber.Deliver(mustEnvelope(EventClaimEditConflict, ClaimEditConflictPayload{
			ClaimID:       payload.ClaimID,
			CurrentEditor: holder,
		}))
		return
	}

	if err := r.registry.TrackLock(subscriber.ConnectionID(), resource); err != nil {
		r.locks.Release(ctx, resource, subscriber.UserID())
		r.replyError(subscriber, EventClaimEditStart, ErrorCodeNotFound, "connection not registered")
		return
	}

	r.broadcastToProjectRoom(subscriber, mustEnvelope(EventClaimEditStarted, ClaimEditStartedPayload{
		ClaimID: payload.ClaimID,
		UserID:  subscriber.UserID(),
	}))
	subscriber.Deliver(mustEnvelope(EventClaimEditLockAcquired, ClaimEditLockPayload{ClaimID: payload.ClaimID}))
}

func (r *Router) handleClaimEditUpdate(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload ClaimEditUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ClaimID == "" {
		r.replyError(subscriber, EventClaimEditUpdate, ErrorCodeInvalidPayload, "claim_id required")
		return
	}

	// Every delta is re-validated against current lock ownership; a TTL
	// expiry between deltas surfaces as a conflict here.
	resource := ClaimLockResource(payload.ClaimID)
	holder, held := r.locks.Inspect(ctx, resource)
	if !held || holder != subscriber.UserID() {
		subscriber.Deliver(mustEnvelope(EventClaimEditConflict, ClaimEditConflictPayload{
			ClaimID:       payload.ClaimID,
			CurrentEditor: holder,
		}))
		return
	}

	payload.UserID = subscriber.UserID()
	r.broadcastToProjectRoom(subscriber, mustEnvelope(EventClaimEditUpdate, payload))
}

func (r *Router) handleClaimEditEnd(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload ClaimEditEndPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ClaimID == "" {
		r.replyError(subscriber, EventClaimEditEnd, ErrorCodeInvalidPayload, "claim_id required")
		return
	}

	resource := ClaimLockResource(payload.ClaimID)
	r.locks.Release(ctx, resource, subscriber.UserID())
	r.registry.UntrackLock(subscriber.ConnectionID(), resource)

	if payload.Saved {
		r.recordClaimChange(ctx, subscriber, payload.ClaimID)
	}

	r.broadcastToProjectRoom(subscriber, mustEnvelope(EventClaimEditEnded, ClaimEditEndedPayload{
		ClaimID: payload.ClaimID,
		UserID:  subscriber.UserID(),
		Saved:   payload.Saved,
	}))
	subscriber.Deliver(mustEnvelope(EventClaimEditLockReleased, ClaimEditLockPayload{ClaimID: payload.ClaimID}))
}

// recordClaimChange appends the edit to the session change log. This is a
// secondary durability path; failures are logged and do not block teardown.
func (r *Router) recordClaimChange(ctx context.Context, subscriber Subscriber, claimID string) {
	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.SessionID == "" {
		return
	}
	sessionID, err := sessions.NewSessionID(connection.SessionID)
	if err != nil {
		return
	}
	userID, err := sessions.NewUserID(subscriber.UserID())
	if err != nil {
		return
	}
	if _, err := r.sessions.RecordChange(ctx, sessionID, userID, sessions.ChangeTypeUpdate, sessions.ChangeEntity{Type: "claim", ID: claimID}, nil, nil); err != nil {
		r.logger.Error("change log append failed", zap.Error(err),
			zap.String("session_id", connection.SessionID), zap.String("claim_id", claimID))
	}
}

func (r *Router) handleCursorUpdate(subscriber Subscriber, raw json.RawMessage) {
	var payload CursorUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.replyError(subscriber, EventCursorUpdate, ErrorCodeInvalidPayload, "malformed cursor payload")
		return
	}
	payload.UserID = subscriber.UserID()
	r.broadcastToProjectRoom(subscriber, mustEnvelope(EventCursorUpdate, payload))
}

func (r *Router) handleSessionChat(ctx context.Context, subscriber Subscriber, raw json.RawMessage) {
	var payload SessionChatPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.replyError(subscriber, EventSessionChat, ErrorCodeInvalidPayload, "malformed chat payload")
		return
	}

	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.SessionID == "" {
		r.replyError(subscriber, EventSessionChat, ErrorCodeNotFound, "not in a session")
		return
	}
	sessionID, userID, ok := r.sessionIdentifiers(subscriber, connection.SessionID, EventSessionChat)
	if !ok {
		return
	}

	message, err := r.sessions.AppendChat(ctx, sessionID, userID, payload.Text)
	if errors.Is(err, sessions.ErrEmptyChatMessage) {
		r.replyError(subscriber, EventSessionChat, ErrorCodeInvalidPayload, "empty message")
		return
	}
	if errors.Is(err, sessions.ErrSessionNotFound) {
		r.replyError(subscriber, EventSessionChat, ErrorCodeNotFound, "unknown session")
		return
	}
	if err != nil {
		r.replyError(subscriber, EventSessionChat, ErrorCodeStorageUnavailable, "chat append failed")
		return
	}

	// Chat goes to every session room member, sender included; the echoed
	// event doubles as the sender's delivery acknowledgement.
	r.hub.Broadcast(SessionRoom(connection.SessionID), mustEnvelope(EventSessionChat, SessionChatPayload{
		MessageID: message.MessageID,
		UserID:    message.UserID,
		Text:      message.Text,
		SentAt:    message.SentAt,
	}), "")
}

func (r *Router) handleScreenShare(ctx context.Context, subscriber Subscriber, start bool) {
	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.SessionID == "" {
		r.replyError(subscriber, EventScreenShareStart, ErrorCodeNotFound, "not in a session")
		return
	}
	sessionID, userID, ok := r.sessionIdentifiers(subscriber, connection.SessionID, EventScreenShareStart)
	if !ok {
		return
	}

	if start {
		if _, err := r.sessions.StartScreenShare(ctx, sessionID, userID); err != nil {
			r.replyError(subscriber, EventScreenShareStart, ErrorCodeStorageUnavailable, "screen share failed")
			return
		}
		r.hub.Broadcast(SessionRoom(connection.SessionID), mustEnvelope(EventScreenShareStarted, ScreenSharePayload{
			SessionID: connection.SessionID,
			UserID:    subscriber.UserID(),
		}), "")
		return
	}

	session, err := r.sessions.EndScreenShare(ctx, sessionID, userID)
	if err != nil {
		r.replyError(subscriber, EventScreenShareEnd, ErrorCodeStorageUnavailable, "screen share end failed")
		return
	}
	if session.Comm.Presenter != "" {
		r.replyError(subscriber, EventScreenShareEnd, ErrorCodeAccessDenied, "not the presenter")
		return
	}
	r.hub.Broadcast(SessionRoom(connection.SessionID), mustEnvelope(EventScreenShareEnded, ScreenSharePayload{
		SessionID: connection.SessionID,
		UserID:    subscriber.UserID(),
	}), "")
}

// Disconnect runs the teardown sequence for a closed connection. The four
// steps are attempted independently: a failure in one never prevents the
// later steps from running.
func (r *Router) Disconnect(ctx context.Context, connectionID string) {
	connection, found := r.registry.Remove(connectionID)
	if !found {
		return
	}

	for _, resource := range connection.LockKeys {
		if !r.locks.Release(ctx, resource, connection.UserID) {
			continue
		}
		if connection.ProjectID != "" {
			r.hub.Broadcast(ProjectRoom(connection.ProjectID),
				mustEnvelope(EventClaimEditLockReleased, ClaimEditLockPayload{ClaimID: claimIDFromResource(resource)}),
				connectionID)
		}
	}

	if connection.SessionID != "" {
		r.deactivateParticipant(ctx, connection.SessionID, connection.UserID)
		r.hub.Leave(SessionRoom(connection.SessionID), connectionID)
		r.hub.Broadcast(SessionRoom(connection.SessionID), mustEnvelope(EventUserLeftSession, SessionPresencePayload{
			SessionID: connection.SessionID,
			UserID:    connection.UserID,
		}), connectionID)
	}

	if connection.ProjectID != "" {
		r.hub.Leave(ProjectRoom(connection.ProjectID), connectionID)
		r.hub.Broadcast(ProjectRoom(connection.ProjectID), mustEnvelope(EventUserLeftProject, ProjectPresencePayload{
			ProjectID: connection.ProjectID,
			UserID:    connection.UserID,
		}), connectionID)
	}
}

func (r *Router) deactivateParticipant(ctx context.Context, rawSessionID, rawUserID string) {
	sessionID, err := sessions.NewSessionID(rawSessionID)
	if err != nil {
		return
	}
	userID, err := sessions.NewUserID(rawUserID)
	if err != nil {
		return
	}
	if _, err := r.sessions.DeactivateParticipant(ctx, sessionID, userID); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		r.logger.Error("participant deactivation failed", zap.Error(err),
			zap.String("session_id", rawSessionID), zap.String("user_id", rawUserID))
	}
}

func (r *Router) broadcastToProjectRoom(subscriber Subscriber, envelope Envelope) {
	connection, found := r.registry.Get(subscriber.ConnectionID())
	if !found || connection.ProjectID == "" {
		return
	}
	r.hub.Broadcast(ProjectRoom(connection.ProjectID), envelope, subscriber.ConnectionID())
}

func (r *Router) sessionIdentifiers(subscriber Subscriber, rawSessionID, event string) (sessions.SessionID, sessions.UserID, bool) {
	sessionID, err := sessions.NewSessionID(rawSessionID)
	if err != nil {
		r.replyError(subscriber, event, ErrorCodeInvalidPayload, "invalid session id")
		return "", "", false
	}
	userID, err := sessions.NewUserID(subscriber.UserID())
	if err != nil {
		r.replyError(subscriber, event, ErrorCodeInvalidPayload, "invalid user id")
		return "", "", false
	}
	return sessionID, userID, true
}

func (r *Router) replyError(subscriber Subscriber, event, code, message string) {
	subscriber.Deliver(mustEnvelope(EventError, ErrorPayload{
		Code:    code,
		Event:   event,
		Message: message,
	}))
}

func claimIDFromResource(resource string) string {
	if len(resource) > len(claimLockResourcePrefix) && resource[:len(claimLockResourcePrefix)] == claimLockResourcePrefix {
		return resource[len(claimLockResourcePrefix):]
	}
	return resource
}

type sessionSnapshot struct {
	SessionID    string                 `json:"session_id"`
	ProjectID    string                 `json:"project_id"`
	OwnerID      string                 `json:"owner_id"`
	SessionType  sessions.SessionType   `json:"session_type"`
	Status       sessions.SessionStatus `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	Participants []sessions.Participant `json:"participants"`
	Comm         sessions.Communication `json:"communication"`
	Metrics      sessions.Metrics       `json:"metrics"`
}

func encodeSessionSnapshot(session *sessions.Session) (json.RawMessage, error) {
	return json.Marshal(sessionSnapshot{
		SessionID:    session.ID.String(),
		ProjectID:    session.ProjectID.String(),
		OwnerID:      session.OwnerID.String(),
		SessionType:  session.Type,
		Status:       session.Status,
		StartedAt:    session.StartedAt,
		EndedAt:      session.EndedAt,
		Participants: session.Participants,
		Comm:         session.Comm,
		Metrics:      session.Metrics,
	})
}
