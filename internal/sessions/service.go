package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrEmptyChatMessage indicates a chat message was empty after trimming.
	ErrEmptyChatMessage = errors.New("sessions: empty chat message")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "sessions.service.new"
	opJoinProject      = "sessions.join_project"
	opJoinSession      = "sessions.join_session"
	opLeaveSession     = "sessions.leave_session"
	opRecordActivity   = "sessions.record_activity"
	opRecordChange     = "sessions.record_change"
	opAppendChat       = "sessions.append_chat"
	opScreenShare      = "sessions.screen_share"
	opEndSession       = "sessions.end_session"
	opGetSession       = "sessions.get_session"
	opDeactivateMember = "sessions.deactivate_member"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the session service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// IDProvider issues identifiers for sessions and chat messages.
type IDProvider interface {
	NewID() (string, error)
}

// Service persists the session state machine. Derived metrics are recomputed
// on every persist, so stored rows always carry fresh summaries.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs a Service after validating its dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// JoinProject joins userID to the project's active collaborative session,
// creating the session on the first join request for the project.
func (s *Service) JoinProject(ctx context.Context, projectID ProjectID, userID UserID) (*Session, error) {
	var joined *Session
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record SessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("project_id = ? AND status = ? AND session_type = ?",
				projectID.String(), string(SessionStatusActive), string(SessionTypeCollaborative)).
			Order("started_at_s ASC").
			Take(&record).Error

		now := s.clock().UTC()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sessionID, idErr := s.idProvider.NewID()
			if idErr != nil {
				return newServiceError(opJoinProject, "id_generation_failed", idErr)
			}
			joined = NewSession(SessionID(sessionID), projectID, userID, SessionTypeCollaborative, now)
			return s.insert(tx, joined, now, opJoinProject)
		}
		if err != nil {
			return newServiceError(opJoinProject, "session_select_failed", err)
		}

		session, err := fromRecord(&record)
		if err != nil {
			return newServiceError(opJoinProject, "session_decode_failed", err)
		}
		session.AddParticipant(userID, RoleParticipant, now)
		joined = session
		return s.save(tx, session, now, opJoinProject)
	})
	if txErr != nil {
		s.logError(opJoinProject, txErr,
			zap.String("project_id", projectID.String()),
			zap.String("user_id", userID.String()))
		return nil, txErr
	}
	return joined, nil
}

// JoinSession adds userID to an existing session as role. Completed sessions
// still accept new observers; their status is not reopened.
func (s *Service) JoinSession(ctx context.Context, sessionID SessionID, userID UserID, role ParticipantRole) (*Session, error) {
	return s.mutate(ctx, sessionID, opJoinSession, func(session *Session, now time.Time) error {
		session.AddParticipant(userID, role, now)
		return nil
	})
}

// LeaveSession deactivates userID's participant entry.
func (s *Service) LeaveSession(ctx context.Context, sessionID SessionID, userID UserID) (*Session, error) {
	return s.mutate(ctx, sessionID, opLeaveSession, func(session *Session, now time.Time) error {
		session.RemoveParticipant(userID, now)
		return nil
	})
}

// RecordActivity appends an activity log entry.
func (s *Service) RecordActivity(ctx context.Context, sessionID SessionID, userID UserID, action ActivityAction, target ActivityTarget, details string) (*Session, error) {
	return s.mutate(ctx, sessionID, opRecordActivity, func(session *Session, now time.Time) error {
		session.AddActivity(userID, action, target, details, now)
		return nil
	})
}

// RecordChange appends a change audit entry.
func (s *Service) RecordChange(ctx context.Context, sessionID SessionID, userID UserID, changeType ChangeType, entity ChangeEntity, before, after json.RawMessage) (*Session, error) {
	return s.mutate(ctx, sessionID, opRecordChange, func(session *Session, now time.Time) error {
		session.AddChange(userID, changeType, entity, before, after, now)
		return nil
	})
}

// AppendChat trims and stores a chat message, returning the stored form.
func (s *Service) AppendChat(ctx context.Context, sessionID SessionID, userID UserID, text string) (ChatMessage, error) {
	var stored ChatMessage
	_, err := s.mutate(ctx, sessionID, opAppendChat, func(session *Session, now time.Time) error {
		messageID, idErr := s.idProvider.NewID()
		if idErr != nil {
			return newServiceError(opAppendChat, "id_generation_failed", idErr)
		}
		message, ok := session.AddChatMessage(messageID, userID, text, now)
		if !ok {
			return newServiceError(opAppendChat, "empty_message", ErrEmptyChatMessage)
		}
		stored = message
		return nil
	})
	if err != nil {
		return ChatMessage{}, err
	}
	return stored, nil
}

// StartScreenShare makes userID the session's presenter (last writer wins).
func (s *Service) StartScreenShare(ctx context.Context, sessionID SessionID, userID UserID) (*Session, error) {
	return s.mutate(ctx, sessionID, opScreenShare, func(session *Session, now time.Time) error {
		session.SetPresenter(userID, now)
		return nil
	})
}

// EndScreenShare clears the presenter when userID currently presents.
func (s *Service) EndScreenShare(ctx context.Context, sessionID SessionID, userID UserID) (*Session, error) {
	return s.mutate(ctx, sessionID, opScreenShare, func(session *Session, _ time.Time) error {
		session.ClearPresenter(userID)
		return nil
	})
}

// EndSession completes the session and deactivates every participant.
func (s *Service) EndSession(ctx context.Context, sessionID SessionID) (*Session, error) {
	return s.mutate(ctx, sessionID, opEndSession, func(session *Session, now time.Time) error {
		session.End(now)
		return nil
	})
}

// DeactivateParticipant is the disconnect-time variant of LeaveSession; it
// exists so the cleanup path reads separately in logs.
func (s *Service) DeactivateParticipant(ctx context.Context, sessionID SessionID, userID UserID) (*Session, error) {
	return s.mutate(ctx, sessionID, opDeactivateMember, func(session *Session, now time.Time) error {
		session.RemoveParticipant(userID, now)
		return nil
	})
}

// Get loads a session by identifier.
func (s *Service) Get(ctx context.Context, sessionID SessionID) (*Session, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.logError(opGetSession, err, zap.String("session_id", sessionID.String()))
		return nil, newServiceError(opGetSession, "session_select_failed", err)
	}
	session, err := fromRecord(&record)
	if err != nil {
		return nil, newServiceError(opGetSession, "session_decode_failed", err)
	}
	return session, nil
}

// mutate loads the session under a row lock, applies fn, recomputes metrics
// and saves the result.
func (s *Service) mutate(ctx context.Context, sessionID SessionID, operation string, fn func(*Session, time.Time) error) (*Session, error) {
	var mutated *Session
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record SessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID.String()).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return newServiceError(operation, "session_select_failed", err)
		}

		session, err := fromRecord(&record)
		if err != nil {
			return newServiceError(operation, "session_decode_failed", err)
		}

		now := s.clock().UTC()
		if err := fn(session, now); err != nil {
			return err
		}
		mutated = session
		return s.save(tx, session, now, operation)
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrSessionNotFound) && !errors.Is(txErr, ErrEmptyChatMessage) {
			s.logError(operation, txErr, zap.String("session_id", sessionID.String()))
		}
		return nil, txErr
	}
	return mutated, nil
}

func (s *Service) insert(tx *gorm.DB, session *Session, now time.Time, operation string) error {
	session.RecomputeMetrics(now)
	record, err := session.toRecord(now)
	if err != nil {
		return newServiceError(operation, "session_encode_failed", err)
	}
	if err := tx.Create(record).Error; err != nil {
		return newServiceError(operation, "session_insert_failed", err)
	}
	return nil
}

func (s *Service) save(tx *gorm.DB, session *Session, now time.Time, operation string) error {
	session.RecomputeMetrics(now)
	record, err := session.toRecord(now)
	if err != nil {
		return newServiceError(operation, "session_encode_failed", err)
	}
	if err := tx.Save(record).Error; err != nil {
		return newServiceError(operation, "session_save_failed", err)
	}
	return nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation)}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("session service error", attrs...)
}
