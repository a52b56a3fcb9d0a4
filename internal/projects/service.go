package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrProjectNotFound indicates the referenced project does not exist.
	ErrProjectNotFound = errors.New("projects: project not found")
	// ErrInvalidProject indicates a create request was missing required fields.
	ErrInvalidProject = errors.New("projects: invalid project")
)

// ServiceConfig describes the dependencies required for project access checks.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages project rows and answers membership questions for the
// realtime layer.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("projects: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Create persists a new project owned by ownerID.
func (s *Service) Create(ctx context.Context, projectID, ownerID, title string, public bool, collaborators []string) (*Project, error) {
	if projectID == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: project and owner identifiers required", ErrInvalidProject)
	}
	now := s.now().UTC().Unix()
	project := &Project{
		ProjectID:        projectID,
		OwnerID:          ownerID,
		Title:            title,
		Public:           public,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := project.setCollaborators(collaborators); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("projects: create: %w", err)
	}
	return project, nil
}

// Get loads a project by identifier.
func (s *Service) Get(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("projects: select: %w", err)
	}
	return &project, nil
}

// CanAccess reports whether userID may enter the project: owners,
// collaborators and anyone on public projects are admitted.
func (s *Service) CanAccess(ctx context.Context, projectID, userID string) (bool, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project.Public || project.OwnerID == userID {
		return true, nil
	}
	collaborators, err := project.Collaborators()
	if err != nil {
		return false, err
	}
	for _, collaborator := range collaborators {
		if collaborator == userID {
			return true, nil
		}
	}
	return false, nil
}

// AddCollaborator grants userID access to the project.
func (s *Service) AddCollaborator(ctx context.Context, projectID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project Project
		err := tx.Where("project_id = ?", projectID).Take(&project).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return fmt.Errorf("projects: select: %w", err)
		}
		collaborators, err := project.Collaborators()
		if err != nil {
			return err
		}
		for _, collaborator := range collaborators {
			if collaborator == userID {
				return nil
			}
		}
		if err := project.setCollaborators(append(collaborators, userID)); err != nil {
			return err
		}
		project.UpdatedAtSeconds = s.now().UTC().Unix()
		if err := tx.Save(&project).Error; err != nil {
			return fmt.Errorf("projects: save: %w", err)
		}
		return nil
	})
}
