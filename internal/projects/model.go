package projects

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Project is the persisted claim-map project row. The collaborator list is a
// JSON column of user identifiers; membership checks decode it on read.
type Project struct {
	ProjectID         string `gorm:"column:project_id;primaryKey;size:190;not null"`
	OwnerID           string `gorm:"column:owner_id;size:190;not null;index:idx_projects_owner"`
	Title             string `gorm:"column:title;size:512;not null"`
	Public            bool   `gorm:"column:public;not null;default:false"`
	CollaboratorsJSON string `gorm:"column:collaborators_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Collaborators decodes the stored collaborator identifiers.
func (p *Project) Collaborators() ([]string, error) {
	if strings.TrimSpace(p.CollaboratorsJSON) == "" {
		return nil, nil
	}
	var collaborators []string
	if err := json.Unmarshal([]byte(p.CollaboratorsJSON), &collaborators); err != nil {
		return nil, fmt.Errorf("projects: decode collaborators: %w", err)
	}
	return collaborators, nil
}

// setCollaborators encodes the collaborator identifiers for storage.
func (p *Project) setCollaborators(collaborators []string) error {
	if collaborators == nil {
		collaborators = []string{}
	}
	encoded, err := json.Marshal(collaborators)
	if err != nil {
		return fmt.Errorf("projects: encode collaborators: %w", err)
	}
	p.CollaboratorsJSON = string(encoded)
	return nil
}
