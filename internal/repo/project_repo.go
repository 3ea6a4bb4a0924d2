// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for projects and
// recruiter assignments.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// CreateProject inserts an active project. ErrDuplicate is returned when the
// name is taken.
func CreateProject(ctx context.Context, db *gorm.DB, name string) (*domain.Project, error) {
	p := &domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// GetProject fetches a project by ID or returns ErrNotFound.
func GetProject(ctx context.Context, db *gorm.DB, id string) (*domain.Project, error) {
	var p domain.Project
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns projects ordered by name.
func ListProjects(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Project, error) {
	q := db.WithContext(ctx).Model(&domain.Project{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []domain.Project
	err := q.Order("name ASC").Find(&out).Error
	return out, err
}

// ListProjectsForRecruiter returns the projects assigned to recruiterID,
// ordered by name.
func ListProjectsForRecruiter(ctx context.Context, db *gorm.DB, recruiterID string, activeOnly bool) ([]domain.Project, error) {
	q := db.WithContext(ctx).
		Model(&domain.Project{}).
		Joins("JOIN recruiter_projects rp ON rp.project_id = projects.id").
		Where("rp.recruiter_id = ?", recruiterID)
	if activeOnly {
		q = q.Where("projects.active = ?", true)
	}
	var out []domain.Project
	err := q.Order("projects.name ASC").Find(&out).Error
	return out, err
}

// UpdateProject applies the non-nil fields. It returns ErrNotFound when no
// row matched and ErrDuplicate on a name clash.
func UpdateProject(ctx context.Context, db *gorm.DB, id string, name *string, active *bool) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != nil {
		updates["name"] = *name
	}
	if active != nil {
		updates["active"] = *active
	}
	res := db.WithContext(ctx).Model(&domain.Project{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if IsUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignRecruiter links a recruiter to a project. Assigning an existing
// pair is a no-op.
func AssignRecruiter(ctx context.Context, db *gorm.DB, projectID, recruiterID string) error {
	rp := &domain.RecruiterProject{
		ID:          uuid.NewString(),
		RecruiterID: recruiterID,
		ProjectID:   projectID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rp).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// UnassignRecruiter removes a recruiter/project link. Removing a missing
// pair is a no-op.
func UnassignRecruiter(ctx context.Context, db *gorm.DB, projectID, recruiterID string) error {
	return db.WithContext(ctx).
		Where("project_id = ? AND recruiter_id = ?", projectID, recruiterID).
		Delete(&domain.RecruiterProject{}).Error
}

// IsAssigned reports whether recruiterID is linked to projectID.
func IsAssigned(ctx context.Context, db *gorm.DB, projectID, recruiterID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RecruiterProject{}).
		Where("project_id = ? AND recruiter_id = ?", projectID, recruiterID).
		Count(&n).Error
	return n > 0, err
}

// AssignedProjectIDs returns the IDs of every project recruiterID is
// assigned to, active or not. The slice is non-nil even when empty.
func AssignedProjectIDs(ctx context.Context, db *gorm.DB, recruiterID string) ([]string, error) {
	ids := []string{}
	err := db.WithContext(ctx).
		Model(&domain.RecruiterProject{}).
		Where("recruiter_id = ?", recruiterID).
		Order("project_id ASC").
		Pluck("project_id", &ids).Error
	return ids, err
}

// ListAssignments returns every recruiter/project pair.
func ListAssignments(ctx context.Context, db *gorm.DB) ([]domain.RecruiterProject, error) {
	var out []domain.RecruiterProject
	err := db.WithContext(ctx).Order("project_id ASC, recruiter_id ASC").Find(&out).Error
	return out, err
}
