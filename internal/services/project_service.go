// Package services – ProjectService
//
// Projects are created and managed by admins. Recruiters only see the
// active projects they are assigned to, and can only file visits for those.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// ProjectService coordinates projects and recruiter assignments.
type ProjectService struct {
	DB *gorm.DB
}

// List returns the projects visible to sess. Admins get every project, or
// only active ones when activeOnly is set; recruiters get their active
// assigned projects.
func (s *ProjectService) List(ctx context.Context, sess *session.Session, activeOnly bool) ([]domain.Project, error) {
	tr := otel.Tracer("services/ProjectService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.Bool("active_only", activeOnly)))
	defer span.End()

	if sess == nil {
		return nil, session.ErrNoSession
	}
	if sess.IsAdmin() {
		return repo.ListProjects(ctx, s.DB, activeOnly)
	}
	return repo.ListProjectsForRecruiter(ctx, s.DB, sess.UserID, true)
}

// Create adds an active project. The name is trimmed and must be unique.
func (s *ProjectService) Create(ctx context.Context, sess *session.Session, name string) (*domain.Project, error) {
	tr := otel.Tracer("services/ProjectService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Fields: []string{"name"}}
	}
	p, err := repo.CreateProject(ctx, s.DB, name)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrProjectExists
	}
	return p, err
}

// Update renames and/or (de)activates a project.
func (s *ProjectService) Update(ctx context.Context, sess *session.Session, id string, name *string, active *bool) (*domain.Project, error) {
	tr := otel.Tracer("services/ProjectService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("project.id", id)))
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, &ValidationError{Fields: []string{"name"}}
		}
		name = &n
	}
	if err := repo.UpdateProject(ctx, s.DB, id, name, active); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrProjectNotFound
		case errors.Is(err, repo.ErrDuplicate):
			return nil, ErrProjectExists
		}
		return nil, err
	}
	return repo.GetProject(ctx, s.DB, id)
}

// Assign links recruiterID to projectID. Repeating it is a no-op.
func (s *ProjectService) Assign(ctx context.Context, sess *session.Session, projectID, recruiterID string) error {
	tr := otel.Tracer("services/ProjectService")
	ctx, span := tr.Start(ctx, "Assign",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("recruiter.id", recruiterID),
		),
	)
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return err
	}
	if err := s.mustExist(ctx, projectID, recruiterID); err != nil {
		return err
	}
	return repo.AssignRecruiter(ctx, s.DB, projectID, recruiterID)
}

// Unassign removes the link. Removing a missing link is a no-op.
func (s *ProjectService) Unassign(ctx context.Context, sess *session.Session, projectID, recruiterID string) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	return repo.UnassignRecruiter(ctx, s.DB, projectID, recruiterID)
}

// Assignments returns every recruiter/project pair.
func (s *ProjectService) Assignments(ctx context.Context, sess *session.Session) ([]domain.RecruiterProject, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	return repo.ListAssignments(ctx, s.DB)
}

func (s *ProjectService) mustExist(ctx context.Context, projectID, recruiterID string) error {
	if _, err := repo.GetProject(ctx, s.DB, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	if _, err := repo.GetProfile(ctx, s.DB, recruiterID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRecruiterNotFound
		}
		return err
	}
	return nil
}

// requireAdmin is the admin gate shared by the admin-only services.
func requireAdmin(sess *session.Session) error {
	if sess == nil {
		return session.ErrNoSession
	}
	if !sess.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
