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

// RecruiterService manages profiles. Everything except Me is admin only.
type RecruiterService struct {
	DB *gorm.DB
}

// Me returns the profile behind sess.
func (s *RecruiterService) Me(ctx context.Context, sess *session.Session) (*domain.Profile, error) {
	if sess == nil {
		return nil, session.ErrNoSession
	}
	p, err := repo.GetProfile(ctx, s.DB, sess.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRecruiterNotFound
	}
	return p, err
}

// UpdateMe lets the caller edit their own display name and nickname. A nil
// argument leaves the field alone. The name is trimmed and must stay
// non-empty; a blank nickname clears it.
func (s *RecruiterService) UpdateMe(ctx context.Context, sess *session.Session, name, nickname *string) (*domain.Profile, error) {
	tr := otel.Tracer("services/RecruiterService")
	ctx, span := tr.Start(ctx, "UpdateMe")
	defer span.End()

	if sess == nil {
		return nil, session.ErrNoSession
	}
	var patch repo.ProfilePatch
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, &ValidationError{Fields: []string{"name"}}
		}
		patch.Name = &n
	}
	if nickname != nil {
		nn := strings.TrimSpace(*nickname)
		patch.Nickname = &nn
	}
	if err := repo.PatchProfile(ctx, s.DB, sess.UserID, patch); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRecruiterNotFound
		}
		return nil, err
	}
	return repo.GetProfile(ctx, s.DB, sess.UserID)
}

// List returns profiles ordered by name, optionally restricted to role.
func (s *RecruiterService) List(ctx context.Context, sess *session.Session, role domain.Role) ([]domain.Profile, error) {
	tr := otel.Tracer("services/RecruiterService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("role", string(role))))
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	var roles []domain.Role
	if role != "" {
		if !role.IsValid() {
			return nil, ErrInvalidRole
		}
		roles = []domain.Role{role}
	}
	return repo.ListProfiles(ctx, s.DB, roles, false)
}

// Update changes the role and/or active flag of a profile.
func (s *RecruiterService) Update(ctx context.Context, sess *session.Session, id string, role *domain.Role, active *bool) (*domain.Profile, error) {
	tr := otel.Tracer("services/RecruiterService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("recruiter.id", id)))
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if role != nil && !role.IsValid() {
		return nil, ErrInvalidRole
	}
	if err := repo.UpdateProfile(ctx, s.DB, id, role, active); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRecruiterNotFound
		}
		return nil, err
	}
	return repo.GetProfile(ctx, s.DB, id)
}
