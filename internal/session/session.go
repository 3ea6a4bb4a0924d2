// Package session carries the authenticated principal of one request.
//
// A Session is built by the auth middleware from a verified token and the
// caller's profile, passed explicitly into every service call and dropped
// when the request ends. Role checks live here so services and handlers
// share a single definition.
package session

import (
	"context"
	"errors"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// ErrNoSession is returned when an operation needs a principal and none is present.
var ErrNoSession = errors.New("no session")

// Session is the request-scoped identity.
type Session struct {
	UserID string
	Name   string
	Role   domain.Role
}

// FromProfile builds a Session for p.
func FromProfile(p *domain.Profile) *Session {
	return &Session{UserID: p.ID, Name: p.Name, Role: p.Role}
}

// IsAdmin reports admin rights. Reichskanzlier is treated as admin.
func (s *Session) IsAdmin() bool {
	if s == nil {
		return false
	}
	return s.Role == domain.RoleAdmin || s.Role == domain.RoleReichskanzlier
}

// CanFletcher reports access to the Fletcher APK workflow.
func (s *Session) CanFletcher() bool {
	return s.IsAdmin() || (s != nil && s.Role == domain.RoleFletcherAdmin)
}

// SeesAllProjects reports whether visits outside the caller's assigned
// projects are visible. Fletcher admins count alongside admins.
func (s *Session) SeesAllProjects() bool {
	return s.CanFletcher()
}

// Owns reports whether the session is the given recruiter.
func (s *Session) Owns(recruiterID string) bool {
	return s != nil && s.UserID == recruiterID
}

// CanModify reports whether the session may edit a record owned by recruiterID.
func (s *Session) CanModify(recruiterID string) bool {
	return s.Owns(recruiterID) || s.IsAdmin()
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying s.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
