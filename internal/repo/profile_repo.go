// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for profiles.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a profile is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// CreateProfile inserts a profile. ID must already be set to the identity
// subject. ErrDuplicate is returned when the ID is taken.
func CreateProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetProfile fetches a profile by ID or returns ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns profiles ordered by name. When roles is non-empty
// only those roles are returned; activeOnly drops inactive profiles.
func ListProfiles(ctx context.Context, db *gorm.DB, roles []domain.Role, activeOnly bool) ([]domain.Profile, error) {
	q := db.WithContext(ctx).Model(&domain.Profile{})
	if len(roles) > 0 {
		q = q.Where("role IN ?", roles)
	}
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []domain.Profile
	err := q.Order("name ASC, id ASC").Find(&out).Error
	return out, err
}

// UpdateProfile applies the non-nil fields. It returns ErrNotFound when no
// row matched.
func UpdateProfile(ctx context.Context, db *gorm.DB, id string, role *domain.Role, active *bool) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if role != nil {
		updates["role"] = *role
	}
	if active != nil {
		updates["active"] = *active
	}
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ProfilePatch holds the self-service profile fields. Nil fields are left
// alone; an empty Nickname is stored as NULL.
type ProfilePatch struct {
	Name     *string
	Nickname *string
}

// PatchProfile writes p to the profile. It returns ErrNotFound when no row
// matched.
func PatchProfile(ctx context.Context, db *gorm.DB, id string, p ProfilePatch) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Nickname != nil {
		if *p.Nickname == "" {
			updates["nickname"] = nil
		} else {
			updates["nickname"] = *p.Nickname
		}
	}
	res := db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
