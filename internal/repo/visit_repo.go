// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for visits,
// including the two time-windowed reads the conflict check relies on.
//
// Functions:
//
//   - CreateVisit(ctx, db, v) -> error
//   - GetVisit(ctx, db, id) -> *domain.Visit, error (with relations)
//   - LatestOwnVisit(ctx, db, locationID, recruiterID, since) -> *VisitRow, error
//     The recruiter's newest visit to the location on or after since, or nil.
//   - RecentLocationVisits(ctx, db, locationID, since, limit) -> []VisitRow, error
//     Anyone's newest visits to the location on or after since, with the
//     recruiter's display name.
//   - CountVisits / ListVisitsPage(ctx, db, filter, ...) for dashboards.
//   - ListLocationVisits(ctx, db, filter, excludeID, limit)
//   - LatestVisitByLocation(ctx, db, filter, since) for the location list.
//   - UpdateVisitStatus / UpdateVisitNotes
//   - ListVisitTallies(ctx, db) for the leaderboard.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// VisitRow is a flattened visit joined with its recruiter's name.
type VisitRow struct {
	ID            string
	RecruiterID   string
	RecruiterName string
	LocationID    string
	VisitDate     time.Time
	Status        domain.VisitStatus
}

// VisitFilter narrows dashboard listings. Empty fields are ignored, except
// ProjectIDs: a non-nil empty slice matches nothing.
type VisitFilter struct {
	RecruiterID string
	ProjectID   string
	ProjectIDs  []string
	LocationID  string
	Status      domain.VisitStatus

	// Search matches location name, city and notes ignoring case.
	// SearchRecruiter also matches the recruiter's name.
	Search          string
	SearchRecruiter bool
}

func (f VisitFilter) apply(q *gorm.DB) *gorm.DB {
	if f.RecruiterID != "" {
		q = q.Where("visits.recruiter_id = ?", f.RecruiterID)
	}
	if f.ProjectID != "" {
		q = q.Where("visits.project_id = ?", f.ProjectID)
	}
	if f.LocationID != "" {
		q = q.Where("visits.location_id = ?", f.LocationID)
	}
	if f.Status != "" {
		q = q.Where("visits.status = ?", f.Status)
	}
	if f.ProjectIDs != nil {
		if len(f.ProjectIDs) == 0 {
			return q.Where("1 = 0")
		}
		q = q.Where("visits.project_id IN ?", f.ProjectIDs)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		folded := containsPattern(FoldKey(term))
		lower := containsPattern(strings.ToLower(term))
		cond := `visits.location_id IN (SELECT id FROM locations WHERE name_key LIKE ? ESCAPE '\' OR city_key LIKE ? ESCAPE '\')` +
			` OR LOWER(COALESCE(visits.notes, '')) LIKE ? ESCAPE '\'`
		args := []any{folded, folded, lower}
		if f.SearchRecruiter {
			cond += ` OR visits.recruiter_id IN (SELECT id FROM profiles WHERE LOWER(name) LIKE ? ESCAPE '\')`
			args = append(args, lower)
		}
		q = q.Where("("+cond+")", args...)
	}
	return q
}

// CreateVisit inserts v, filling ID and CreatedAt when empty.
func CreateVisit(ctx context.Context, db *gorm.DB, v *domain.Visit) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Location", "Project", "Recruiter").Create(v).Error
}

// GetVisit fetches a visit with its location, project and recruiter.
func GetVisit(ctx context.Context, db *gorm.DB, id string) (*domain.Visit, error) {
	var v domain.Visit
	err := db.WithContext(ctx).
		Preload("Location").
		Preload("Project").
		Preload("Recruiter").
		Where("id = ?", id).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LatestOwnVisit returns recruiterID's newest visit to locationID dated on
// or after since, or (nil, nil) when there is none.
func LatestOwnVisit(ctx context.Context, db *gorm.DB, locationID, recruiterID string, since time.Time) (*VisitRow, error) {
	var out []VisitRow
	err := windowQuery(ctx, db, locationID, since).
		Where("visits.recruiter_id = ?", recruiterID).
		Limit(1).
		Scan(&out).Error
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// RecentLocationVisits returns up to limit visits by anyone to locationID
// dated on or after since, newest first.
func RecentLocationVisits(ctx context.Context, db *gorm.DB, locationID string, since time.Time, limit int) ([]VisitRow, error) {
	var out []VisitRow
	err := windowQuery(ctx, db, locationID, since).Limit(limit).Scan(&out).Error
	return out, err
}

func windowQuery(ctx context.Context, db *gorm.DB, locationID string, since time.Time) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Visit{}).
		Select("visits.id, visits.recruiter_id, profiles.name AS recruiter_name, visits.location_id, visits.visit_date, visits.status").
		Joins("LEFT JOIN profiles ON profiles.id = visits.recruiter_id").
		Where("visits.location_id = ? AND visits.visit_date >= ?", locationID, since.UTC()).
		Order("visits.visit_date DESC, visits.created_at DESC")
}

// CountVisits returns the number of visits matching f.
func CountVisits(ctx context.Context, db *gorm.DB, f VisitFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Visit{})).Count(&total).Error
	return total, err
}

// ListVisitsPage returns visits matching f, newest visit date first, with
// relations preloaded.
func ListVisitsPage(ctx context.Context, db *gorm.DB, f VisitFilter, offset, limit int) ([]domain.Visit, error) {
	var out []domain.Visit
	err := f.apply(db.WithContext(ctx).Model(&domain.Visit{})).
		Preload("Location").
		Preload("Project").
		Preload("Recruiter").
		Order("visits.visit_date DESC, visits.created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListLocationVisits returns up to limit visits matching f (normally with
// LocationID set), newest first, excluding excludeID when set. limit <= 0
// means no limit.
func ListLocationVisits(ctx context.Context, db *gorm.DB, f VisitFilter, excludeID string, limit int) ([]domain.Visit, error) {
	q := f.apply(db.WithContext(ctx).Model(&domain.Visit{})).
		Preload("Recruiter").
		Preload("Project")
	if excludeID != "" {
		q = q.Where("visits.id <> ?", excludeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Visit
	err := q.Order("visits.visit_date DESC, visits.created_at DESC").Find(&out).Error
	return out, err
}

// LatestVisitByLocation returns the newest visit matching f per location,
// keyed by location ID. Only visits dated on or after since count; a zero
// since means no lower bound.
func LatestVisitByLocation(ctx context.Context, db *gorm.DB, f VisitFilter, since time.Time) (map[string]VisitRow, error) {
	q := f.apply(db.WithContext(ctx).Model(&domain.Visit{})).
		Select("visits.id, visits.recruiter_id, visits.location_id, visits.visit_date, visits.status").
		Order("visits.visit_date DESC, visits.created_at DESC")
	if !since.IsZero() {
		q = q.Where("visits.visit_date >= ?", since.UTC())
	}
	var rows []VisitRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]VisitRow)
	for _, r := range rows {
		if _, seen := out[r.LocationID]; !seen {
			out[r.LocationID] = r
		}
	}
	return out, nil
}

// UpdateVisitStatus sets the status of a visit.
func UpdateVisitStatus(ctx context.Context, db *gorm.DB, id string, status domain.VisitStatus) error {
	return updateVisit(ctx, db, id, map[string]any{"status": status})
}

// UpdateVisitNotes sets or clears (nil) the notes of a visit.
func UpdateVisitNotes(ctx context.Context, db *gorm.DB, id string, notes *string) error {
	return updateVisit(ctx, db, id, map[string]any{"notes": notes})
}

func updateVisit(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Visit{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// VisitTally is the minimal projection the leaderboard aggregates over.
type VisitTally struct {
	RecruiterID string
	Status      domain.VisitStatus
	VisitDate   time.Time
}

// ListVisitTallies returns (recruiter, status, date) for every visit.
func ListVisitTallies(ctx context.Context, db *gorm.DB) ([]VisitTally, error) {
	var out []VisitTally
	err := db.WithContext(ctx).
		Model(&domain.Visit{}).
		Select("recruiter_id, status, visit_date").
		Order("visit_date DESC").
		Scan(&out).Error
	return out, err
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
