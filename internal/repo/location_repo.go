// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for locations.
//
// Locations are unique by (name, city) ignoring case. The folded values are
// stored in name_key/city_key and carry the unique index, so the store
// itself rejects a second "CAFE X"/"rotterdam" next to "Cafe X"/"Rotterdam".
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// FoldKey normalizes a name or city for case-insensitive comparison:
// surrounding space is trimmed, inner runs of space collapse to one, and
// the result is Unicode case-folded.
func FoldKey(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// CreateLocation inserts loc, filling ID, keys and timestamps. ErrDuplicate
// is returned when the (name, city) pair already exists.
func CreateLocation(ctx context.Context, db *gorm.DB, loc *domain.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	loc.NameKey = FoldKey(loc.Name)
	loc.CityKey = FoldKey(loc.City)
	loc.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(loc).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetLocation fetches a location by ID or returns ErrNotFound.
func GetLocation(ctx context.Context, db *gorm.DB, id string) (*domain.Location, error) {
	var l domain.Location
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// FindLocationByNameCity looks a location up by name and city ignoring
// case. It returns ErrNotFound when none matches.
func FindLocationByNameCity(ctx context.Context, db *gorm.DB, name, city string) (*domain.Location, error) {
	var l domain.Location
	err := db.WithContext(ctx).
		Where("name_key = ? AND city_key = ?", FoldKey(name), FoldKey(city)).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLocations returns locations ordered by name. A non-empty filter keeps
// rows whose name or city contains it, ignoring case.
func ListLocations(ctx context.Context, db *gorm.DB, filter string) ([]domain.Location, error) {
	q := db.WithContext(ctx).Model(&domain.Location{})
	if f := FoldKey(filter); f != "" {
		like := containsPattern(f)
		q = q.Where(`name_key LIKE ? ESCAPE '\' OR city_key LIKE ? ESCAPE '\'`, like, like)
	}
	var out []domain.Location
	err := q.Order("name ASC, city ASC").Find(&out).Error
	return out, err
}

// likeEscaper escapes the LIKE wildcards and the escape character itself.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern returns a LIKE pattern matching s anywhere. Pair it with
// ESCAPE '\' so a literal "%" or "_" in s is not a wildcard.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// CountLocations returns the number of stored locations.
func CountLocations(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Location{}).Count(&n).Error
	return n, err
}
