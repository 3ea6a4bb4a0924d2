// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// VisitsStats returns aggregate metadata for the visits matching f: the
// total number of rows and the maximum UpdatedAt timestamp among them.
//
// When nothing matches, the returned count is 0 and maxUpdatedAt is nil.
func VisitsStats(ctx context.Context, db *gorm.DB, f VisitFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(f.apply(db.WithContext(ctx).Model(&domain.Visit{})))
}

// LocationsStats returns the number of locations and the greatest
// UpdatedAt among them.
func LocationsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(db.WithContext(ctx).Model(&domain.Location{}))
}

// FletcherRunsStats returns the number of Fletcher runs and the greatest
// UpdatedAt among them.
func FletcherRunsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(db.WithContext(ctx).Model(&domain.FletcherRun{}))
}

func latestStats(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	// Count
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
