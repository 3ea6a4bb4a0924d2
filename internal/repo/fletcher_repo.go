// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Fletcher APK
// runs and their check items, todos and errors.
//
// Child rows are always addressed by (run_id, id) so a caller cannot reach
// a todo or error through another run's URL.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

// CreateRun inserts run together with its seeded check items in a single
// transaction. IDs and timestamps are filled when empty.
func CreateRun(ctx context.Context, db *gorm.DB, run *domain.FletcherRun, items []domain.FletcherCheckItem) error {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = domain.RunDraft
	}
	if run.SectionNotes == nil {
		run.SectionNotes = map[string]string{}
	}
	run.CreatedAt, run.UpdatedAt = now, now

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(run).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			items[i].RunID = run.ID
		}
		return tx.Omit(clause.Associations).Create(&items).Error
	})
}

// GetRun fetches a run with its location and creator, or ErrNotFound.
func GetRun(ctx context.Context, db *gorm.DB, id string) (*domain.FletcherRun, error) {
	var r domain.FletcherRun
	err := db.WithContext(ctx).
		Preload("Location").
		Preload("Creator").
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first with location and creator. A non-empty
// query keeps runs whose location name, city or creator name contains it,
// ignoring case.
func ListRuns(ctx context.Context, db *gorm.DB, query string) ([]domain.FletcherRun, error) {
	q := db.WithContext(ctx).
		Model(&domain.FletcherRun{}).
		Select("fletcher_apk_runs.*").
		Preload("Location").
		Preload("Creator")
	if f := FoldKey(query); f != "" {
		like := "%" + f + "%"
		q = q.
			Joins("LEFT JOIN locations ON locations.id = fletcher_apk_runs.location_id").
			Joins("LEFT JOIN profiles ON profiles.id = fletcher_apk_runs.created_by").
			Where("locations.name_key LIKE ? OR locations.city_key LIKE ? OR LOWER(profiles.name) LIKE ?", like, like, like)
	}
	var out []domain.FletcherRun
	err := q.Order("fletcher_apk_runs.created_at DESC").Find(&out).Error
	return out, err
}

// CheckedCounts maps each of runIDs to its number of checked items. Runs
// without checked items are absent from the map.
func CheckedCounts(ctx context.Context, db *gorm.DB, runIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(runIDs))
	if len(runIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		RunID string
		N     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.FletcherCheckItem{}).
		Select("run_id, COUNT(*) AS n").
		Where("run_id IN ? AND checked = ?", runIDs, true).
		Group("run_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RunID] = r.N
	}
	return out, nil
}

// RunCounts aggregates runs for the overview header.
type RunCounts struct {
	Total     int64 `json:"total"`
	Draft     int64 `json:"draft"`
	Submitted int64 `json:"submitted"`
	Recent    int64 `json:"last_7_days"`
}

// CountRuns returns run totals by status and those created since recentSince.
func CountRuns(ctx context.Context, db *gorm.DB, recentSince time.Time) (RunCounts, error) {
	var c RunCounts
	base := db.WithContext(ctx).Model(&domain.FletcherRun{}).Session(&gorm.Session{})
	if err := base.Count(&c.Total).Error; err != nil {
		return c, err
	}
	if err := base.Where("status = ?", domain.RunDraft).Count(&c.Draft).Error; err != nil {
		return c, err
	}
	if err := base.Where("status = ?", domain.RunSubmitted).Count(&c.Submitted).Error; err != nil {
		return c, err
	}
	if err := base.Where("created_at >= ?", recentSince.UTC()).Count(&c.Recent).Error; err != nil {
		return c, err
	}
	return c, nil
}

// UpdateRunFields applies column updates to a run and bumps updated_at.
func UpdateRunFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.FletcherRun{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunStatus moves a run from one status to another. It returns
// ErrNotFound when no run with id is in status from.
func SetRunStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.RunStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.FletcherRun{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSectionNotes replaces the JSON section-notes map of a run.
func SaveSectionNotes(ctx context.Context, db *gorm.DB, id string, notes map[string]string) error {
	res := db.WithContext(ctx).
		Model(&domain.FletcherRun{ID: id}).
		Select("SectionNotes", "UpdatedAt").
		Updates(&domain.FletcherRun{SectionNotes: notes, UpdatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCheckItems returns a run's items in checklist order.
func ListCheckItems(ctx context.Context, db *gorm.DB, runID string) ([]domain.FletcherCheckItem, error) {
	var out []domain.FletcherCheckItem
	err := db.WithContext(ctx).Where("run_id = ?", runID).Order("position ASC").Find(&out).Error
	return out, err
}

// UpdateCheckItem applies column updates to one item of a run.
func UpdateCheckItem(ctx context.Context, db *gorm.DB, runID, itemKey string, fields map[string]any) (*domain.FletcherCheckItem, error) {
	var item domain.FletcherCheckItem
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.FletcherCheckItem{}).
			Where("run_id = ? AND item_key = ?", runID, itemKey).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// Progress is part of the run list, so its ETag must move too.
		if err := tx.Model(&domain.FletcherRun{}).Where("id = ?", runID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		return tx.Where("run_id = ? AND item_key = ?", runID, itemKey).First(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateTodo inserts a todo for a run.
func CreateTodo(ctx context.Context, db *gorm.DB, t *domain.FletcherTodo) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Text = strings.TrimSpace(t.Text)
	t.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Omit(clause.Associations).Create(t).Error
}

// ListTodos returns a run's todos, oldest first.
func ListTodos(ctx context.Context, db *gorm.DB, runID string) ([]domain.FletcherTodo, error) {
	var out []domain.FletcherTodo
	err := db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// UpdateTodo applies column updates to a todo and returns the new row.
func UpdateTodo(ctx context.Context, db *gorm.DB, runID, todoID string, fields map[string]any) (*domain.FletcherTodo, error) {
	var t domain.FletcherTodo
	if err := updateChild(ctx, db, &t, runID, todoID, fields); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTodo removes a todo from a run.
func DeleteTodo(ctx context.Context, db *gorm.DB, runID, todoID string) error {
	return deleteChild(ctx, db, &domain.FletcherTodo{}, runID, todoID)
}

// CreateRunError inserts an error finding for a run.
func CreateRunError(ctx context.Context, db *gorm.DB, e *domain.FletcherError) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Text = strings.TrimSpace(e.Text)
	e.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Omit(clause.Associations).Create(e).Error
}

// ListRunErrors returns a run's errors, newest first.
func ListRunErrors(ctx context.Context, db *gorm.DB, runID string) ([]domain.FletcherError, error) {
	var out []domain.FletcherError
	err := db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// UpdateRunError applies column updates to an error and returns the new row.
func UpdateRunError(ctx context.Context, db *gorm.DB, runID, errorID string, fields map[string]any) (*domain.FletcherError, error) {
	var e domain.FletcherError
	if err := updateChild(ctx, db, &e, runID, errorID, fields); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteRunError removes an error from a run.
func DeleteRunError(ctx context.Context, db *gorm.DB, runID, errorID string) error {
	return deleteChild(ctx, db, &domain.FletcherError{}, runID, errorID)
}

func updateChild(ctx context.Context, db *gorm.DB, dst any, runID, id string, fields map[string]any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(dst).Where("run_id = ? AND id = ?", runID, id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("run_id = ? AND id = ?", runID, id).First(dst).Error
	})
}

func deleteChild(ctx context.Context, db *gorm.DB, model any, runID, id string) error {
	res := db.WithContext(ctx).Where("run_id = ? AND id = ?", runID, id).Delete(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
