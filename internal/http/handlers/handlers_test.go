package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/services"
)

// ---------- test DB + repo shims ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type testStats struct{ db *gorm.DB }

func (s testStats) VisitsStats(ctx context.Context, f repo.VisitFilter) (int64, *time.Time, error) {
	return repo.VisitsStats(ctx, s.db, f)
}

func (s testStats) LocationsStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.LocationsStats(ctx, s.db)
}

func (s testStats) FletcherRunsStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.FletcherRunsStats(ctx, s.db)
}

type testIdem struct{ db *gorm.DB }

func (s testIdem) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, time.Hour)
	return err
}

func (s testIdem) lookup(ctx context.Context, userID, scope, key string, now time.Time) (*middleware.Replay, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &middleware.Replay{ResourceID: rec.ResourceID, Status: rec.Status}, nil
}

// insertFoldedTwinOnce lets a row with the same folded (name, city) land
// just before the next location insert, so that insert loses the race.
func insertFoldedTwinOnce(t *testing.T, db *gorm.DB, name, city string) {
	t.Helper()
	var armed atomic.Bool
	armed.Store(true)
	err := db.Callback().Create().Before("gorm:begin_transaction").Register("test:folded_twin", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*domain.Location); !ok || !armed.CompareAndSwap(true, false) {
			return
		}
		now := time.Now().UTC()
		_, err := tx.Statement.ConnPool.ExecContext(context.Background(),
			"INSERT INTO locations (id, name, city, name_key, city_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			uuid.NewString(), name, city, repo.FoldKey(name), repo.FoldKey(city), now, now)
		if err != nil {
			_ = tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

// ---------- world ----------

// seedHandlerWorld creates recruiters ann and bob on project p1, admin root,
// Fletcher admin fay and an inactive profile gone.
func seedHandlerWorld(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []*domain.Profile{
		{ID: "ann", Name: "Ann", Role: domain.RoleRecruiter, Active: true},
		{ID: "bob", Name: "Bob", Role: domain.RoleRecruiter, Active: true},
		{ID: "root", Name: "Root", Role: domain.RoleAdmin, Active: true},
		{ID: "fay", Name: "Fay", Role: domain.RoleFletcherAdmin, Active: true},
		{ID: "gone", Name: "Gone", Role: domain.RoleRecruiter, Active: true},
	} {
		if err := repo.CreateProfile(ctx, db, p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	inactive := false
	if err := repo.UpdateProfile(ctx, db, "gone", nil, &inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := db.Create(&domain.Project{ID: "p1", Name: "Orderli", Active: true}).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	for _, r := range []string{"ann", "bob"} {
		if err := repo.AssignRecruiter(ctx, db, "p1", r); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
}

type testAPI struct {
	r  *gin.Engine
	db *gorm.DB
}

// newTestAPI mounts every endpoint behind the dev-header auth and the
// idempotency validator, backed by real services on sqlite.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	seedHandlerWorld(t, db)

	locs := services.NewLocationService(db, 0)
	visits := services.NewVisitService(db, locs)
	visits.Serialize = true
	idem := testIdem{db: db}
	h := New(Deps{
		Visits:      visits,
		Locations:   locs,
		Projects:    &services.ProjectService{DB: db},
		Recruiters:  &services.RecruiterService{DB: db},
		Leaderboard: &services.LeaderboardService{DB: db},
		Fletcher:    services.NewFletcherService(db),
		Stats:       testStats{db: db},
		Idempotency: idem,
	})

	load := func(ctx context.Context, id string) (*domain.Profile, error) {
		p, err := repo.GetProfile(ctx, db, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, middleware.ErrUnknownProfile
		}
		return p, err
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("",
		middleware.Auth(middleware.AuthOptions{DevHeader: true}, load),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idem.lookup),
	)

	api.POST("/visits", h.SubmitVisit)
	api.POST("/visits/check", h.CheckVisit)
	api.GET("/visits", h.ListVisits)
	api.GET("/visits/:id", h.GetVisit)
	api.PATCH("/visits/:id/status", h.UpdateVisitStatus)
	api.PATCH("/visits/:id/notes", h.UpdateVisitNotes)
	api.GET("/visits/:id/calendar", h.VisitCalendar)

	api.POST("/locations", h.CreateLocation)
	api.GET("/locations", h.ListLocations)
	api.GET("/locations/search", h.SearchLocations)
	api.GET("/locations/:id", h.GetLocation)

	api.GET("/projects", h.ListProjects)
	api.POST("/projects", h.CreateProject)
	api.GET("/projects/assignments", h.ListAssignments)
	api.PATCH("/projects/:id", h.UpdateProject)
	api.PUT("/projects/:id/recruiters/:recruiterId", h.AssignRecruiter)
	api.DELETE("/projects/:id/recruiters/:recruiterId", h.UnassignRecruiter)

	api.GET("/me", h.Me)
	api.PATCH("/me", h.UpdateMe)
	api.GET("/recruiters", h.ListRecruiters)
	api.PATCH("/recruiters/:id", h.UpdateRecruiter)
	api.GET("/leaderboard", h.Leaderboard)

	runs := api.Group("/fletcher/runs")
	runs.POST("", h.CreateRun)
	runs.GET("", h.ListRuns)
	runs.GET("/:id", h.GetRun)
	runs.PATCH("/:id", h.UpdateRun)
	runs.POST("/:id/submit", h.SubmitRun)
	runs.PUT("/:id/sections/:section/note", h.SetSectionNote)
	runs.PATCH("/:id/items/:itemKey", h.UpdateItem)
	runs.POST("/:id/todos", h.AddTodo)
	runs.PATCH("/:id/todos/:todoId", h.UpdateTodo)
	runs.DELETE("/:id/todos/:todoId", h.DeleteTodo)
	runs.GET("/:id/todos/:todoId/calendar", h.TodoCalendar)
	runs.POST("/:id/errors", h.AddRunError)
	runs.PATCH("/:id/errors/:errorId", h.UpdateRunError)
	runs.DELETE("/:id/errors/:errorId", h.DeleteRunError)
	runs.GET("/:id/calendar", h.RunCalendar)

	return &testAPI{r: r, db: db}
}

type reqOpt func(*http.Request)

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

// do sends a request as user (empty means anonymous) with an optional JSON body.
func (a *testAPI) do(method, path, user string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v; body=%s", v, err, w.Body.String())
	}
	return v
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d; body=%s", w.Code, status, w.Body.String())
	}
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	wantStatus(t, w, status)
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code=%q want %q; body=%s", er.Code, code, w.Body.String())
	}
	return er
}

func TestAuthGate(t *testing.T) {
	a := newTestAPI(t)

	wantError(t, a.do(http.MethodGet, "/me", "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	wantError(t, a.do(http.MethodGet, "/me", "nobody", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	wantError(t, a.do(http.MethodGet, "/me", "gone", nil), http.StatusForbidden, ErrCodeForbidden)

	w := a.do(http.MethodGet, "/me", "ann", nil)
	wantStatus(t, w, http.StatusOK)
	if p := decode[domain.Profile](t, w); p.ID != "ann" || p.Role != domain.RoleRecruiter {
		t.Fatalf("unexpected profile %+v", p)
	}
}
