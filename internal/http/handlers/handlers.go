package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/services"
	"github.com/tbourn/go-visit-tracker/internal/session"
	"github.com/tbourn/go-visit-tracker/internal/utils"
)

//
// Service contracts
//

// VisitService submits, lists and edits visits.
type VisitService interface {
	Submit(ctx context.Context, sess *session.Session, in services.VisitInput) (*services.SubmitResult, error)
	CheckConflicts(ctx context.Context, sess *session.Session, ref services.LocationRef, visitDate string) (conflict.Decision, error)
	Dashboard(ctx context.Context, sess *session.Session, f services.DashboardFilter, page, pageSize int) ([]domain.Visit, int64, error)
	VisibleFilter(sess *session.Session, f services.DashboardFilter) (repo.VisitFilter, error)
	Get(ctx context.Context, sess *session.Session, id string) (*services.VisitDetail, error)
	UpdateStatus(ctx context.Context, sess *session.Session, id string, status domain.VisitStatus) (*domain.Visit, error)
	UpdateNotes(ctx context.Context, sess *session.Session, id, notes string) (*domain.Visit, error)
	CalendarURL(ctx context.Context, sess *session.Session, id string, start time.Time) (string, error)
}

// LocationService manages the location catalogue.
type LocationService interface {
	Create(ctx context.Context, ref services.LocationRef) (*domain.Location, error)
	List(ctx context.Context, sess *session.Session, filter string) ([]services.LocationSummary, error)
	Get(ctx context.Context, sess *session.Session, id string) (*services.LocationDetail, error)
	Search(ctx context.Context, q string, limit int) ([]services.SearchHit, error)
}

// ProjectService manages projects and recruiter assignments.
type ProjectService interface {
	List(ctx context.Context, sess *session.Session, activeOnly bool) ([]domain.Project, error)
	Create(ctx context.Context, sess *session.Session, name string) (*domain.Project, error)
	Update(ctx context.Context, sess *session.Session, id string, name *string, active *bool) (*domain.Project, error)
	Assign(ctx context.Context, sess *session.Session, projectID, recruiterID string) error
	Unassign(ctx context.Context, sess *session.Session, projectID, recruiterID string) error
	Assignments(ctx context.Context, sess *session.Session) ([]domain.RecruiterProject, error)
}

// RecruiterService reads and edits profiles.
type RecruiterService interface {
	Me(ctx context.Context, sess *session.Session) (*domain.Profile, error)
	UpdateMe(ctx context.Context, sess *session.Session, name, nickname *string) (*domain.Profile, error)
	List(ctx context.Context, sess *session.Session, role domain.Role) ([]domain.Profile, error)
	Update(ctx context.Context, sess *session.Session, id string, role *domain.Role, active *bool) (*domain.Profile, error)
}

// LeaderboardService ranks recruiters.
type LeaderboardService interface {
	Ranking(ctx context.Context, sess *session.Session, sortBy string) ([]services.LeaderboardEntry, error)
}

// FletcherService runs the Fletcher APK checklist workflow.
type FletcherService interface {
	Create(ctx context.Context, sess *session.Session, locationID string) (*domain.FletcherRun, error)
	List(ctx context.Context, sess *session.Session, query string) (*services.RunOverview, error)
	Get(ctx context.Context, sess *session.Session, id string) (*services.RunDetail, error)
	Update(ctx context.Context, sess *session.Session, id string, p services.RunPatch) (*domain.FletcherRun, error)
	SetSectionNote(ctx context.Context, sess *session.Session, id, section, note string) (map[string]string, error)
	UpdateItem(ctx context.Context, sess *session.Session, id, itemKey string, p services.ItemPatch) (*domain.FletcherCheckItem, error)
	Submit(ctx context.Context, sess *session.Session, id string) (*domain.FletcherRun, error)
	AddTodo(ctx context.Context, sess *session.Session, id, text string) (*domain.FletcherTodo, error)
	SetTodoDone(ctx context.Context, sess *session.Session, id, todoID string, done bool) (*domain.FletcherTodo, error)
	DeleteTodo(ctx context.Context, sess *session.Session, id, todoID string) error
	AddError(ctx context.Context, sess *session.Session, id, text string) (*domain.FletcherError, error)
	SetErrorResolved(ctx context.Context, sess *session.Session, id, errorID string, resolved bool) (*domain.FletcherError, error)
	DeleteError(ctx context.Context, sess *session.Session, id, errorID string) error
	CalendarURL(ctx context.Context, sess *session.Session, id, kind string, start time.Time) (string, error)
	TodoCalendarURL(ctx context.Context, sess *session.Session, id, todoID string, due time.Time) (string, error)
}

// StatsSource feeds weak ETags on list endpoints: a row count and the
// newest UpdatedAt.
type StatsSource interface {
	VisitsStats(ctx context.Context, f repo.VisitFilter) (int64, *time.Time, error)
	LocationsStats(ctx context.Context) (int64, *time.Time, error)
	FletcherRunsStats(ctx context.Context) (int64, *time.Time, error)
}

// IdempotencyStore remembers which resource a keyed create request produced.
type IdempotencyStore interface {
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. Stats and Idempotency are
// optional; without them ETags and replays are skipped.
type Deps struct {
	Visits      VisitService
	Locations   LocationService
	Projects    ProjectService
	Recruiters  RecruiterService
	Leaderboard LeaderboardService
	Fletcher    FletcherService
	Stats       StatsSource
	Idempotency IdempotencyStore
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	d Deps
}

// New returns Handlers bound to d.
func New(d Deps) *Handlers { return &Handlers{d: d} }

//
// DTOs shared by list endpoints
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// URLResponse wraps a generated link.
type URLResponse struct {
	URL string `json:"url" example:"https://calendar.google.com/calendar/render?action=TEMPLATE&text=Visit%3A+Bistro+Noord"`
}

//
// Helpers
//

// sess returns the request session set by the auth middleware. Services
// reject a nil session with session.ErrNoSession.
func sess(c *gin.Context) *session.Session {
	return middleware.SessionFrom(c)
}

// clampPagination reads page and page_size (default 20, max 100).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return page, pageSize
}

// notModified sets a weak ETag built from prefix, count and the newest
// timestamp, and reports whether If-None-Match already matches it.
func notModified(c *gin.Context, prefix string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, prefix, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// parseStart reads date=YYYY-MM-DD and optional time=HH:MM in loc. Both
// empty yields the zero time, which services replace with their default.
func parseStart(c *gin.Context, loc *time.Location) (time.Time, error) {
	date := strings.TrimSpace(c.Query("date"))
	clock := strings.TrimSpace(c.Query("time"))
	if date == "" {
		if clock != "" {
			return time.Time{}, services.ErrInvalidDate
		}
		return time.Time{}, nil
	}
	if clock == "" {
		clock = "10:00"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, services.ErrInvalidDate
	}
	return t, nil
}

// remember stores a keyed create result so a retry replays it. Failures are
// logged, never surfaced.
func (h *Handlers) remember(c *gin.Context, resourceID string, status int) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok || h.d.Idempotency == nil {
		return
	}
	s := sess(c)
	if s == nil {
		return
	}
	if err := h.d.Idempotency.Remember(c.Request.Context(), s.UserID, middleware.IdempotencyScope(c), key, resourceID, status); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("idempotency record not stored")
	}
}
