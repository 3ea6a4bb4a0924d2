// Visit HTTP handlers.
//
//   - POST  /visits                 (submit, runs the conflict policy)
//   - POST  /visits/check           (dry-run of the conflict policy)
//   - GET   /visits                 (dashboard, paginated, ETag support)
//   - GET   /visits/{id}            (detail with other visits to the location)
//   - PATCH /visits/{id}/status
//   - PATCH /visits/{id}/notes
//   - GET   /visits/{id}/calendar   (Google Calendar follow-up link)
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/services"
)

//
// DTOs
//

// SubmitVisitRequest is the payload of POST /visits. The location is either
// an existing location_id or a name and city (plus optional details); a new
// name/city pair creates the location.
type SubmitVisitRequest struct {
	ProjectID         string               `json:"project_id" example:"2b0f0d1e-8a43-4a55-9c64-3d2b1c7e9f10"`
	LocationID        string               `json:"location_id,omitempty"`
	Location          services.LocationRef `json:"location"`
	VisitDate         string               `json:"visit_date" example:"2024-03-01"`
	Status            string               `json:"status,omitempty" example:"visited" enums:"visited,interested,demo_planned,not_interested"`
	PosSystem         string               `json:"pos_system" example:"Lightspeed"`
	SpokenTo          string               `json:"spoken_to" example:"owner"`
	Takeaway          bool                 `json:"takeaway"`
	Delivery          bool                 `json:"delivery"`
	TakeawayPlatforms string               `json:"takeaway_platforms,omitempty"`
	DeliveryPlatforms string               `json:"delivery_platforms,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	// ProceedOnOverlap acknowledges an overlap_warning. It never bypasses a duplicate.
	ProceedOnOverlap bool `json:"proceed_on_overlap"`
}

func (r SubmitVisitRequest) locationRef() services.LocationRef {
	ref := r.Location
	if id := strings.TrimSpace(r.LocationID); id != "" {
		ref.ID = id
	}
	return ref
}

// SubmitVisitResponse is returned when a visit was created (or replayed).
type SubmitVisitResponse struct {
	Visit           *domain.Visit      `json:"visit"`
	Location        *domain.Location   `json:"location"`
	LocationCreated bool               `json:"location_created"`
	Decision        *conflict.Decision `json:"decision,omitempty"`
	Replayed        bool               `json:"replayed,omitempty"`
}

// VisitConflictResponse is the 409 body for duplicate_visit and
// overlap_warning. The location is included because it may have been
// created by the same request.
type VisitConflictResponse struct {
	RequestID string            `json:"request_id,omitempty"`
	Code      string            `json:"code" example:"overlap_warning"`
	Message   string            `json:"message"`
	Decision  conflict.Decision `json:"decision"`
	Location  *domain.Location  `json:"location,omitempty"`
}

// CheckVisitRequest is the payload of POST /visits/check.
type CheckVisitRequest struct {
	LocationID string               `json:"location_id,omitempty"`
	Location   services.LocationRef `json:"location"`
	VisitDate  string               `json:"visit_date" example:"2024-03-01"`
}

// ListVisitsResponse wraps a page of visits.
type ListVisitsResponse struct {
	Visits     []domain.Visit `json:"visits"`
	Pagination Pagination     `json:"pagination"`
}

// UpdateVisitStatusRequest is the payload of PATCH /visits/{id}/status.
type UpdateVisitStatusRequest struct {
	Status string `json:"status" binding:"required" example:"interested"`
}

// UpdateVisitNotesRequest is the payload of PATCH /visits/{id}/notes. An
// empty string clears the notes.
type UpdateVisitNotesRequest struct {
	Notes string `json:"notes" example:"Call back after the summer"`
}

//
// Handlers
//

// SubmitVisit godoc
// @ID          submitVisit
// @Summary     Submit a visit
// @Description Validates the visit, resolves or creates its location and applies the duplicate/overlap policy.
// @Description A duplicate (own visit to the location within 60 days) is always refused with 409 duplicate_visit.
// @Description An overlap (anyone's visit within 30 days) is refused with 409 overlap_warning unless proceed_on_overlap is set.
// @Tags        Visits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Replays the first result for a retried request"
// @Param       body             body    handlers.SubmitVisitRequest  true  "Visit"
//
// @Success     201  {object}  handlers.SubmitVisitResponse
// @Failure     400  {object}  handlers.ErrorResponse          "validation_missing"
// @Failure     403  {object}  handlers.ErrorResponse          "project_not_allowed"
// @Failure     409  {object}  handlers.VisitConflictResponse  "duplicate_visit or overlap_warning"
// @Failure     409  {object}  handlers.ErrorResponse          "location_exists"
// @Failure     500  {object}  handlers.ErrorResponse          "submit_failed or create_failed"
// @Router      /visits [post]
func (h *Handlers) SubmitVisit(c *gin.Context) {
	ctx := c.Request.Context()

	if rep := middleware.ReplayFrom(c); rep != nil {
		d, err := h.d.Visits.Get(ctx, sess(c), rep.ResourceID)
		if err == nil {
			ok(c, rep.Status, SubmitVisitResponse{Visit: d.Visit, Location: d.Visit.Location, Replayed: true})
			return
		}
		middleware.LoggerFrom(c).Warn().Err(err).Str("visit_id", rep.ResourceID).Msg("idempotent replay failed, resubmitting")
	}

	var req SubmitVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.d.Visits.Submit(ctx, sess(c), services.VisitInput{
		ProjectID:         req.ProjectID,
		Location:          req.locationRef(),
		VisitDate:         req.VisitDate,
		Status:            domain.VisitStatus(strings.TrimSpace(req.Status)),
		PosSystem:         req.PosSystem,
		SpokenTo:          req.SpokenTo,
		Takeaway:          req.Takeaway,
		Delivery:          req.Delivery,
		TakeawayPlatforms: req.TakeawayPlatforms,
		DeliveryPlatforms: req.DeliveryPlatforms,
		Notes:             req.Notes,
		ProceedOnOverlap:  req.ProceedOnOverlap,
	})
	if err != nil {
		failErr(c, err, ErrCodeSubmitFailed)
		return
	}

	if !res.Created {
		code, msg := ErrCodeOverlapWarning, overlapMessage(res.Decision)
		if res.Decision.Outcome == conflict.OutcomeDuplicate {
			code, msg = ErrCodeDuplicateVisit, duplicateMessage(res.Decision)
		}
		c.AbortWithStatusJSON(http.StatusConflict, VisitConflictResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      code,
			Message:   msg,
			Decision:  res.Decision,
			Location:  res.Location,
		})
		return
	}

	h.remember(c, res.Visit.ID, http.StatusCreated)
	ok(c, http.StatusCreated, SubmitVisitResponse{
		Visit:           res.Visit,
		Location:        res.Location,
		LocationCreated: res.LocationCreated,
		Decision:        &res.Decision,
	})
}

func duplicateMessage(d conflict.Decision) string {
	if d.Duplicate == nil {
		return "you already visited this location recently"
	}
	return "you already visited this location on " + conflict.Day(d.Duplicate.VisitDate).Format("2006-01-02")
}

func overlapMessage(d conflict.Decision) string {
	n := len(d.Overlaps)
	if n == 1 {
		return "this location was visited recently by another recruiter; resend with proceed_on_overlap to continue"
	}
	return fmt.Sprintf("this location has %d recent visits; resend with proceed_on_overlap to continue", n)
}

// CheckVisit godoc
// @ID          checkVisit
// @Summary     Check a visit for conflicts
// @Description Evaluates the duplicate/overlap policy without writing anything. An unknown location is always clear.
// @Tags        Visits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CheckVisitRequest  true  "Candidate visit"
// @Success     200   {object}  conflict.Decision
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown location_id"
// @Router      /visits/check [post]
func (h *Handlers) CheckVisit(c *gin.Context) {
	var req CheckVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ref := req.Location
	if id := strings.TrimSpace(req.LocationID); id != "" {
		ref.ID = id
	}
	dec, err := h.d.Visits.CheckConflicts(c.Request.Context(), sess(c), ref, req.VisitDate)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, dec)
}

// ListVisits godoc
// @ID          listVisits
// @Summary     Visit dashboard
// @Description Admins see all visits, everyone else their own, newest first. Supports weak ETag via If-None-Match.
// @Tags        Visits
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       status         query   string  false  "Filter by status"  Enums(visited,interested,demo_planned,not_interested)
// @Param       project_id     query   string  false  "Filter by project"
// @Param       q              query   string  false  "Substring of location name, city or notes (admins: also recruiter name)"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListVisitsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /visits [get]
func (h *Handlers) ListVisits(c *gin.Context) {
	ctx := c.Request.Context()
	s := sess(c)
	page, pageSize := clampPagination(c)
	f := services.DashboardFilter{
		Status:    domain.VisitStatus(strings.TrimSpace(c.Query("status"))),
		ProjectID: c.Query("project_id"),
		Search:    c.Query("q"),
	}

	filter, err := h.d.Visits.VisibleFilter(s, f)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if h.d.Stats != nil {
		if count, maxTS, err := h.d.Stats.VisitsStats(ctx, filter); err == nil {
			prefix := fmt.Sprintf("visits:%s:%s:%s:%d:%d:%s", s.UserID, filter.Status, filter.ProjectID, page, pageSize, filter.Search)
			if notModified(c, prefix, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.d.Visits.Dashboard(ctx, s, f, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListVisitsResponse{Visits: items, Pagination: newPagination(page, pageSize, total)})
}

// GetVisit godoc
// @ID          getVisit
// @Summary     Visit detail
// @Description Returns the visit and up to 10 other visits to the same location, newest first.
// @Tags        Visits
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Visit ID"  format(uuid)
// @Success     200  {object}  services.VisitDetail
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /visits/{id} [get]
func (h *Handlers) GetVisit(c *gin.Context) {
	d, err := h.d.Visits.Get(c.Request.Context(), sess(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// UpdateVisitStatus godoc
// @ID          updateVisitStatus
// @Summary     Change a visit's status
// @Tags        Visits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string  true  "Visit ID"  format(uuid)
// @Param       body  body      handlers.UpdateVisitStatusRequest  true  "New status"
// @Success     200   {object}  domain.Visit
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_status"
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /visits/{id}/status [patch]
func (h *Handlers) UpdateVisitStatus(c *gin.Context) {
	var req UpdateVisitStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	v, err := h.d.Visits.UpdateStatus(c.Request.Context(), sess(c), c.Param("id"), domain.VisitStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, v)
}

// UpdateVisitNotes godoc
// @ID          updateVisitNotes
// @Summary     Replace a visit's notes
// @Tags        Visits
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string  true  "Visit ID"  format(uuid)
// @Param       body  body      handlers.UpdateVisitNotesRequest  true  "Notes; empty clears"
// @Success     200   {object}  domain.Visit
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /visits/{id}/notes [patch]
func (h *Handlers) UpdateVisitNotes(c *gin.Context) {
	var req UpdateVisitNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.d.Visits.UpdateNotes(c.Request.Context(), sess(c), c.Param("id"), req.Notes)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, v)
}

// VisitCalendar godoc
// @ID          visitCalendar
// @Summary     Calendar link for a follow-up visit
// @Description Builds a Google Calendar "create event" link. Without a date the event starts 24 hours from now.
// @Tags        Visits
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string  true   "Visit ID"  format(uuid)
// @Param       date  query     string  false  "YYYY-MM-DD"
// @Param       time  query     string  false  "HH:MM (default 10:00)"
// @Success     200   {object}  handlers.URLResponse
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_date"
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /visits/{id}/calendar [get]
func (h *Handlers) VisitCalendar(c *gin.Context) {
	start, err := parseStart(c, time.Local)
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	u, err := h.d.Visits.CalendarURL(c.Request.Context(), sess(c), c.Param("id"), start)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, URLResponse{URL: u})
}
