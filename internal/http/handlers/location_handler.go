package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/services"
	"github.com/tbourn/go-visit-tracker/internal/utils"
)

// ListLocationsResponse wraps the location list.
type ListLocationsResponse struct {
	Locations []services.LocationSummary `json:"locations"`
}

// SearchLocationsResponse wraps ranked search hits.
type SearchLocationsResponse struct {
	Results []services.SearchHit `json:"results"`
}

// CreateLocation godoc
// @ID          createLocation
// @Summary     Create a location
// @Description Name and city are required; their case-folded pair must be unique.
// @Tags        Locations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Replays the first result for a retried request"
// @Param       body             body    services.LocationRef  true  "Location"
// @Success     201  {object}  domain.Location
// @Failure     400  {object}  handlers.ErrorResponse  "validation_missing"
// @Failure     409  {object}  handlers.ErrorResponse  "location_exists"
// @Router      /locations [post]
func (h *Handlers) CreateLocation(c *gin.Context) {
	ctx := c.Request.Context()
	if rep := middleware.ReplayFrom(c); rep != nil {
		if d, err := h.d.Locations.Get(ctx, sess(c), rep.ResourceID); err == nil {
			ok(c, rep.Status, d.Location)
			return
		}
	}

	var ref services.LocationRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ref.ID = ""
	loc, err := h.d.Locations.Create(ctx, ref)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	h.remember(c, loc.ID, http.StatusCreated)
	ok(c, http.StatusCreated, loc)
}

// ListLocations godoc
// @ID          listLocations
// @Summary     List locations
// @Description Ordered by name. q filters on a case-insensitive substring of name or city.
// @Description Each row carries the caller's visited_by_me, last_visit_date and recent_visit_warning
// @Description (someone else visited in the last 30 days after the caller's own newest visit). Supports weak ETag.
// @Tags        Locations
// @Produce     json
// @Security    BearerAuth
// @Param       q              query   string  false  "Name or city substring"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListLocationsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /locations [get]
func (h *Handlers) ListLocations(c *gin.Context) {
	ctx := c.Request.Context()
	s := sess(c)
	q := strings.TrimSpace(c.Query("q"))
	if h.d.Stats != nil && s != nil {
		// Rows depend on the caller, every visit and today's window.
		locCount, locTS, err1 := h.d.Stats.LocationsStats(ctx)
		visitCount, visitTS, err2 := h.d.Stats.VisitsStats(ctx, repo.VisitFilter{})
		if err1 == nil && err2 == nil {
			var vts int64
			if visitTS != nil {
				vts = visitTS.UnixNano()
			}
			prefix := fmt.Sprintf("locations:%s:%s:%d:%d:%s", s.UserID, time.Now().UTC().Format(time.DateOnly), visitCount, vts, q)
			if notModified(c, prefix, locCount, locTS) {
				return
			}
		}
	}
	locs, err := h.d.Locations.List(ctx, s, q)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListLocationsResponse{Locations: locs})
}

// SearchLocations godoc
// @ID          searchLocations
// @Summary     Fuzzy location search
// @Description Ranks locations by token similarity of q to "name city address".
// @Tags        Locations
// @Produce     json
// @Security    BearerAuth
// @Param       q      query     string  true   "Search text"
// @Param       limit  query     int     false  "Max results"  minimum(1) maximum(50) default(10)
// @Success     200    {object}  handlers.SearchLocationsResponse
// @Router      /locations/search [get]
func (h *Handlers) SearchLocations(c *gin.Context) {
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 10), 1, 50)
	hits, err := h.d.Locations.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, SearchLocationsResponse{Results: hits})
}

// GetLocation godoc
// @ID          getLocation
// @Summary     Location detail
// @Description Returns the location and its visits, newest first, with recruiter names.
// @Description Recruiters only see visits of projects they are assigned to.
// @Tags        Locations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Location ID"  format(uuid)
// @Success     200  {object}  services.LocationDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /locations/{id} [get]
func (h *Handlers) GetLocation(c *gin.Context) {
	d, err := h.d.Locations.Get(c.Request.Context(), sess(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}
