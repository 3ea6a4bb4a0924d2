package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/services"
)

// UpdateRecruiterRequest is the body for PATCH /recruiters/{id}.
type UpdateRecruiterRequest struct {
	Role   *domain.Role `json:"role,omitempty"   example:"recruiter"`
	Active *bool        `json:"active,omitempty" example:"true"`
}

// UpdateMeRequest is the body for PATCH /me. Omitted fields stay as they are.
type UpdateMeRequest struct {
	Name     *string `json:"name,omitempty"     example:"Ann de Vries"`
	Nickname *string `json:"nickname,omitempty" example:"annie"`
}

// ListRecruitersResponse wraps the profile list.
type ListRecruitersResponse struct {
	Recruiters []domain.Profile `json:"recruiters"`
}

// LeaderboardResponse wraps the ranking.
type LeaderboardResponse struct {
	Sort    string                      `json:"sort"`
	Entries []services.LeaderboardEntry `json:"entries"`
}

// Me godoc
// @ID          me
// @Summary     Current profile
// @Tags        Recruiters
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.Profile
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	p, err := h.d.Recruiters.Me(c.Request.Context(), sess(c))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdateMe godoc
// @ID          updateMe
// @Summary     Edit own name and nickname
// @Description Name is trimmed and may not be blank. A blank nickname clears it.
// @Tags        Recruiters
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateMeRequest  true  "Changes"
// @Success     200   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse  "validation_missing"
// @Failure     401   {object}  handlers.ErrorResponse
// @Router      /me [patch]
func (h *Handlers) UpdateMe(c *gin.Context) {
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.d.Recruiters.UpdateMe(c.Request.Context(), sess(c), req.Name, req.Nickname)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// ListRecruiters godoc
// @ID          listRecruiters
// @Summary     List profiles
// @Tags        Recruiters
// @Produce     json
// @Security    BearerAuth
// @Param       role  query     string  false  "Restrict to a role"  Enums(admin, recruiter, fletcher_admin, reichskanzlier)
// @Success     200   {object}  handlers.ListRecruitersResponse
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_role"
// @Failure     403   {object}  handlers.ErrorResponse
// @Router      /recruiters [get]
func (h *Handlers) ListRecruiters(c *gin.Context) {
	list, err := h.d.Recruiters.List(c.Request.Context(), sess(c), domain.Role(c.Query("role")))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListRecruitersResponse{Recruiters: list})
}

// UpdateRecruiter godoc
// @ID          updateRecruiter
// @Summary     Change a profile's role or active flag
// @Tags        Recruiters
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                           true  "Recruiter ID"
// @Param       body  body      handlers.UpdateRecruiterRequest  true  "Changes"
// @Success     200   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_role"
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /recruiters/{id} [patch]
func (h *Handlers) UpdateRecruiter(c *gin.Context) {
	var req UpdateRecruiterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.d.Recruiters.Update(c.Request.Context(), sess(c), c.Param("id"), req.Role, req.Active)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// Leaderboard godoc
// @ID          leaderboard
// @Summary     Recruiter ranking
// @Tags        Recruiters
// @Produce     json
// @Security    BearerAuth
// @Param       sort  query     string  false  "Sort key"  Enums(visits, interested, demo_planned)  default(visits)
// @Success     200   {object}  handlers.LeaderboardResponse
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /leaderboard [get]
func (h *Handlers) Leaderboard(c *gin.Context) {
	sortBy := c.DefaultQuery("sort", services.SortVisits)
	entries, err := h.d.Leaderboard.Ranking(c.Request.Context(), sess(c), sortBy)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, LeaderboardResponse{Sort: sortBy, Entries: entries})
}
