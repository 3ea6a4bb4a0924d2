package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/utils"
)

// CreateProjectRequest is the body for POST /projects.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required" example:"Horeca Utrecht"`
}

// UpdateProjectRequest is the body for PATCH /projects/{id}. Omitted fields
// stay unchanged.
type UpdateProjectRequest struct {
	Name   *string `json:"name,omitempty"   example:"Horeca Utrecht Oost"`
	Active *bool   `json:"active,omitempty" example:"false"`
}

// ListProjectsResponse wraps the project list.
type ListProjectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

// AssignmentsResponse wraps every recruiter/project pair.
type AssignmentsResponse struct {
	Assignments []domain.RecruiterProject `json:"assignments"`
}

// ListProjects godoc
// @ID          listProjects
// @Summary     List projects
// @Description Admins see every project, recruiters only those assigned to them. active=true hides inactive projects.
// @Tags        Projects
// @Produce     json
// @Security    BearerAuth
// @Param       active  query     bool  false  "Only active projects"
// @Success     200     {object}  handlers.ListProjectsResponse
// @Failure     400     {object}  handlers.ErrorResponse
// @Router      /projects [get]
func (h *Handlers) ListProjects(c *gin.Context) {
	active, valid := utils.ParseBoolPtr(c.Query("active"))
	if !valid {
		failFields(c, http.StatusBadRequest, ErrCodeBadRequest, "active must be true or false", []string{"active"})
		return
	}
	projects, err := h.d.Projects.List(c.Request.Context(), sess(c), active != nil && *active)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListProjectsResponse{Projects: projects})
}

// CreateProject godoc
// @ID          createProject
// @Summary     Create a project
// @Tags        Projects
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateProjectRequest  true  "Project"
// @Success     201   {object}  domain.Project
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "project_exists"
// @Router      /projects [post]
func (h *Handlers) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failFields(c, http.StatusBadRequest, ErrCodeValidationMissing, "name is required", []string{"name"})
		return
	}
	p, err := h.d.Projects.Create(c.Request.Context(), sess(c), req.Name)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, p)
}

// UpdateProject godoc
// @ID          updateProject
// @Summary     Rename or (de)activate a project
// @Tags        Projects
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                         true  "Project ID"  format(uuid)
// @Param       body  body      handlers.UpdateProjectRequest  true  "Changes"
// @Success     200   {object}  domain.Project
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /projects/{id} [patch]
func (h *Handlers) UpdateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.d.Projects.Update(c.Request.Context(), sess(c), c.Param("id"), req.Name, req.Active)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// AssignRecruiter godoc
// @ID          assignRecruiter
// @Summary     Assign a recruiter to a project
// @Description Idempotent: assigning an existing pair is a no-op.
// @Tags        Projects
// @Security    BearerAuth
// @Param       id           path  string  true  "Project ID"
// @Param       recruiterId  path  string  true  "Recruiter ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /projects/{id}/recruiters/{recruiterId} [put]
func (h *Handlers) AssignRecruiter(c *gin.Context) {
	if err := h.d.Projects.Assign(c.Request.Context(), sess(c), c.Param("id"), c.Param("recruiterId")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// UnassignRecruiter godoc
// @ID          unassignRecruiter
// @Summary     Remove a recruiter from a project
// @Tags        Projects
// @Security    BearerAuth
// @Param       id           path  string  true  "Project ID"
// @Param       recruiterId  path  string  true  "Recruiter ID"
// @Success     204
// @Router      /projects/{id}/recruiters/{recruiterId} [delete]
func (h *Handlers) UnassignRecruiter(c *gin.Context) {
	if err := h.d.Projects.Unassign(c.Request.Context(), sess(c), c.Param("id"), c.Param("recruiterId")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// ListAssignments godoc
// @ID          listAssignments
// @Summary     All recruiter/project assignments
// @Tags        Projects
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.AssignmentsResponse
// @Router      /projects/assignments [get]
func (h *Handlers) ListAssignments(c *gin.Context) {
	rows, err := h.d.Projects.Assignments(c.Request.Context(), sess(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, AssignmentsResponse{Assignments: rows})
}
