package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/services"
)

// CreateRunRequest is the body for POST /fletcher/runs.
type CreateRunRequest struct {
	LocationID string `json:"location_id" example:"9d5f0a52-6a8e-4cc1-9d4b-2c8f3f8b2b10"`
}

// UpdateRunRequest is the body for PATCH /fletcher/runs/{id}.
type UpdateRunRequest struct {
	OpenQ1Knelpunten *string `json:"open_q1_knelpunten,omitempty"`
	OpenQ2Meerwaarde *string `json:"open_q2_meerwaarde,omitempty"`
	MeetingNotes     *string `json:"meeting_notes,omitempty"`
}

// SectionNoteRequest is the body for PUT .../sections/{section}/note.
type SectionNoteRequest struct {
	Note string `json:"note" example:"Kassa staat achter de bar"`
}

// SectionNotesResponse returns every section note of a run.
type SectionNotesResponse struct {
	SectionNotes map[string]string `json:"section_notes"`
}

// UpdateItemRequest is the body for PATCH .../items/{itemKey}.
type UpdateItemRequest struct {
	Checked *bool   `json:"checked,omitempty" example:"true"`
	Note    *string `json:"note,omitempty"`
}

// TextRequest carries the text of a todo or error.
type TextRequest struct {
	Text string `json:"text" example:"Menukaart opsturen"`
}

// TodoPatchRequest is the body for PATCH .../todos/{todoId}.
type TodoPatchRequest struct {
	Done *bool `json:"done" binding:"required" example:"true"`
}

// ErrorPatchRequest is the body for PATCH .../errors/{errorId}.
type ErrorPatchRequest struct {
	Resolved *bool `json:"resolved" binding:"required" example:"true"`
}

// CreateRun godoc
// @ID          createRun
// @Summary     Start a Fletcher APK run
// @Description Creates a draft run for a location with every checklist item unchecked.
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                     false  "Replays the first result for a retried request"
// @Param       body             body    handlers.CreateRunRequest  true   "Location"
// @Success     201  {object}  domain.FletcherRun
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /fletcher/runs [post]
func (h *Handlers) CreateRun(c *gin.Context) {
	ctx := c.Request.Context()
	if rep := middleware.ReplayFrom(c); rep != nil {
		if d, err := h.d.Fletcher.Get(ctx, sess(c), rep.ResourceID); err == nil {
			ok(c, rep.Status, d.Run)
			return
		}
	}

	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	run, err := h.d.Fletcher.Create(ctx, sess(c), req.LocationID)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	h.remember(c, run.ID, http.StatusCreated)
	ok(c, http.StatusCreated, run)
}

// ListRuns godoc
// @ID          listRuns
// @Summary     Fletcher run overview
// @Description Runs newest first with progress, plus total/draft/submitted/this-week counts. Supports weak ETag.
// @Tags        Fletcher
// @Produce     json
// @Security    BearerAuth
// @Param       q              query   string  false  "Location, city or creator substring"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  services.RunOverview
// @Success     304  {string}  string  "Not Modified"
// @Router      /fletcher/runs [get]
func (h *Handlers) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	q := strings.TrimSpace(c.Query("q"))
	// Only hand out ETags to callers allowed to see the list.
	if s := sess(c); h.d.Stats != nil && s != nil && s.CanFletcher() {
		if count, maxTS, err := h.d.Stats.FletcherRunsStats(ctx); err == nil {
			if notModified(c, "runs:"+q, count, maxTS) {
				return
			}
		}
	}
	overview, err := h.d.Fletcher.List(ctx, sess(c), q)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, overview)
}

// GetRun godoc
// @ID          getRun
// @Summary     Fletcher run detail
// @Tags        Fletcher
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Run ID"  format(uuid)
// @Success     200  {object}  services.RunDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /fletcher/runs/{id} [get]
func (h *Handlers) GetRun(c *gin.Context) {
	d, err := h.d.Fletcher.Get(c.Request.Context(), sess(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// UpdateRun godoc
// @ID          updateRun
// @Summary     Edit open questions and meeting notes
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                     true  "Run ID"
// @Param       body  body      handlers.UpdateRunRequest  true  "Changes"
// @Success     200   {object}  domain.FletcherRun
// @Router      /fletcher/runs/{id} [patch]
func (h *Handlers) UpdateRun(c *gin.Context) {
	var req UpdateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	run, err := h.d.Fletcher.Update(c.Request.Context(), sess(c), c.Param("id"), services.RunPatch{
		OpenQ1Knelpunten: req.OpenQ1Knelpunten,
		OpenQ2Meerwaarde: req.OpenQ2Meerwaarde,
		MeetingNotes:     req.MeetingNotes,
	})
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, run)
}

// SubmitRun godoc
// @ID          submitRun
// @Summary     Submit a draft run
// @Tags        Fletcher
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Run ID"
// @Success     200  {object}  domain.FletcherRun
// @Failure     409  {object}  handlers.ErrorResponse  "run_submitted"
// @Router      /fletcher/runs/{id}/submit [post]
func (h *Handlers) SubmitRun(c *gin.Context) {
	run, err := h.d.Fletcher.Submit(c.Request.Context(), sess(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, run)
}

// SetSectionNote godoc
// @ID          setSectionNote
// @Summary     Set or clear a section note
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id       path      string                       true  "Run ID"
// @Param       section  path      string                       true  "Checklist section key"
// @Param       body     body      handlers.SectionNoteRequest  true  "Note; blank clears it"
// @Success     200      {object}  handlers.SectionNotesResponse
// @Failure     404      {object}  handlers.ErrorResponse
// @Router      /fletcher/runs/{id}/sections/{section}/note [put]
func (h *Handlers) SetSectionNote(c *gin.Context) {
	var req SectionNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	notes, err := h.d.Fletcher.SetSectionNote(c.Request.Context(), sess(c), c.Param("id"), c.Param("section"), req.Note)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, SectionNotesResponse{SectionNotes: notes})
}

// UpdateItem godoc
// @ID          updateItem
// @Summary     Check, uncheck or annotate a checklist item
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id       path      string                      true  "Run ID"
// @Param       itemKey  path      string                      true  "Item key"
// @Param       body     body      handlers.UpdateItemRequest  true  "Changes"
// @Success     200      {object}  domain.FletcherCheckItem
// @Failure     404      {object}  handlers.ErrorResponse
// @Router      /fletcher/runs/{id}/items/{itemKey} [patch]
func (h *Handlers) UpdateItem(c *gin.Context) {
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	item, err := h.d.Fletcher.UpdateItem(c.Request.Context(), sess(c), c.Param("id"), c.Param("itemKey"),
		services.ItemPatch{Checked: req.Checked, Note: req.Note})
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, item)
}

// AddTodo godoc
// @ID          addTodo
// @Summary     Add a follow-up todo
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                true  "Run ID"
// @Param       body  body      handlers.TextRequest  true  "Todo"
// @Success     201   {object}  domain.FletcherTodo
// @Failure     400   {object}  handlers.ErrorResponse  "empty_text"
// @Router      /fletcher/runs/{id}/todos [post]
func (h *Handlers) AddTodo(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	todo, err := h.d.Fletcher.AddTodo(c.Request.Context(), sess(c), c.Param("id"), req.Text)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, todo)
}

// UpdateTodo godoc
// @ID          updateTodo
// @Summary     Mark a todo done or open
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path      string                     true  "Run ID"
// @Param       todoId  path      string                     true  "Todo ID"
// @Param       body    body      handlers.TodoPatchRequest  true  "State"
// @Success     200     {object}  domain.FletcherTodo
// @Router      /fletcher/runs/{id}/todos/{todoId} [patch]
func (h *Handlers) UpdateTodo(c *gin.Context) {
	var req TodoPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failFields(c, http.StatusBadRequest, ErrCodeValidationMissing, "done is required", []string{"done"})
		return
	}
	todo, err := h.d.Fletcher.SetTodoDone(c.Request.Context(), sess(c), c.Param("id"), c.Param("todoId"), *req.Done)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, todo)
}

// DeleteTodo godoc
// @ID          deleteTodo
// @Summary     Delete a todo
// @Tags        Fletcher
// @Security    BearerAuth
// @Param       id      path  string  true  "Run ID"
// @Param       todoId  path  string  true  "Todo ID"
// @Success     204
// @Router      /fletcher/runs/{id}/todos/{todoId} [delete]
func (h *Handlers) DeleteTodo(c *gin.Context) {
	if err := h.d.Fletcher.DeleteTodo(c.Request.Context(), sess(c), c.Param("id"), c.Param("todoId")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// AddRunError godoc
// @ID          addRunError
// @Summary     Log an error seen during the run
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                true  "Run ID"
// @Param       body  body      handlers.TextRequest  true  "Error"
// @Success     201   {object}  domain.FletcherError
// @Router      /fletcher/runs/{id}/errors [post]
func (h *Handlers) AddRunError(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.d.Fletcher.AddError(c.Request.Context(), sess(c), c.Param("id"), req.Text)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, e)
}

// UpdateRunError godoc
// @ID          updateRunError
// @Summary     Mark an error resolved or open
// @Tags        Fletcher
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id       path      string                      true  "Run ID"
// @Param       errorId  path      string                      true  "Error ID"
// @Param       body     body      handlers.ErrorPatchRequest  true  "State"
// @Success     200      {object}  domain.FletcherError
// @Router      /fletcher/runs/{id}/errors/{errorId} [patch]
func (h *Handlers) UpdateRunError(c *gin.Context) {
	var req ErrorPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failFields(c, http.StatusBadRequest, ErrCodeValidationMissing, "resolved is required", []string{"resolved"})
		return
	}
	e, err := h.d.Fletcher.SetErrorResolved(c.Request.Context(), sess(c), c.Param("id"), c.Param("errorId"), *req.Resolved)
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, e)
}

// DeleteRunError godoc
// @ID          deleteRunError
// @Summary     Delete an error
// @Tags        Fletcher
// @Security    BearerAuth
// @Param       id       path  string  true  "Run ID"
// @Param       errorId  path  string  true  "Error ID"
// @Success     204
// @Router      /fletcher/runs/{id}/errors/{errorId} [delete]
func (h *Handlers) DeleteRunError(c *gin.Context) {
	if err := h.d.Fletcher.DeleteError(c.Request.Context(), sess(c), c.Param("id"), c.Param("errorId")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// RunCalendar godoc
// @ID          runCalendar
// @Summary     Google Calendar link for a run
// @Description kind=apk plans a two-hour APK appointment, kind=todos a follow-up listing the open todos.
// @Tags        Fletcher
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string  true   "Run ID"
// @Param       kind  query     string  false  "Event kind"  Enums(apk, todos)  default(apk)
// @Param       date  query     string  false  "YYYY-MM-DD; defaults to tomorrow"
// @Param       time  query     string  false  "HH:MM"  default(10:00)
// @Success     200   {object}  handlers.URLResponse
// @Router      /fletcher/runs/{id}/calendar [get]
func (h *Handlers) RunCalendar(c *gin.Context) {
	start, err := parseStart(c, time.Local)
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	url, err := h.d.Fletcher.CalendarURL(c.Request.Context(), sess(c), c.Param("id"), c.Query("kind"), start)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, URLResponse{URL: url})
}

// TodoCalendar godoc
// @ID          todoCalendar
// @Summary     All-day Google Calendar reminder for one todo
// @Tags        Fletcher
// @Produce     json
// @Security    BearerAuth
// @Param       id      path      string  true   "Run ID"
// @Param       todoId  path      string  true   "Todo ID"
// @Param       date    query     string  false  "YYYY-MM-DD; defaults to tomorrow"
// @Success     200     {object}  handlers.URLResponse
// @Failure     404     {object}  handlers.ErrorResponse
// @Router      /fletcher/runs/{id}/todos/{todoId}/calendar [get]
func (h *Handlers) TodoCalendar(c *gin.Context) {
	start, err := parseStart(c, time.Local)
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	url, err := h.d.Fletcher.TodoCalendarURL(c.Request.Context(), sess(c), c.Param("id"), c.Param("todoId"), start)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, URLResponse{URL: url})
}
