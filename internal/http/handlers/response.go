// Package handlers provides the HTTP handlers of the public API.
//
// This file holds the response helpers shared by every endpoint: the error
// envelope, fail() for aborting with it, and the mapping from service
// errors to status codes.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_missing",
//	  "message": "missing or invalid fields: pos_system, spoken_to",
//	  "fields": ["pos_system", "spoken_to"]
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/services"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"visit not found"`
	// Offending request fields, for validation_missing
	Fields []string `json:"fields,omitempty" example:"pos_system,spoken_to"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failFields(c, status, code, msg, nil)
}

func failFields(c *gin.Context, status int, code, msg string, fields []string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Fields:    fields,
	})
}

// Fail is the exported form of fail, used by the router for NoRoute/NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// failErr maps a service error onto the envelope. fallback is the code used
// for unexpected errors, which become 500.
func failErr(c *gin.Context, err error, fallback string) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		failFields(c, http.StatusBadRequest, ErrCodeValidationMissing, ve.Error(), ve.Fields)
		return
	}
	for _, m := range errorMap {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code, m.err.Error())
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, fallback, err.Error())
}

var errorMap = []struct {
	err    error
	status int
	code   string
}{
	{session.ErrNoSession, http.StatusUnauthorized, ErrCodeUnauthorized},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrProjectNotAllowed, http.StatusForbidden, ErrCodeProjectNotAllowed},

	{services.ErrValidation, http.StatusBadRequest, ErrCodeValidationMissing},
	{services.ErrInvalidStatus, http.StatusBadRequest, ErrCodeInvalidStatus},
	{services.ErrInvalidRole, http.StatusBadRequest, ErrCodeInvalidRole},
	{services.ErrInvalidDate, http.StatusBadRequest, ErrCodeInvalidDate},
	{services.ErrEmptyText, http.StatusBadRequest, ErrCodeEmptyText},

	{services.ErrVisitNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrLocationNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrProjectNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrRecruiterNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrItemNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrSectionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrTodoNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrRunErrorNotFound, http.StatusNotFound, ErrCodeNotFound},

	{services.ErrLocationExists, http.StatusConflict, ErrCodeLocationExists},
	{services.ErrProjectExists, http.StatusConflict, ErrCodeProjectExists},
	{services.ErrRunSubmitted, http.StatusConflict, ErrCodeRunSubmitted},

	{services.ErrSubmitFailed, http.StatusInternalServerError, ErrCodeSubmitFailed},
	{services.ErrCreateFailed, http.StatusInternalServerError, ErrCodeCreateFailed},
}
