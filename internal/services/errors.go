// Package services defines the business logic for visits, locations,
// projects, recruiters, the leaderboard and Fletcher APK runs.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"strings"
)

// Access errors.
var (
	// ErrForbidden is returned when the session's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")
)

// Validation errors.
var (
	// ErrValidation is the sentinel every ValidationError unwraps to.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStatus is returned for an unknown visit status.
	ErrInvalidStatus = errors.New("invalid visit status")

	// ErrInvalidRole is returned for an unknown profile role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidDate is returned when a date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date, want YYYY-MM-DD")

	// ErrEmptyText is returned when a todo, error or name is blank.
	ErrEmptyText = errors.New("text is empty")
)

// Visit submission errors.
var (
	// ErrLocationExists is returned when a location insert hits the
	// (name, city) uniqueness rule.
	ErrLocationExists = errors.New("location already exists")

	// ErrSubmitFailed wraps query failures during a submission.
	ErrSubmitFailed = errors.New("submission failed")

	// ErrCreateFailed wraps a failed visit insert.
	ErrCreateFailed = errors.New("could not create visit")

	// ErrProjectNotAllowed is returned when the project is inactive or not
	// assigned to the submitting recruiter.
	ErrProjectNotAllowed = errors.New("project not available to this recruiter")
)

// Not-found errors.
var (
	ErrVisitNotFound     = errors.New("visit not found")
	ErrLocationNotFound  = errors.New("location not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrRecruiterNotFound = errors.New("recruiter not found")
	ErrRunNotFound       = errors.New("fletcher run not found")
	ErrItemNotFound      = errors.New("checklist item not found")
	ErrSectionNotFound   = errors.New("checklist section not found")
	ErrTodoNotFound      = errors.New("todo not found")
	ErrRunErrorNotFound  = errors.New("run error not found")
)

// Conflict errors.
var (
	// ErrProjectExists is returned when a project name is taken.
	ErrProjectExists = errors.New("project already exists")

	// ErrRunSubmitted is returned when a submitted run is submitted again.
	ErrRunSubmitted = errors.New("run already submitted")
)

// ValidationError lists the request fields that were missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }
