package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, never
// on the message.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Validation
	ErrCodeValidationMissing = "validation_missing"
	ErrCodeInvalidStatus     = "invalid_status"
	ErrCodeInvalidRole       = "invalid_role"
	ErrCodeInvalidDate       = "invalid_date"
	ErrCodeEmptyText         = "empty_text"

	// Visit submission
	ErrCodeDuplicateVisit    = "duplicate_visit"
	ErrCodeOverlapWarning    = "overlap_warning"
	ErrCodeLocationExists    = "location_exists"
	ErrCodeProjectNotAllowed = "project_not_allowed"
	ErrCodeSubmitFailed      = "submit_failed"
	ErrCodeCreateFailed      = "create_failed"

	// Other conflicts
	ErrCodeProjectExists = "project_exists"
	ErrCodeRunSubmitted  = "run_submitted"

	ErrCodeListFailed   = "list_failed"
	ErrCodeUpdateFailed = "update_failed"
)
