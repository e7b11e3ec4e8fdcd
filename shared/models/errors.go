package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound = errors.New("resource not found")

	// Authentication & ownership
	ErrUnauthorized = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden    = errors.New("forbidden")    // Authenticated, but not the owner

	// Token Errors
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Wizard pipeline failures
	ErrValidation        = errors.New("validation failed")
	ErrUploadFailed      = errors.New("upload failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrTimeout           = errors.New("operation timed out")
	ErrOperationInFlight = errors.New("another operation is already in progress")
	ErrNotFinalStep      = errors.New("publish is only available from the final step")
	ErrAlreadyPublished  = errors.New("memorial is already published")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)

// ValidationError names the first offending field of a rejected input.
// It never reaches the persistence layer.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationField returns the offending field name, or "" when err is not a validation failure.
func ValidationField(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Field
	}
	return ""
}

// IsAuthorization reports whether err means the caller is not signed in or not permitted.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
