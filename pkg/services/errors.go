// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/validation"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidStatus    = errors.New("invalid journey status")
	ErrActorRequired    = errors.New("actor is required")
	ErrDefinitionNil    = errors.New("definition cannot be nil")
	ErrValidationFailed = errors.New("definition failed validation")

	// Business Logic Conflicts (409 Conflict).
	ErrJourneyArchived     = errors.New("journey is archived")
	ErrNoPublishedVersion  = errors.New("journey has no published version")
	ErrNoDraft             = errors.New("journey has no open draft")
	ErrStaleSubmission     = errors.New("stale submission: step already advanced past")
	ErrRunNotRunning       = errors.New("run is not running")
	ErrJourneyInconsistent = persistence.ErrJourneyInconsistent
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ValidationFailure is returned when a definition does not pass validation in Mode.
// It carries the full result so callers can render errors and warnings inline.
type ValidationFailure struct {
	Mode     validation.Mode
	Errors   []string
	Warnings []string
}

func newValidationFailure(mode validation.Mode, result validation.Result) *ValidationFailure {
	return &ValidationFailure{Mode: mode, Errors: result.Errors, Warnings: result.Warnings}
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Mode, strings.Join(e.Errors, "; "))
}

func (e *ValidationFailure) Is(target error) bool {
	return target == ErrValidationFailed
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrValidationFailed)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrJourneyArchived) ||
		errors.Is(err, ErrNoPublishedVersion) ||
		errors.Is(err, ErrNoDraft) ||
		errors.Is(err, ErrStaleSubmission) ||
		errors.Is(err, ErrRunNotRunning) ||
		errors.Is(err, ErrJourneyInconsistent) ||
		persistence.IsConflict(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a business conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
