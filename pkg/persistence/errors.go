// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrJourneyNotFound indicates a journey was not found by the given identifier.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrJourneyAlreadyExists indicates a journey with the same identifier already exists.
	ErrJourneyAlreadyExists = errors.New("journey already exists")

	// ErrDraftNotFound indicates the journey has no open draft.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrDraftAlreadyExists indicates the journey already has an open draft.
	ErrDraftAlreadyExists = errors.New("draft already exists")

	// ErrVersionNotFound indicates no published version exists with the given number.
	ErrVersionNotFound = errors.New("published version not found")

	// ErrVersionConflict indicates a concurrent publish allocated the same version number.
	ErrVersionConflict = errors.New("published version already exists")

	// ErrJourneyInconsistent indicates the published pointer and the stored versions disagree.
	ErrJourneyInconsistent = errors.New("journey is inconsistent")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyExists indicates a run with the same identifier already exists.
	ErrRunAlreadyExists = errors.New("run already exists")

	// ErrSequenceConflict indicates a step index or event sequence number was already taken.
	ErrSequenceConflict = errors.New("run sequence conflict")
)

// JourneyError wraps journey-related errors with additional context.
type JourneyError struct {
	Op        string // Operation being performed (e.g., "GetJourney", "Publish")
	JourneyID string // Journey ID
	Version   int    // Published version if applicable
	Err       error  // Underlying error
	Message   string // Additional context message
}

func (e *JourneyError) Error() string {
	target := e.JourneyID
	if e.Version > 0 {
		target = fmt.Sprintf("%s version %d", e.JourneyID, e.Version)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for journey %s: %s (%v)", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for journey %s: %v", e.Op, target, e.Err)
}

func (e *JourneyError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for journey errors.
func (e *JourneyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJourneyError creates a new journey error with context.
func NewJourneyError(op, journeyID string, err error) *JourneyError {
	return &JourneyError{
		Op:        op,
		JourneyID: journeyID,
		Err:       err,
	}
}

// NewVersionError creates a new journey error for a specific published version.
func NewVersionError(op, journeyID string, version int, err error) *JourneyError {
	return &JourneyError{
		Op:        op,
		JourneyID: journeyID,
		Version:   version,
		Err:       err,
	}
}

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed
	RunID string // Run ID
	Err   error  // Underlying error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}

// IsJourneyNotFound checks if an error indicates a journey was not found.
func IsJourneyNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound)
}

// IsDraftNotFound checks if an error indicates a draft was not found.
func IsDraftNotFound(err error) bool {
	return errors.Is(err, ErrDraftNotFound)
}

// IsVersionNotFound checks if an error indicates a published version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsNotFound checks if an error indicates any missing entity.
func IsNotFound(err error) bool {
	return IsJourneyNotFound(err) || IsDraftNotFound(err) || IsVersionNotFound(err) || IsRunNotFound(err)
}

// IsConflict checks if an error indicates a uniqueness or concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrJourneyAlreadyExists) ||
		errors.Is(err, ErrDraftAlreadyExists) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrRunAlreadyExists) ||
		errors.Is(err, ErrSequenceConflict)
}
