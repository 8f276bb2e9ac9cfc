// Package services provides the thin layer between transport handlers and
// the engine, with request validation and a standardized error taxonomy.
package services

import (
	"errors"
	"fmt"

	"github.com/tramite-io/tramite/pkg/persistence"
)

// Business logic errors, mapped to 4xx responses by the web layer.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrEntityRequired       = errors.New("entity type and id are required")
	ErrEventNameRequired    = errors.New("event name is required")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrInvalidConfiguration = errors.New("invalid workflow configuration")

	// Business logic conflicts (409 Conflict).
	ErrExecutionTerminal    = errors.New("execution is already terminal")
	ErrTransitionNotAllowed = errors.New("transition not allowed for this user")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
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

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEntityRequired) ||
		errors.Is(err, ErrEventNameRequired) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionTerminal) ||
		errors.Is(err, ErrTransitionNotAllowed)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, persistence.ErrWorkflowNotFound) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrStepExecutionNotFound) ||
		errors.Is(err, persistence.ErrStateNotFound) ||
		errors.Is(err, persistence.ErrTransitionNotFound) ||
		errors.Is(err, persistence.ErrEntityNotFound)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
