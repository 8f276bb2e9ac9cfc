// Package persistence provides standardized error types for persistence operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates no workflow definition matches the
	// given identifier or entity type.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates a workflow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepExecutionNotFound indicates a step execution was not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrStateNotFound indicates an approval state was not found.
	ErrStateNotFound = errors.New("approval state not found")

	// ErrNoInitialState indicates an entity type has no is_initial state.
	ErrNoInitialState = errors.New("no initial state for entity type")

	// ErrTransitionNotFound indicates a state transition was not found.
	ErrTransitionNotFound = errors.New("state transition not found")

	// ErrEntityNotFound indicates an entity record was not found.
	ErrEntityNotFound = errors.New("entity not found")
)

// IsWorkflowNotFound checks if an error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution or
// step execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) || errors.Is(err, ErrStepExecutionNotFound)
}

// IsEntityNotFound checks if an error indicates a missing entity record.
func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsNotFound checks if an error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) ||
		IsExecutionNotFound(err) ||
		IsEntityNotFound(err) ||
		errors.Is(err, ErrStateNotFound) ||
		errors.Is(err, ErrTransitionNotFound) ||
		errors.Is(err, ErrNoInitialState)
}
