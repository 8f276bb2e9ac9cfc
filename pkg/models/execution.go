package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution. Statuses
// are monotone: once terminal, an execution never comes back.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further status change is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one durable firing of a workflow against one entity
// and trigger. Created only by the dispatcher, never deleted by the engine.
type WorkflowExecution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	TriggerEvent string          `json:"trigger_event"`
	Status       ExecutionStatus `json:"status"`

	// Context is a snapshot of the trigger context captured when the
	// execution was created.
	Context map[string]any `json:"context,omitempty"`

	// Results holds a per-step result log keyed by step definition id.
	Results map[string]any `json:"results,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	// CurrentStepOrder tracks the auto-advance position in legacy
	// sequential mode. Unused in master mode.
	CurrentStepOrder int `json:"current_step_order"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// MarkStatus moves the execution to the requested status, enforcing the
// no-resurrection invariant.
func (e *WorkflowExecution) MarkStatus(status ExecutionStatus, at time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s: %w", e.ID, e.Status, ErrTerminalStatus)
	}

	e.Status = status

	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed:
		t := at
		e.CompletedAt = &t
	case ExecutionStatusCancelled:
		t := at
		e.CancelledAt = &t
	case ExecutionStatusPending, ExecutionStatusInProgress:
	}

	return nil
}

// StepStatus is the lifecycle state of a StepExecution.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusCancelled  StepStatus = "cancelled"
)

// IsTerminal reports whether no further status change is allowed.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	case StepStatusPending, StepStatusInProgress:
		return false
	}

	return false
}

// NotificationRecord logs one outbound message sent on behalf of a step.
type NotificationRecord struct {
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Template   string    `json:"template,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// StepExecution is the durable record of one step firing inside a
// WorkflowExecution.
type StepExecution struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepName    string `json:"step_name"`

	Type   StepType   `json:"step_type"`
	Status StepStatus `json:"status"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// AssignedTo is the user id a parked approval step waits on.
	AssignedTo  string `json:"assigned_to,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	// DueAt is set by approval timeouts and time-based waits; the reaper
	// sweeps rows whose due date has passed.
	DueAt *time.Time `json:"due_at,omitempty"`

	Notifications []NotificationRecord `json:"notifications,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkStatus moves the step execution to the requested status, enforcing the
// no-resurrection invariant.
func (s *StepExecution) MarkStatus(status StepStatus, at time.Time) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("step execution %s is already %s: %w", s.ID, s.Status, ErrTerminalStatus)
	}

	s.Status = status

	if status.IsTerminal() {
		t := at
		s.CompletedAt = &t
	}

	return nil
}

// RecordNotification appends an outbound message to the notification log.
func (s *StepExecution) RecordNotification(recipients []string, subject, template string, at time.Time) {
	s.Notifications = append(s.Notifications, NotificationRecord{
		Recipients: recipients,
		Subject:    subject,
		Template:   template,
		SentAt:     at,
	})
}
