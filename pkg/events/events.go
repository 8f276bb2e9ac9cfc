// Package events defines the event types the engine publishes while running
// workflows and lifecycle transitions.
package events

import (
	"time"
)

type EventType string

// Topic is the bus topic every engine event is published on.
const Topic = "tramite.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Step execution events.
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepAssignedEvent  EventType = "step.assigned"

	// Lifecycle and notification events.
	StateChangedEvent           EventType = "state.changed"
	NotificationDispatchedEvent EventType = "notification.dispatched"
)

// BaseEvent carries the fields every engine event shares.
type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
}

// ExecutionStarted is published when the dispatcher creates an execution.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	WorkflowID   string `json:"workflow_id"`
	TriggerEvent string `json:"trigger_event"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionCompleted is published when an execution reaches completed.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Results     map[string]any `json:"results,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed is published when an execution reaches failed.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionCancelled is published when an execution is cancelled on request.
type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// StepCompleted is published for every step execution that finishes
// successfully, including skipped steps.
type StepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    string         `json:"step_type"`
	Output      map[string]any `json:"output,omitempty"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

// StepFailed is published when a step execution fails.
type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepName    string `json:"step_name"`
	StepType    string `json:"step_type"`
	Reason      string `json:"reason"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

// StepAssigned is published when a manual step is parked waiting on a user,
// carrying the assignee and the due date the reaper will enforce.
type StepAssigned struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	StepName    string     `json:"step_name"`
	AssignedTo  string     `json:"assigned_to"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

func (e StepAssigned) GetType() EventType {
	return StepAssignedEvent
}

// StateChanged is published after a lifecycle transition commits.
type StateChanged struct {
	BaseEvent

	TransitionName string `json:"transition_name"`
	FromState      string `json:"from_state"`
	ToState        string `json:"to_state"`
	ExecutedBy     string `json:"executed_by,omitempty"`
}

func (e StateChanged) GetType() EventType {
	return StateChangedEvent
}

// NotificationDispatched is published for every notification handed to a
// notifier, one event per template.
type NotificationDispatched struct {
	BaseEvent

	ExecutionID string   `json:"execution_id"`
	StepID      string   `json:"step_id"`
	From        string   `json:"from,omitempty"`
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
}

func (e NotificationDispatched) GetType() EventType {
	return NotificationDispatchedEvent
}
