// Package web provides the HTTP handlers for the workflow engine API.
package web

import "github.com/tramite-io/tramite/pkg/models"

// TriggerRequest is the request body for dispatching an entity event.
type TriggerRequest struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   string         `json:"entity_id"   validate:"required"`
	Event      string         `json:"event"       validate:"required"`
	Context    map[string]any `json:"context,omitempty"`
}

// DecisionRequest is the request body for approving or rejecting a parked
// approval step.
type DecisionRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Comment string `json:"comment,omitempty"`
}

// CancelRequest is the request body for cancelling a running execution.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SignalRequest is the request body for completing a manual wait step.
type SignalRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

// TransitionRequest is the request body for executing a lifecycle
// transition.
type TransitionRequest struct {
	UserID string         `json:"user_id" validate:"required"`
	Data   map[string]any `json:"data,omitempty"`
}

// CreateWorkflowRequest is the request body for creating a workflow
// definition.
type CreateWorkflowRequest struct {
	Name              string                   `json:"name"        validate:"required,min=3"`
	Description       string                   `json:"description"`
	EntityType        string                   `json:"entity_type" validate:"required"`
	Active            bool                     `json:"active"`
	Master            bool                     `json:"master"`
	TriggerConditions map[string]any           `json:"trigger_conditions,omitempty"`
	Variables         map[string]any           `json:"variables,omitempty"`
	Steps             []*models.StepDefinition `json:"steps"`
}

// ToModel converts the request into a workflow definition.
func (r CreateWorkflowRequest) ToModel() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:              r.Name,
		Description:       r.Description,
		EntityType:        r.EntityType,
		Active:            r.Active,
		Master:            r.Master,
		TriggerConditions: r.TriggerConditions,
		Variables:         r.Variables,
		Steps:             r.Steps,
	}
}
