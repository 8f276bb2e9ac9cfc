// Package models defines the core domain models for the document workflow engine.
package models

import "time"

// StepType identifies the kind of work a step performs. The set is closed:
// the step executor matches it exhaustively.
type StepType string

const (
	StepTypeNotification StepType = "notification"
	StepTypeApproval     StepType = "approval"
	StepTypeAction       StepType = "action"
	StepTypeCondition    StepType = "condition"
	StepTypeWait         StepType = "wait"
)

// KnownStepTypes lists every supported step type, used by config validation.
var KnownStepTypes = []StepType{
	StepTypeNotification,
	StepTypeApproval,
	StepTypeAction,
	StepTypeCondition,
	StepTypeWait,
}

// WorkflowDefinition is a configured workflow attached to one target entity
// type. At most one active master definition is expected per type; the
// engine assumes uniqueness but does not enforce it.
type WorkflowDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"        validate:"required,min=3"`
	Description string   `json:"description"`
	EntityType  string   `json:"entity_type" validate:"required"`
	Active      bool     `json:"active"`
	Master      bool     `json:"master"`
	Version     int      `json:"version"`

	// TriggerConditions is the workflow-level predicate used in legacy
	// sequential mode. In master mode step-level conditions decide instead.
	TriggerConditions map[string]any `json:"trigger_conditions,omitempty"`

	// Variables are global template variables for every execution of this
	// workflow, lowest precedence in the variable bag.
	Variables map[string]any `json:"variables,omitempty"`

	Steps []*StepDefinition `json:"steps"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveSteps returns the enabled steps in step order. The returned slice is
// the definition's own ordering; callers must not mutate it.
func (w *WorkflowDefinition) ActiveSteps() []*StepDefinition {
	steps := make([]*StepDefinition, 0, len(w.Steps))

	for _, step := range w.Steps {
		if step.Active {
			steps = append(steps, step)
		}
	}

	return steps
}

// StepDefinition is one configured unit of work inside a workflow. Steps are
// a flat ordered list; there are no step-to-step pointers, so the graph is
// acyclic by construction.
type StepDefinition struct {
	ID         string   `json:"id"`
	WorkflowID string   `json:"workflow_id"`
	Name       string   `json:"name"      validate:"required"`
	Type       StepType `json:"step_type" validate:"required"`

	// StepOrder is informational in master mode and authoritative in the
	// legacy sequential mode.
	StepOrder int `json:"step_order"`

	// StepConfig is the persisted schema-less configuration for this step
	// type. Key names are stable, stored rows depend on them.
	StepConfig map[string]any `json:"step_config,omitempty"`

	// Conditions gate the step; an empty map means "always execute".
	Conditions map[string]any `json:"conditions,omitempty"`

	Required bool `json:"required"`
	Active   bool `json:"active"`

	Templates []*StepTemplate `json:"templates,omitempty"`
}

// IsManual reports whether the step parks the execution waiting for a human
// decision. Manual steps stop the legacy auto-advance loop.
func (s *StepDefinition) IsManual() bool {
	return s.Type == StepTypeApproval
}

// RecipientType identifies a recipient resolution strategy.
type RecipientType string

const (
	RecipientTypeCreator     RecipientType = "creator"
	RecipientTypeApprover    RecipientType = "approver"
	RecipientTypeRole        RecipientType = "role"
	RecipientTypeUser        RecipientType = "user"
	RecipientTypeConditional RecipientType = "conditional"
	RecipientTypeDynamic     RecipientType = "dynamic"
	RecipientTypeEmail       RecipientType = "email"
)

// KnownRecipientTypes lists every supported recipient strategy.
var KnownRecipientTypes = []RecipientType{
	RecipientTypeCreator,
	RecipientTypeApprover,
	RecipientTypeRole,
	RecipientTypeUser,
	RecipientTypeConditional,
	RecipientTypeDynamic,
	RecipientTypeEmail,
}

// StepTemplate is the normalized per-recipient configuration of a
// notification or approval step: who receives it, with which message
// template, and which variable overrides.
type StepTemplate struct {
	ID               string         `json:"id"`
	StepID           string         `json:"step_id"`
	RecipientType    RecipientType  `json:"recipient_type" validate:"required"`
	RecipientConfig  map[string]any `json:"recipient_config,omitempty"`
	MessageTemplate  string         `json:"message_template"`
	VariableOverride map[string]any `json:"variable_override,omitempty"`
	Active           bool           `json:"active"`
}
