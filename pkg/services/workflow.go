package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tramite-io/tramite/pkg/configschema"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// ErrWorkflowNotFound is returned when a workflow definition is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow manages workflow definitions.
type Workflow struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

// NewWorkflow creates a workflow definition service.
func NewWorkflow(p persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: p,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// FetchByID retrieves a workflow definition by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.persistence.Workflows().WorkflowByID(ctx, id)
}

// ListByEntityType returns the active non-master definitions for one entity
// type, plus the master definition when one exists.
func (w *Workflow) ListByEntityType(ctx context.Context, entityType string) ([]*models.WorkflowDefinition, error) {
	workflows, err := w.persistence.Workflows().ActiveByEntityType(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	master, err := w.persistence.Workflows().MasterByEntityType(ctx, entityType)
	if err == nil {
		workflows = append([]*models.WorkflowDefinition{master}, workflows...)
	}

	return workflows, nil
}

// Create validates and stores a new workflow definition. Step configs,
// conditions and templates are schema-checked here so misconfiguration is
// rejected at save time rather than surfacing mid-execution.
func (w *Workflow) Create(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := w.validate(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	for _, step := range workflow.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}

		step.WorkflowID = workflow.ID
	}

	if err := w.persistence.Workflows().SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update validates and replaces an existing workflow definition, bumping its
// version.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.WorkflowDefinition,
) (*models.WorkflowDefinition, error) {
	existing, err := w.persistence.Workflows().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := w.validate(workflow); err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.Version = existing.Version + 1
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	for _, step := range workflow.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}

		step.WorkflowID = workflowID
	}

	if err := w.persistence.Workflows().SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

func (w *Workflow) validate(workflow *models.WorkflowDefinition) error {
	if workflow == nil {
		return ErrInvalidRequest
	}

	if err := w.validator.Struct(workflow); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if err := configschema.ValidateWorkflow(workflow); err != nil {
		return NewValidationError("validateWorkflow", "INVALID_CONFIGURATION", err.Error(), ErrInvalidConfiguration)
	}

	return nil
}
