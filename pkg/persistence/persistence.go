// Package persistence defines the storage abstraction the workflow engine
// runs on: workflow definitions, durable executions, lifecycle states and
// transitions, variable mappings and generic entity records.
package persistence

import (
	"context"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
)

// Persistence aggregates the engine's repositories behind one connection
// lifecycle.
type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Lifecycle() LifecycleRepository
	VariableMappings() VariableMappingRepository
	Entities() EntityRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions with their steps and step
// templates.
type WorkflowRepository interface {
	// MasterByEntityType returns the active master definition for the
	// entity type, ErrWorkflowNotFound when none exists.
	MasterByEntityType(ctx context.Context, entityType string) (*models.WorkflowDefinition, error)

	// ActiveByEntityType returns every active non-master definition for the
	// entity type, in no particular order.
	ActiveByEntityType(ctx context.Context, entityType string) ([]*models.WorkflowDefinition, error)

	WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error
}

// ExecutionRepository stores workflow executions and their step executions.
// Rows are never deleted by the engine; retention is an external concern.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ExecutionsByEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowExecution, error)

	SaveStepExecution(ctx context.Context, step *models.StepExecution) error
	StepExecutionByID(ctx context.Context, id string) (*models.StepExecution, error)
	StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	// OverdueStepExecutions returns non-terminal step executions whose due
	// date lies at or before the given instant. Completing or failing a row
	// removes it from this query, which keeps reaper sweeps idempotent.
	OverdueStepExecutions(ctx context.Context, now time.Time) ([]*models.StepExecution, error)
}

// LifecycleRepository stores approval states and transitions per entity
// type.
type LifecycleRepository interface {
	InitialState(ctx context.Context, entityType string) (*models.ApprovalState, error)
	StateByID(ctx context.Context, id string) (*models.ApprovalState, error)
	StatesByEntityType(ctx context.Context, entityType string) ([]*models.ApprovalState, error)
	SaveState(ctx context.Context, state *models.ApprovalState) error

	TransitionByID(ctx context.Context, id string) (*models.StateTransition, error)
	TransitionByName(ctx context.Context, entityType, name string) (*models.StateTransition, error)
	TransitionsFromState(ctx context.Context, stateID string) ([]*models.StateTransition, error)
	SaveTransition(ctx context.Context, transition *models.StateTransition) error
}

// VariableMappingRepository stores declared variable mappings per entity
// type.
type VariableMappingRepository interface {
	MappingsByEntityType(ctx context.Context, entityType string) ([]*models.VariableMapping, error)
	SaveMapping(ctx context.Context, mapping *models.VariableMapping) error
}

// EntityRepository stores the generic entity records workflows act on. The
// engine reads entities to evaluate conditions and writes them back for
// update_model actions and lifecycle transitions.
type EntityRepository interface {
	EntityByID(ctx context.Context, entityType, id string) (*models.Entity, error)
	SaveEntity(ctx context.Context, entity *models.Entity) error
}
