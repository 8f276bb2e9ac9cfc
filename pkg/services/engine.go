package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/lifecycle"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/steps"
)

// Engine orchestrates the dispatcher, the step executor and the lifecycle
// machine behind one request-shaped API.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
	executor    *steps.Executor
	machine     *lifecycle.Machine
}

// NewEngine creates the engine service.
func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	d *dispatcher.Dispatcher,
	executor *steps.Executor,
	machine *lifecycle.Machine,
) *Engine {
	return &Engine{
		logger:      logger.With("component", "engine-service"),
		persistence: p,
		dispatcher:  d,
		executor:    executor,
		machine:     machine,
	}
}

// TriggerRequest identifies the entity and event to dispatch.
type TriggerRequest struct {
	EntityType string
	EntityID   string
	Event      string
	Context    map[string]any
}

// Trigger dispatches an entity event and returns the created executions.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) ([]*models.WorkflowExecution, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return nil, ErrEntityRequired
	}

	if req.Event == "" {
		return nil, ErrEventNameRequired
	}

	entity, err := e.persistence.Entities().EntityByID(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}

	return e.dispatcher.Trigger(ctx, entity, req.Event, req.Context)
}

// Approve grants a parked approval step and resumes the owning execution.
func (e *Engine) Approve(ctx context.Context, stepExecutionID, userID, comment string) (*models.WorkflowExecution, error) {
	return e.decide(ctx, stepExecutionID, userID, comment, true)
}

// Reject denies a parked approval step and resumes the owning execution,
// failing it.
func (e *Engine) Reject(ctx context.Context, stepExecutionID, userID, comment string) (*models.WorkflowExecution, error) {
	return e.decide(ctx, stepExecutionID, userID, comment, false)
}

func (e *Engine) decide(ctx context.Context, stepExecutionID, userID, comment string, approve bool) (*models.WorkflowExecution, error) {
	var (
		stepExec *models.StepExecution
		err      error
	)

	if approve {
		stepExec, err = e.executor.Approve(ctx, stepExecutionID, userID, comment)
	} else {
		stepExec, err = e.executor.Reject(ctx, stepExecutionID, userID, comment)
	}

	if err != nil {
		if errors.Is(err, models.ErrTerminalStatus) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, stepExecutionID)
		}

		return nil, err
	}

	return e.dispatcher.Resume(ctx, stepExec.ExecutionID)
}

// Cancel stops a running execution and marks its unfinished steps cancelled.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	execution, err := e.dispatcher.Cancel(ctx, executionID, reason)
	if err != nil {
		if errors.Is(err, models.ErrTerminalStatus) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, executionID)
		}

		return nil, err
	}

	return execution, nil
}

// Signal completes a manual wait step and resumes the owning execution.
func (e *Engine) Signal(ctx context.Context, stepExecutionID string, data map[string]any) (*models.WorkflowExecution, error) {
	stepExec, err := e.executor.Signal(ctx, stepExecutionID, data)
	if err != nil {
		if errors.Is(err, models.ErrTerminalStatus) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, stepExecutionID)
		}

		return nil, err
	}

	return e.dispatcher.Resume(ctx, stepExec.ExecutionID)
}

// AvailableTransitions lists the lifecycle transitions the user may execute
// on the entity.
func (e *Engine) AvailableTransitions(
	ctx context.Context,
	entityType, entityID string,
	user *models.User,
) ([]*models.StateTransition, error) {
	entity, err := e.persistence.Entities().EntityByID(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	return e.machine.AvailableTransitions(ctx, entity, user)
}

// ExecuteTransition runs a named lifecycle transition on the entity.
func (e *Engine) ExecuteTransition(
	ctx context.Context,
	entityType, entityID, transitionName string,
	user *models.User,
	data map[string]any,
) (*models.Entity, error) {
	entity, err := e.persistence.Entities().EntityByID(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	if err := e.machine.ExecuteByName(ctx, transitionName, entity, user, data); err != nil {
		if errors.Is(err, lifecycle.ErrTransitionNotAllowed) {
			return nil, fmt.Errorf("%w: %s", ErrTransitionNotAllowed, transitionName)
		}

		return nil, err
	}

	return entity, nil
}

// ExecutionsByEntity lists every execution recorded for an entity.
func (e *Engine) ExecutionsByEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowExecution, error) {
	return e.persistence.Executions().ExecutionsByEntity(ctx, entityType, entityID)
}

// ExecutionDetail is one execution with its step rows.
type ExecutionDetail struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Steps     []*models.StepExecution   `json:"steps"`
}

// Execution fetches one execution and its step executions.
func (e *Engine) Execution(ctx context.Context, executionID string) (*ExecutionDetail, error) {
	execution, err := e.persistence.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	stepExecs, err := e.persistence.Executions().StepExecutionsByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &ExecutionDetail{Execution: execution, Steps: stepExecs}, nil
}
