// Package steps executes workflow steps. The executor dispatches on the
// step type, records per-step results on the StepExecution row and publishes
// engine events; step failures are recorded rather than returned, keeping
// sibling steps unaffected.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/events"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/variables"
)

// Executor runs single workflow steps against an entity.
type Executor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *schema.Registry
	recipients  *recipients.Resolver
	variables   *variables.Resolver
	renderer    *variables.Renderer
	evaluator   *conditions.Evaluator
	notifier    notifier.Notifier
	publisher   eventbus.EventPublisher
	fromAddress string
}

// defaultFromAddress is the sender used when neither the deployment nor the
// step config names one.
const defaultFromAddress = "no-reply@tramite.local"

// NewExecutor creates a step executor. The publisher may be nil, in which
// case no engine events are emitted.
func NewExecutor(
	logger *slog.Logger,
	p persistence.Persistence,
	registry *schema.Registry,
	recipientResolver *recipients.Resolver,
	variableResolver *variables.Resolver,
	renderer *variables.Renderer,
	evaluator *conditions.Evaluator,
	n notifier.Notifier,
	publisher eventbus.EventPublisher,
) *Executor {
	return &Executor{
		logger:      logger,
		persistence: p,
		registry:    registry,
		recipients:  recipientResolver,
		variables:   variableResolver,
		renderer:    renderer,
		evaluator:   evaluator,
		notifier:    n,
		publisher:   publisher,
		fromAddress: defaultFromAddress,
	}
}

// SetFromAddress overrides the deployment-wide sender address. Individual
// steps may still override it with a "from" key in their config.
func (e *Executor) SetFromAddress(address string) {
	if address != "" {
		e.fromAddress = address
	}
}

// sender picks the from-address for a step's outbound messages.
func (e *Executor) sender(step *models.StepDefinition) string {
	if from, ok := step.StepConfig["from"].(string); ok && from != "" {
		return from
	}

	return e.fromAddress
}

// ExecuteStep creates and runs one StepExecution for the given step
// definition. The returned row carries the outcome: completed, failed, or
// in_progress for steps parked on a user or a due date. An error is
// returned only for persistence failures; step-level failures are recorded
// on the row.
func (e *Executor) ExecuteStep(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	entity *models.Entity,
) (*models.StepExecution, error) {
	now := time.Now().UTC()

	stepExec := &models.StepExecution{
		ID:          "sexec-" + uuid.New().String()[:8],
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Type:        step.Type,
		Status:      models.StepStatusInProgress,
		Input:       step.StepConfig,
		StartedAt:   now,
	}

	logger := e.logger.With(
		"execution_id", execution.ID,
		"step_id", step.ID,
		"step_name", step.Name,
		"step_type", step.Type,
	)

	var runErr error

	switch step.Type {
	case models.StepTypeNotification:
		runErr = e.runNotification(ctx, workflow, execution, step, entity, stepExec)
	case models.StepTypeApproval:
		runErr = e.runApproval(ctx, workflow, execution, step, entity, stepExec)
	case models.StepTypeAction:
		runErr = e.runAction(ctx, workflow, execution, step, entity, stepExec)
	case models.StepTypeCondition:
		// Gating already happened during condition evaluation.
		stepExec.Output = map[string]any{"matched": true}
	case models.StepTypeWait:
		runErr = e.runWait(ctx, step, stepExec)
	default:
		runErr = fmt.Errorf("unknown step type %q", step.Type)
	}

	completedAt := time.Now().UTC()

	switch {
	case runErr != nil:
		stepExec.FailureReason = runErr.Error()
		_ = stepExec.MarkStatus(models.StepStatusFailed, completedAt)

		logger.WarnContext(ctx, "Step failed", "reason", runErr.Error())
		e.publishStepFailed(ctx, execution, stepExec, runErr.Error())
	case stepExec.Status == models.StepStatusInProgress && !step.IsManual() && step.Type != models.StepTypeWait && !manualComplete(step):
		_ = stepExec.MarkStatus(models.StepStatusCompleted, completedAt)

		logger.DebugContext(ctx, "Step completed")
		e.publishStepCompleted(ctx, execution, stepExec)
	}

	if err := e.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		return nil, fmt.Errorf("failed to persist step execution: %w", err)
	}

	return stepExec, nil
}

// Approve completes a parked approval step on behalf of a user. The caller
// resumes the owning execution afterwards.
func (e *Executor) Approve(ctx context.Context, stepExecutionID, userID, comment string) (*models.StepExecution, error) {
	stepExec, err := e.loadManualStep(ctx, stepExecutionID, models.StepTypeApproval)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	stepExec.CompletedBy = userID
	stepExec.Output = map[string]any{"decision": "approved", "comment": comment}

	if err := stepExec.MarkStatus(models.StepStatusCompleted, now); err != nil {
		return nil, err
	}

	if err := e.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	e.logger.InfoContext(ctx, "Approval granted",
		"step_execution_id", stepExec.ID, "user_id", userID)

	return stepExec, nil
}

// Reject fails a parked approval step and, through the caller, the owning
// execution. The decision and comment are recorded in the step output.
func (e *Executor) Reject(ctx context.Context, stepExecutionID, userID, comment string) (*models.StepExecution, error) {
	stepExec, err := e.loadManualStep(ctx, stepExecutionID, models.StepTypeApproval)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	stepExec.CompletedBy = userID
	stepExec.Output = map[string]any{"decision": "rejected", "comment": comment}
	stepExec.FailureReason = "rejected by " + userID

	if err := stepExec.MarkStatus(models.StepStatusFailed, now); err != nil {
		return nil, err
	}

	if err := e.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		return nil, fmt.Errorf("failed to persist rejection: %w", err)
	}

	e.logger.InfoContext(ctx, "Approval rejected",
		"step_execution_id", stepExec.ID, "user_id", userID)

	return stepExec, nil
}

// Signal completes a manual wait step. Data is recorded in the step output.
func (e *Executor) Signal(ctx context.Context, stepExecutionID string, data map[string]any) (*models.StepExecution, error) {
	stepExec, err := e.loadManualStep(ctx, stepExecutionID, models.StepTypeWait)
	if err != nil {
		return nil, err
	}

	mode, _ := stepExec.Input["wait_type"].(string)
	if mode != "manual" {
		return nil, fmt.Errorf("%w: wait step %s is %q, not manual", ErrNotSignalable, stepExec.ID, mode)
	}

	now := time.Now().UTC()

	stepExec.Output = map[string]any{"signal": data}

	if err := stepExec.MarkStatus(models.StepStatusCompleted, now); err != nil {
		return nil, err
	}

	if err := e.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	return stepExec, nil
}

func (e *Executor) loadManualStep(ctx context.Context, id string, wantType models.StepType) (*models.StepExecution, error) {
	stepExec, err := e.persistence.Executions().StepExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if stepExec.Type != wantType {
		return nil, fmt.Errorf("%w: step execution %s is %q", ErrWrongStepType, id, stepExec.Type)
	}

	if stepExec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: step execution %s is %q", models.ErrTerminalStatus, id, stepExec.Status)
	}

	return stepExec, nil
}

// composeBag builds the variable bag for rendering, later layers override
// earlier ones.
func (e *Executor) composeBag(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	entity *models.Entity,
	override map[string]any,
) map[string]any {
	var state *models.ApprovalState

	if entity != nil && entity.StateID != "" {
		state, _ = e.persistence.Lifecycle().StateByID(ctx, entity.StateID)
	}

	entityVars := e.variables.EntityVariables(ctx, entity, state)

	if mappings, err := e.persistence.VariableMappings().MappingsByEntityType(ctx, execution.EntityType); err == nil && len(mappings) > 0 {
		stateName := ""
		if state != nil {
			stateName = state.Name
		}

		mapped := e.variables.ResolveMappings(ctx, entity, stateName, mappings)
		entityVars = variables.ComposeBag(entityVars, mapped)
	}

	session, _ := execution.Context["session"].(map[string]any)

	return variables.ComposeBag(
		workflow.Variables,
		session,
		entityVars,
		execution.Context,
		override,
	)
}

// manualComplete reports whether a step opted out of auto-completion.
func manualComplete(step *models.StepDefinition) bool {
	manual, _ := step.StepConfig["manual_complete"].(bool)

	return manual
}

func (e *Executor) publishStepCompleted(ctx context.Context, execution *models.WorkflowExecution, stepExec *models.StepExecution) {
	if e.publisher == nil {
		return
	}

	_ = e.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.StepCompleted{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.StepCompletedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: execution.EntityType,
			EntityID:   execution.EntityID,
		},
		ExecutionID: execution.ID,
		StepID:      stepExec.StepID,
		StepName:    stepExec.StepName,
		StepType:    string(stepExec.Type),
		Output:      stepExec.Output,
	})
}

func (e *Executor) publishStepFailed(ctx context.Context, execution *models.WorkflowExecution, stepExec *models.StepExecution, reason string) {
	if e.publisher == nil {
		return
	}

	_ = e.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.StepFailed{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.StepFailedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: execution.EntityType,
			EntityID:   execution.EntityID,
		},
		ExecutionID: execution.ID,
		StepID:      stepExec.StepID,
		StepName:    stepExec.StepName,
		StepType:    string(stepExec.Type),
		Reason:      reason,
	})
}

func (e *Executor) publishStepAssigned(ctx context.Context, execution *models.WorkflowExecution, stepExec *models.StepExecution) {
	if e.publisher == nil {
		return
	}

	_ = e.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.StepAssigned{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.StepAssignedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: execution.EntityType,
			EntityID:   execution.EntityID,
		},
		ExecutionID: execution.ID,
		StepID:      stepExec.StepID,
		StepName:    stepExec.StepName,
		AssignedTo:  stepExec.AssignedTo,
		DueAt:       stepExec.DueAt,
	})
}
