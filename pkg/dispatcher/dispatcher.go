// Package dispatcher turns entity events into workflow executions. A flagged
// master definition per entity type selects the per-step firing mode; when no
// master exists the dispatcher falls back to the sequential auto-advance mode
// kept for stored legacy workflows.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/events"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/otelhelper"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/steps"
)

var tracer = otel.Tracer("tramite.dispatcher")

// maxAutoAdvance caps how many steps a sequential execution may run within
// one trigger or resume call. Exceeding it fails the execution terminally.
const maxAutoAdvance = 10

// ErrStepLimitExceeded marks an execution killed by the auto-advance cap.
var ErrStepLimitExceeded = errors.New("auto-advance step limit exceeded")

// Dispatcher matches trigger events against workflow definitions and drives
// the resulting executions.
type Dispatcher struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	executor    *steps.Executor
	evaluator   *conditions.Evaluator
	publisher   eventbus.EventPublisher
}

// NewDispatcher creates a dispatcher. The publisher may be nil.
func NewDispatcher(
	logger *slog.Logger,
	p persistence.Persistence,
	executor *steps.Executor,
	evaluator *conditions.Evaluator,
	publisher eventbus.EventPublisher,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger.With("component", "dispatcher"),
		persistence: p,
		executor:    executor,
		evaluator:   evaluator,
		publisher:   publisher,
	}
}

// Trigger dispatches one entity event. It returns every execution created by
// this call; per-execution failures are recorded on the rows, not returned,
// so one failing workflow never blocks its siblings. The returned error
// covers only lookup failures that prevented dispatch entirely.
func (d *Dispatcher) Trigger(
	ctx context.Context,
	entity *models.Entity,
	eventName string,
	triggerCtx map[string]any,
) ([]*models.WorkflowExecution, error) {
	if entity == nil {
		return nil, errors.New("trigger requires an entity")
	}

	ctx, span := otelhelper.StartSpan(ctx, tracer, "dispatcher.trigger",
		attribute.String(otelhelper.EntityTypeKey, entity.Type),
		attribute.String(otelhelper.EntityIDKey, entity.ID),
		attribute.String(otelhelper.EventNameKey, eventName),
	)
	defer span.End()

	merged := mergeContext(triggerCtx, eventName)
	logger := d.logger.With("entity_type", entity.Type, "entity_id", entity.ID, "event", eventName)

	d.sweepConditionWaits(ctx, logger, entity, merged)

	master, err := d.persistence.Workflows().MasterByEntityType(ctx, entity.Type)

	switch {
	case err == nil:
		return d.triggerMaster(ctx, logger, master, entity, eventName, merged)
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return d.triggerLegacy(ctx, logger, entity, eventName, merged)
	default:
		err = fmt.Errorf("failed to look up master workflow: %w", err)
		otelhelper.SetError(span, err)

		return nil, err
	}
}

// triggerMaster fires every matching step of the master definition as its
// own independent execution.
func (d *Dispatcher) triggerMaster(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.WorkflowDefinition,
	entity *models.Entity,
	eventName string,
	merged map[string]any,
) ([]*models.WorkflowExecution, error) {
	stateName := d.stateName(ctx, entity)

	var executions []*models.WorkflowExecution

	for _, step := range orderedSteps(workflow) {
		if !d.evaluator.Evaluate(step.Conditions, entity, stateName, merged) {
			continue
		}

		execution, err := d.createExecution(ctx, workflow, entity, eventName, merged)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create execution", "step_id", step.ID, "error", err)

			continue
		}

		stepExec, err := d.executor.ExecuteStep(ctx, workflow, execution, step, entity)
		if err != nil {
			d.finishExecution(ctx, execution, models.ExecutionStatusFailed, err.Error())
			executions = append(executions, execution)

			continue
		}

		d.settle(ctx, execution, step, stepExec)
		executions = append(executions, execution)
	}

	logger.InfoContext(ctx, "Master dispatch done", "workflow_id", workflow.ID, "executions", len(executions))

	return executions, nil
}

// triggerLegacy matches every active non-master workflow's trigger predicate
// and auto-advances each match sequentially.
func (d *Dispatcher) triggerLegacy(
	ctx context.Context,
	logger *slog.Logger,
	entity *models.Entity,
	eventName string,
	merged map[string]any,
) ([]*models.WorkflowExecution, error) {
	workflows, err := d.persistence.Workflows().ActiveByEntityType(ctx, entity.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	stateName := d.stateName(ctx, entity)

	var executions []*models.WorkflowExecution

	for _, workflow := range workflows {
		if !d.evaluator.Evaluate(workflow.TriggerConditions, entity, stateName, merged) {
			continue
		}

		execution, err := d.createExecution(ctx, workflow, entity, eventName, merged)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create execution", "workflow_id", workflow.ID, "error", err)

			continue
		}

		if err := d.advance(ctx, workflow, execution, entity); err != nil {
			logger.WarnContext(ctx, "Sequential execution stopped",
				"workflow_id", workflow.ID, "execution_id", execution.ID, "error", err)
		}

		executions = append(executions, execution)
	}

	logger.InfoContext(ctx, "Legacy dispatch done", "matched", len(executions))

	return executions, nil
}

// Resume continues an execution after a parked step was decided externally.
// Master-mode executions settle on their single step's outcome; sequential
// executions pick the auto-advance loop back up past the parked step.
func (d *Dispatcher) Resume(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := d.persistence.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, nil
	}

	workflow, err := d.persistence.Workflows().WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	stepExecs, err := d.persistence.Executions().StepExecutionsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	if workflow.Master {
		d.settleFromHistory(ctx, execution, stepExecs)

		return execution, nil
	}

	last := latestStep(stepExecs)
	if last == nil || !last.Status.IsTerminal() {
		return execution, nil
	}

	if last.Status == models.StepStatusFailed {
		d.finishExecution(ctx, execution, models.ExecutionStatusFailed,
			fmt.Sprintf("step %s failed: %s", last.StepName, last.FailureReason))

		return execution, nil
	}

	recordResult(execution, last)
	execution.CurrentStepOrder++

	entity, err := d.persistence.Entities().EntityByID(ctx, execution.EntityType, execution.EntityID)
	if err != nil {
		return nil, err
	}

	if err := d.advance(ctx, workflow, execution, entity); err != nil {
		d.logger.WarnContext(ctx, "Resume stopped",
			"execution_id", execution.ID, "error", err)
	}

	return execution, nil
}

// Cancel marks an execution cancelled and closes out any of its steps that
// have not reached a terminal status. Terminal executions are rejected.
func (d *Dispatcher) Cancel(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	execution, err := d.persistence.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	execution.FailureReason = reason
	if err := execution.MarkStatus(models.ExecutionStatusCancelled, now); err != nil {
		return nil, err
	}

	stepExecs, err := d.persistence.Executions().StepExecutionsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	for _, stepExec := range stepExecs {
		if stepExec.Status.IsTerminal() {
			continue
		}

		if err := stepExec.MarkStatus(models.StepStatusCancelled, now); err != nil {
			continue
		}

		if err := d.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
			d.logger.ErrorContext(ctx, "Failed to persist cancelled step",
				"step_execution_id", stepExec.ID, "error", err)
		}
	}

	if err := d.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", execution.ID, "reason", reason)
	d.publishCancelled(ctx, execution, reason)

	return execution, nil
}

// sweepConditionWaits resolves condition waits parked on earlier executions
// of this entity and resumes the executions whose wait completed. It runs
// before new executions are created so the current trigger only resumes
// prior work.
func (d *Dispatcher) sweepConditionWaits(
	ctx context.Context,
	logger *slog.Logger,
	entity *models.Entity,
	merged map[string]any,
) {
	if err := d.executor.CompleteConditionWaits(ctx, entity, merged); err != nil {
		logger.WarnContext(ctx, "Condition wait sweep failed", "error", err)

		return
	}

	executions, err := d.persistence.Executions().ExecutionsByEntity(ctx, entity.Type, entity.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to list executions for resume", "error", err)

		return
	}

	for _, execution := range executions {
		if execution.Status.IsTerminal() {
			continue
		}

		if _, err := d.Resume(ctx, execution.ID); err != nil {
			logger.WarnContext(ctx, "Failed to resume execution", "execution_id", execution.ID, "error", err)
		}
	}
}

// advance runs the sequential loop from the execution's current position
// until a step parks, a step fails, the step cap is hit, or no steps remain.
func (d *Dispatcher) advance(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	entity *models.Entity,
) error {
	stateName := d.stateName(ctx, entity)
	advanced := 0

	for _, step := range orderedSteps(workflow) {
		if step.StepOrder < execution.CurrentStepOrder {
			continue
		}

		if advanced >= maxAutoAdvance {
			reason := fmt.Sprintf("%s: %d steps auto-advanced in one call", ErrStepLimitExceeded, advanced)
			d.finishExecution(ctx, execution, models.ExecutionStatusFailed, reason)

			return ErrStepLimitExceeded
		}

		if !d.evaluator.Evaluate(step.Conditions, entity, stateName, execution.Context) {
			d.recordSkipped(ctx, execution, step)
			execution.CurrentStepOrder = step.StepOrder + 1

			continue
		}

		advanced++

		stepExec, err := d.executor.ExecuteStep(ctx, workflow, execution, step, entity)
		if err != nil {
			d.finishExecution(ctx, execution, models.ExecutionStatusFailed, err.Error())

			return err
		}

		switch stepExec.Status {
		case models.StepStatusFailed:
			d.finishExecution(ctx, execution, models.ExecutionStatusFailed,
				fmt.Sprintf("step %s failed: %s", step.Name, stepExec.FailureReason))

			return nil
		case models.StepStatusInProgress:
			// Parked on an approval, wait or manual-complete step.
			execution.CurrentStepOrder = step.StepOrder
			_ = d.persistence.Executions().SaveExecution(ctx, execution)

			return nil
		case models.StepStatusPending, models.StepStatusCompleted, models.StepStatusSkipped, models.StepStatusCancelled:
		}

		recordResult(execution, stepExec)
		execution.CurrentStepOrder = step.StepOrder + 1
	}

	d.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")

	return nil
}

func (d *Dispatcher) createExecution(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	entity *models.Entity,
	eventName string,
	merged map[string]any,
) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{
		ID:           "exec-" + uuid.New().String()[:8],
		WorkflowID:   workflow.ID,
		EntityType:   entity.Type,
		EntityID:     entity.ID,
		TriggerEvent: eventName,
		Status:       models.ExecutionStatusInProgress,
		Context:      merged,
		StartedAt:    time.Now().UTC(),
	}

	if err := d.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	d.publishStarted(ctx, execution)

	return execution, nil
}

// settle resolves a master-mode execution from its single step's outcome.
func (d *Dispatcher) settle(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	stepExec *models.StepExecution,
) {
	switch stepExec.Status {
	case models.StepStatusCompleted:
		recordResult(execution, stepExec)
		d.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")
	case models.StepStatusFailed:
		d.finishExecution(ctx, execution, models.ExecutionStatusFailed,
			fmt.Sprintf("step %s failed: %s", step.Name, stepExec.FailureReason))
	case models.StepStatusPending, models.StepStatusInProgress, models.StepStatusSkipped, models.StepStatusCancelled:
		// Parked; Resume settles it once the step is decided.
	}
}

func (d *Dispatcher) settleFromHistory(
	ctx context.Context,
	execution *models.WorkflowExecution,
	stepExecs []*models.StepExecution,
) {
	// An execution with no step rows yet is still being dispatched.
	if len(stepExecs) == 0 {
		return
	}

	for _, stepExec := range stepExecs {
		switch stepExec.Status {
		case models.StepStatusFailed:
			d.finishExecution(ctx, execution, models.ExecutionStatusFailed,
				fmt.Sprintf("step %s failed: %s", stepExec.StepName, stepExec.FailureReason))

			return
		case models.StepStatusPending, models.StepStatusInProgress:
			return
		case models.StepStatusCompleted, models.StepStatusSkipped, models.StepStatusCancelled:
			recordResult(execution, stepExec)
		}
	}

	d.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")
}

func (d *Dispatcher) finishExecution(
	ctx context.Context,
	execution *models.WorkflowExecution,
	status models.ExecutionStatus,
	reason string,
) {
	now := time.Now().UTC()

	execution.FailureReason = reason
	if err := execution.MarkStatus(status, now); err != nil {
		d.logger.WarnContext(ctx, "Execution already terminal", "execution_id", execution.ID, "error", err)

		return
	}

	if err := d.persistence.Executions().SaveExecution(ctx, execution); err != nil {
		d.logger.ErrorContext(ctx, "Failed to persist execution", "execution_id", execution.ID, "error", err)
	}

	switch status {
	case models.ExecutionStatusCompleted:
		d.publishCompleted(ctx, execution)
	case models.ExecutionStatusFailed:
		d.publishFailed(ctx, execution, reason)
	case models.ExecutionStatusPending, models.ExecutionStatusInProgress, models.ExecutionStatusCancelled:
	}
}

// recordSkipped keeps an audit row for gated-out sequential steps.
func (d *Dispatcher) recordSkipped(ctx context.Context, execution *models.WorkflowExecution, step *models.StepDefinition) {
	now := time.Now().UTC()

	stepExec := &models.StepExecution{
		ID:          "sexec-" + uuid.New().String()[:8],
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Type:        step.Type,
		Status:      models.StepStatusSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	}

	if err := d.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
		d.logger.ErrorContext(ctx, "Failed to persist skipped step", "step_id", step.ID, "error", err)
	}
}

func (d *Dispatcher) stateName(ctx context.Context, entity *models.Entity) string {
	if entity == nil || entity.StateID == "" {
		return ""
	}

	state, err := d.persistence.Lifecycle().StateByID(ctx, entity.StateID)
	if err != nil {
		return ""
	}

	return state.Name
}

func (d *Dispatcher) publishStarted(ctx context.Context, execution *models.WorkflowExecution) {
	if d.publisher == nil {
		return
	}

	_ = d.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.ExecutionStarted{
		BaseEvent:    d.baseEvent(events.ExecutionStartedEvent, execution),
		ExecutionID:  execution.ID,
		WorkflowID:   execution.WorkflowID,
		TriggerEvent: execution.TriggerEvent,
	})
}

func (d *Dispatcher) publishCompleted(ctx context.Context, execution *models.WorkflowExecution) {
	if d.publisher == nil {
		return
	}

	_ = d.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.ExecutionCompleted{
		BaseEvent:   d.baseEvent(events.ExecutionCompletedEvent, execution),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Results:     execution.Results,
	})
}

func (d *Dispatcher) publishFailed(ctx context.Context, execution *models.WorkflowExecution, reason string) {
	if d.publisher == nil {
		return
	}

	_ = d.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.ExecutionFailed{
		BaseEvent:   d.baseEvent(events.ExecutionFailedEvent, execution),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Reason:      reason,
	})
}

func (d *Dispatcher) publishCancelled(ctx context.Context, execution *models.WorkflowExecution, reason string) {
	if d.publisher == nil {
		return
	}

	_ = d.publisher.Publish(ctx, execution.EntityType+":"+execution.EntityID, events.ExecutionCancelled{
		BaseEvent:   d.baseEvent(events.ExecutionCancelledEvent, execution),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Reason:      reason,
	})
}

func (d *Dispatcher) baseEvent(eventType events.EventType, execution *models.WorkflowExecution) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		EntityType: execution.EntityType,
		EntityID:   execution.EntityID,
	}
}

func mergeContext(triggerCtx map[string]any, eventName string) map[string]any {
	merged := make(map[string]any, len(triggerCtx)+1)
	for key, value := range triggerCtx {
		merged[key] = value
	}

	merged["trigger_event"] = eventName

	return merged
}

func recordResult(execution *models.WorkflowExecution, stepExec *models.StepExecution) {
	if execution.Results == nil {
		execution.Results = make(map[string]any)
	}

	execution.Results[stepExec.StepID] = map[string]any{
		"status": string(stepExec.Status),
		"output": stepExec.Output,
	}
}

// orderedSteps returns the active steps sorted by step order. Stored
// definitions are not guaranteed to keep their steps sorted.
func orderedSteps(workflow *models.WorkflowDefinition) []*models.StepDefinition {
	steps := workflow.ActiveSteps()

	sorted := make([]*models.StepDefinition, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StepOrder < sorted[j].StepOrder })

	return sorted
}

func latestStep(stepExecs []*models.StepExecution) *models.StepExecution {
	if len(stepExecs) == 0 {
		return nil
	}

	latest := stepExecs[0]
	for _, stepExec := range stepExecs[1:] {
		if stepExec.StartedAt.After(latest.StartedAt) {
			latest = stepExec
		}
	}

	return latest
}
