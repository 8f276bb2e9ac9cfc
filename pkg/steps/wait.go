package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
)

// runWait parks the step according to its "wait_type": time-based waits get
// a due date for the reaper, condition waits record the awaited condition,
// manual waits await an external signal. The step stays in_progress.
func (e *Executor) runWait(ctx context.Context, step *models.StepDefinition, stepExec *models.StepExecution) error {
	waitType, _ := step.StepConfig["wait_type"].(string)

	switch waitType {
	case "time":
		hours, ok := waitHours(step.StepConfig)
		if !ok {
			return fmt.Errorf("time wait requires a positive duration")
		}

		dueAt := time.Now().UTC().Add(time.Duration(hours * float64(time.Hour)))
		stepExec.DueAt = &dueAt
		stepExec.Output = map[string]any{"wait_type": "time", "due_at": dueAt.Format(time.RFC3339)}
	case "condition":
		condition, _ := step.StepConfig["condition"].(map[string]any)
		if condition == nil {
			return fmt.Errorf("condition wait requires a condition")
		}

		stepExec.Output = map[string]any{"wait_type": "condition", "condition": condition}
	case "manual":
		stepExec.Output = map[string]any{"wait_type": "manual"}
	default:
		return fmt.Errorf("unknown wait type %q", waitType)
	}

	e.logger.DebugContext(ctx, "Step parked",
		"step_id", step.ID, "wait_type", waitType)

	return nil
}

// CompleteConditionWaits re-checks parked condition waits for an entity and
// completes those whose awaited condition now holds. Called by the
// dispatcher on every trigger so condition waits resolve as soon as the
// entity changes.
func (e *Executor) CompleteConditionWaits(ctx context.Context, entity *models.Entity, triggerCtx map[string]any) error {
	if entity == nil {
		return nil
	}

	executions, err := e.persistence.Executions().ExecutionsByEntity(ctx, entity.Type, entity.ID)
	if err != nil {
		return err
	}

	stateName := ""

	if entity.StateID != "" {
		if state, err := e.persistence.Lifecycle().StateByID(ctx, entity.StateID); err == nil {
			stateName = state.Name
		}
	}

	for _, execution := range executions {
		if execution.Status.IsTerminal() {
			continue
		}

		stepExecs, err := e.persistence.Executions().StepExecutionsByExecution(ctx, execution.ID)
		if err != nil {
			return err
		}

		for _, stepExec := range stepExecs {
			if stepExec.Type != models.StepTypeWait || stepExec.Status.IsTerminal() {
				continue
			}

			waitType, _ := stepExec.Input["wait_type"].(string)
			if waitType != "condition" {
				continue
			}

			condition, _ := stepExec.Input["condition"].(map[string]any)
			if !e.evaluator.Evaluate(condition, entity, stateName, triggerCtx) {
				continue
			}

			stepExec.Output = map[string]any{"wait_type": "condition", "resolved": true}

			if err := stepExec.MarkStatus(models.StepStatusCompleted, time.Now().UTC()); err != nil {
				continue
			}

			if err := e.persistence.Executions().SaveStepExecution(ctx, stepExec); err != nil {
				return err
			}

			e.publishStepCompleted(ctx, execution, stepExec)
		}
	}

	return nil
}

func waitHours(config map[string]any) (float64, bool) {
	switch v := config["duration_hours"].(type) {
	case float64:
		return v, v > 0
	case int:
		return float64(v), v > 0
	default:
		return 0, false
	}
}
