package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// ExecutionRepository handles workflow execution and step execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionSelect = `
	SELECT
		id
	  , workflow_id
	  , entity_type
	  , entity_id
	  , trigger_event
	  , status
	  , context
	  , results
	  , failure_reason
	  , current_step_order
	  , started_at
	  , completed_at
	  , cancelled_at
	FROM workflow_executions
`

const stepExecutionSelect = `
	SELECT
		id
	  , execution_id
	  , step_id
	  , step_name
	  , step_type
	  , status
	  , input
	  , output
	  , assigned_to
	  , completed_by
	  , failure_reason
	  , due_at
	  , notifications
	  , started_at
	  , completed_at
	FROM step_executions
`

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	contextData, err := marshalJSONB(execution.Context)
	if err != nil {
		return err
	}

	results, err := marshalJSONB(execution.Results)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, workflow_id, entity_type, entity_id, trigger_event, status, context, results,
			 failure_reason, current_step_order, started_at, completed_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			results = EXCLUDED.results,
			failure_reason = EXCLUDED.failure_reason,
			current_step_order = EXCLUDED.current_step_order,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at
	`, execution.ID, execution.WorkflowID, execution.EntityType, execution.EntityID,
		execution.TriggerEvent, execution.Status, contextData, results, execution.FailureReason,
		execution.CurrentStepOrder, execution.StartedAt, execution.CompletedAt, execution.CancelledAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, executionSelect+" WHERE id = $1", id)

	execution, err := r.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx,
		executionSelect+" WHERE entity_type = $1 AND entity_id = $2 ORDER BY started_at", entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) SaveStepExecution(ctx context.Context, step *models.StepExecution) error {
	input, err := marshalJSONB(step.Input)
	if err != nil {
		return err
	}

	output, err := marshalJSONB(step.Output)
	if err != nil {
		return err
	}

	notifications, err := marshalJSONB(step.Notifications)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_executions
			(id, execution_id, step_id, step_name, step_type, status, input, output, assigned_to,
			 completed_by, failure_reason, due_at, notifications, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			assigned_to = EXCLUDED.assigned_to,
			completed_by = EXCLUDED.completed_by,
			failure_reason = EXCLUDED.failure_reason,
			due_at = EXCLUDED.due_at,
			notifications = EXCLUDED.notifications,
			completed_at = EXCLUDED.completed_at
	`, step.ID, step.ExecutionID, step.StepID, step.StepName, step.Type, step.Status, input, output,
		step.AssignedTo, step.CompletedBy, step.FailureReason, step.DueAt, notifications,
		step.StartedAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save step execution %s: %w", step.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) StepExecutionByID(ctx context.Context, id string) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, stepExecutionSelect+" WHERE id = $1", id)

	step, err := r.scanStepExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	return step, nil
}

func (r *ExecutionRepository) StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx,
		stepExecutionSelect+" WHERE execution_id = $1 ORDER BY started_at", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.collectStepExecutions(rows)
}

// OverdueStepExecutions returns non-terminal step executions due at or
// before the given instant. The partial index on due_at keeps this cheap
// for reaper sweeps.
func (r *ExecutionRepository) OverdueStepExecutions(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, stepExecutionSelect+`
		WHERE due_at IS NOT NULL
		  AND due_at <= $1
		  AND status NOT IN ($2, $3, $4, $5)
		ORDER BY due_at
	`, now, models.StepStatusCompleted, models.StepStatusFailed, models.StepStatusSkipped, models.StepStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue step executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return r.collectStepExecutions(rows)
}

func (r *ExecutionRepository) collectStepExecutions(rows *sql.Rows) ([]*models.StepExecution, error) {
	steps := make([]*models.StepExecution, 0)

	for rows.Next() {
		step, err := r.scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return steps, nil
}

func (r *ExecutionRepository) scanExecution(row interface{ Scan(...any) error }) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextData []byte
		results     []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.EntityType,
		&execution.EntityID,
		&execution.TriggerEvent,
		&execution.Status,
		&contextData,
		&results,
		&execution.FailureReason,
		&execution.CurrentStepOrder,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(contextData, &execution.Context); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(results, &execution.Results); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (r *ExecutionRepository) scanStepExecution(row interface{ Scan(...any) error }) (*models.StepExecution, error) {
	var (
		step          models.StepExecution
		input         []byte
		output        []byte
		notifications []byte
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.StepID,
		&step.StepName,
		&step.Type,
		&step.Status,
		&input,
		&output,
		&step.AssignedTo,
		&step.CompletedBy,
		&step.FailureReason,
		&step.DueAt,
		&notifications,
		&step.StartedAt,
		&step.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(input, &step.Input); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(output, &step.Output); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(notifications, &step.Notifications); err != nil {
		return nil, err
	}

	return &step, nil
}

func (r *ExecutionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
