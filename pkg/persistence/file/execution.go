package file

import (
	"context"
	"sort"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

const (
	executionsDir     = "executions"
	stepExecutionsDir = "step_executions"
)

// ExecutionRepository stores workflow executions and step executions.
type ExecutionRepository struct {
	root string
}

func (er *ExecutionRepository) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	return writeRecord(er.root, executionsDir, execution.ID, execution)
}

func (er *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	if err := readRecord(er.root, executionsDir, id, &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) ExecutionsByEntity(ctx context.Context, entityType, entityID string) ([]*models.WorkflowExecution, error) {
	ids, err := listRecordIDs(er.root, executionsDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.WorkflowExecution

	for _, id := range ids {
		execution, err := er.ExecutionByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution.EntityType == entityType && execution.EntityID == entityID {
			matched = append(matched, execution)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})

	return matched, nil
}

func (er *ExecutionRepository) SaveStepExecution(_ context.Context, step *models.StepExecution) error {
	return writeRecord(er.root, stepExecutionsDir, step.ID, step)
}

func (er *ExecutionRepository) StepExecutionByID(_ context.Context, id string) (*models.StepExecution, error) {
	var step models.StepExecution

	if err := readRecord(er.root, stepExecutionsDir, id, &step, persistence.ErrStepExecutionNotFound); err != nil {
		return nil, err
	}

	return &step, nil
}

func (er *ExecutionRepository) StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	steps, err := er.loadSteps(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.StepExecution

	for _, step := range steps {
		if step.ExecutionID == executionID {
			matched = append(matched, step)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})

	return matched, nil
}

func (er *ExecutionRepository) OverdueStepExecutions(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	steps, err := er.loadSteps(ctx)
	if err != nil {
		return nil, err
	}

	var overdue []*models.StepExecution

	for _, step := range steps {
		if step.Status.IsTerminal() || step.DueAt == nil {
			continue
		}

		if !step.DueAt.After(now) {
			overdue = append(overdue, step)
		}
	}

	return overdue, nil
}

func (er *ExecutionRepository) loadSteps(ctx context.Context) ([]*models.StepExecution, error) {
	ids, err := listRecordIDs(er.root, stepExecutionsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	steps := make([]*models.StepExecution, 0, len(ids))

	for _, id := range ids {
		step, err := er.StepExecutionByID(ctx, id)
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)
	}

	return steps, nil
}
