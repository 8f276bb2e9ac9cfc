// Package reaper sweeps step executions whose due date has passed: elapsed
// time waits complete, timed-out approvals fail, and the owning executions
// are resumed. Processing a row moves it to a terminal status, which removes
// it from the overdue query, so repeated sweeps are idempotent.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// Reaper processes overdue step executions in batches.
type Reaper struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
}

// NewReaper creates a reaper.
func NewReaper(logger *slog.Logger, p persistence.Persistence, d *dispatcher.Dispatcher) *Reaper {
	return &Reaper{
		logger:      logger.With("component", "reaper"),
		persistence: p,
		dispatcher:  d,
	}
}

// Sweep processes every step execution overdue at the given instant and
// returns how many rows it settled. Per-row failures are logged and skipped
// so one bad row never starves the batch.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	overdue, err := r.persistence.Executions().OverdueStepExecutions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query overdue step executions: %w", err)
	}

	processed := 0

	for _, stepExec := range overdue {
		if err := r.settle(ctx, stepExec, now); err != nil {
			r.logger.WarnContext(ctx, "Failed to settle overdue step",
				"step_execution_id", stepExec.ID, "error", err)

			continue
		}

		processed++

		if _, err := r.dispatcher.Resume(ctx, stepExec.ExecutionID); err != nil {
			r.logger.WarnContext(ctx, "Failed to resume execution after sweep",
				"execution_id", stepExec.ExecutionID, "error", err)
		}
	}

	if processed > 0 {
		r.logger.InfoContext(ctx, "Sweep done", "overdue", len(overdue), "processed", processed)
	}

	return processed, nil
}

func (r *Reaper) settle(ctx context.Context, stepExec *models.StepExecution, now time.Time) error {
	switch stepExec.Type {
	case models.StepTypeWait:
		stepExec.Output = map[string]any{"wait_elapsed": true}

		if err := stepExec.MarkStatus(models.StepStatusCompleted, now); err != nil {
			return err
		}
	case models.StepTypeApproval:
		stepExec.FailureReason = "approval timed out"

		if err := stepExec.MarkStatus(models.StepStatusFailed, now); err != nil {
			return err
		}
	case models.StepTypeNotification, models.StepTypeAction, models.StepTypeCondition:
		return fmt.Errorf("step type %q carries no due date", stepExec.Type)
	default:
		return fmt.Errorf("unknown step type %q", stepExec.Type)
	}

	return r.persistence.Executions().SaveStepExecution(ctx, stepExec)
}
