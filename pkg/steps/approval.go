package steps

import (
	"context"
	"errors"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
)

// runApproval resolves the approver set, assigns the first approver,
// computes an optional due date from "timeout_hours" and sends the approval
// notification. The step stays in_progress until an explicit approve or
// reject call.
func (e *Executor) runApproval(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	entity *models.Entity,
	stepExec *models.StepExecution,
) error {
	approverConfig, _ := step.StepConfig["approver_config"].(map[string]any)

	approvers, err := e.recipients.ResolveApprovers(ctx, approverConfig, entity)
	if err != nil {
		return err
	}

	if len(approvers) == 0 {
		return errors.New("no approvers resolved")
	}

	stepExec.AssignedTo = approvers[0].ID

	if hours, ok := timeoutHours(step.StepConfig); ok {
		dueAt := time.Now().UTC().Add(time.Duration(hours * float64(time.Hour)))
		stepExec.DueAt = &dueAt
	}

	ids := make([]string, 0, len(approvers))
	emails := make([]string, 0, len(approvers))

	for _, approver := range approvers {
		ids = append(ids, approver.ID)

		if approver.Email != "" {
			emails = append(emails, approver.Email)
		}
	}

	stepExec.Output = map[string]any{"approvers": ids}

	subjectTemplate, _ := step.StepConfig["subject"].(string)
	messageTemplate, _ := step.StepConfig["message"].(string)

	if len(emails) > 0 && messageTemplate != "" {
		bag := e.composeBag(ctx, workflow, execution, entity, nil)
		subject := e.renderer.Render(subjectTemplate, bag)
		body := e.renderer.Render(messageTemplate, bag)

		err = e.notifier.Send(ctx, notifier.Message{
			EntityType:  execution.EntityType,
			EntityID:    execution.EntityID,
			ExecutionID: execution.ID,
			StepID:      step.ID,
			From:        e.sender(step),
			Recipients:  emails,
			Subject:     subject,
			Body:        body,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "Approval notification failed",
				"step_id", step.ID, "error", err)
		} else {
			stepExec.RecordNotification(emails, subject, messageTemplate, time.Now().UTC())
		}
	}

	e.publishStepAssigned(ctx, execution, stepExec)

	return nil
}

func timeoutHours(config map[string]any) (float64, bool) {
	switch v := config["timeout_hours"].(type) {
	case float64:
		return v, v > 0
	case int:
		return float64(v), v > 0
	default:
		return 0, false
	}
}
