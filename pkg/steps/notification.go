package steps

import (
	"context"
	"errors"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
)

// runNotification resolves recipients, renders the message and dispatches
// it. Two config shapes are supported: the normalized StepTemplate list,
// and an inline "recipients" spec on the step config. Zero deliveries fail
// the step.
func (e *Executor) runNotification(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	entity *models.Entity,
	stepExec *models.StepExecution,
) error {
	subjectTemplate, _ := step.StepConfig["subject"].(string)
	sent := 0

	templates := activeTemplates(step)
	if len(templates) == 0 {
		if inline := inlineTemplate(step); inline != nil {
			templates = []*models.StepTemplate{inline}
		}
	}

	for _, template := range templates {
		addresses, err := e.recipients.Resolve(ctx, template.RecipientType, template.RecipientConfig, entity, execution.Context)
		if err != nil {
			e.logger.WarnContext(ctx, "Recipient resolution failed",
				"step_id", step.ID, "recipient_type", template.RecipientType, "error", err)

			continue
		}

		if len(addresses) == 0 {
			continue
		}

		bag := e.composeBag(ctx, workflow, execution, entity, template.VariableOverride)
		subject := e.renderer.Render(subjectTemplate, bag)
		body := e.renderer.Render(template.MessageTemplate, bag)

		err = e.notifier.Send(ctx, notifier.Message{
			EntityType:  execution.EntityType,
			EntityID:    execution.EntityID,
			ExecutionID: execution.ID,
			StepID:      step.ID,
			From:        e.sender(step),
			Recipients:  addresses,
			Subject:     subject,
			Body:        body,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "Notification delivery failed",
				"step_id", step.ID, "recipients", addresses, "error", err)

			continue
		}

		stepExec.RecordNotification(addresses, subject, template.MessageTemplate, time.Now().UTC())

		sent++
	}

	if sent == 0 {
		return errors.New("no notifications delivered")
	}

	stepExec.Output = map[string]any{"notifications_sent": sent}

	return nil
}

func activeTemplates(step *models.StepDefinition) []*models.StepTemplate {
	var active []*models.StepTemplate

	for _, template := range step.Templates {
		if template.Active {
			active = append(active, template)
		}
	}

	return active
}

// inlineTemplate adapts the legacy inline config shape,
// step_config["recipients"] = {"type": ..., "config": {...}} with the
// message under "message", into a synthetic template.
func inlineTemplate(step *models.StepDefinition) *models.StepTemplate {
	spec, ok := step.StepConfig["recipients"].(map[string]any)
	if !ok {
		return nil
	}

	recipientType, _ := spec["type"].(string)
	if recipientType == "" {
		return nil
	}

	config, _ := spec["config"].(map[string]any)
	message, _ := step.StepConfig["message"].(string)

	return &models.StepTemplate{
		StepID:          step.ID,
		RecipientType:   models.RecipientType(recipientType),
		RecipientConfig: config,
		MessageTemplate: message,
		Active:          true,
	}
}
