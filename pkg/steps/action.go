package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// runAction sub-dispatches on the "action_type" config key.
func (e *Executor) runAction(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	entity *models.Entity,
	stepExec *models.StepExecution,
) error {
	actionType, _ := step.StepConfig["action_type"].(string)

	switch actionType {
	case "update_model":
		return e.actionUpdateModel(ctx, step, entity, stepExec)
	case "send_email":
		return e.actionSendEmail(ctx, workflow, execution, step, entity, stepExec)
	case "create_record":
		return e.actionCreateRecord(ctx, execution, step, stepExec)
	case "call_method":
		return e.actionCallMethod(ctx, step, entity, stepExec)
	case "custom":
		// Passthrough for externally handled actions.
		e.logger.InfoContext(ctx, "Custom action passthrough", "step_id", step.ID)

		stepExec.Output = map[string]any{"action": "custom", "handled": false}

		return nil
	default:
		return fmt.Errorf("unknown action type %q", actionType)
	}
}

// actionUpdateModel applies the configured field map to the entity and
// persists it.
func (e *Executor) actionUpdateModel(ctx context.Context, step *models.StepDefinition, entity *models.Entity, stepExec *models.StepExecution) error {
	if entity == nil {
		return errors.New("update_model requires an entity")
	}

	fields, ok := step.StepConfig["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return errors.New("update_model requires a fields map")
	}

	for field, value := range fields {
		entity.SetAttr(field, value)
	}

	if err := e.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to persist entity update: %w", err)
	}

	stepExec.Output = map[string]any{"updated_fields": fields}

	return nil
}

// actionSendEmail performs an ad hoc template send using the inline
// recipient spec.
func (e *Executor) actionSendEmail(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	step *models.StepDefinition,
	entity *models.Entity,
	stepExec *models.StepExecution,
) error {
	template := inlineTemplate(step)
	if template == nil {
		return errors.New("send_email requires a recipients spec")
	}

	addresses, err := e.recipients.Resolve(ctx, template.RecipientType, template.RecipientConfig, entity, execution.Context)
	if err != nil {
		return err
	}

	if len(addresses) == 0 {
		return errors.New("send_email resolved no recipients")
	}

	bag := e.composeBag(ctx, workflow, execution, entity, nil)
	subjectTemplate, _ := step.StepConfig["subject"].(string)
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
		return fmt.Errorf("failed to deliver email: %w", err)
	}

	stepExec.RecordNotification(addresses, subject, template.MessageTemplate, time.Now().UTC())
	stepExec.Output = map[string]any{"recipients": addresses}

	return nil
}

// actionCreateRecord creates an auxiliary entity from a type and data map.
func (e *Executor) actionCreateRecord(ctx context.Context, execution *models.WorkflowExecution, step *models.StepDefinition, stepExec *models.StepExecution) error {
	recordType, _ := step.StepConfig["record_type"].(string)
	if recordType == "" {
		return errors.New("create_record requires a record_type")
	}

	data, _ := step.StepConfig["data"].(map[string]any)

	actingUser, _ := execution.Context["user_id"].(string)

	record := &models.Entity{
		ID:         uuid.New().String(),
		Type:       recordType,
		Attributes: data,
		CreatedBy:  actingUser,
	}

	// New entities enter their type's initial lifecycle state; types
	// without a lifecycle stay stateless.
	initial, err := e.persistence.Lifecycle().InitialState(ctx, recordType)
	switch {
	case err == nil:
		record.StateID = initial.ID

		if entityType, ok := e.registry.Lookup(recordType); ok && entityType.StatusField != "" {
			record.SetAttr(entityType.StatusField, initial.Name)
		}
	case errors.Is(err, persistence.ErrStateNotFound):
	default:
		return fmt.Errorf("failed to look up initial state for %s: %w", recordType, err)
	}

	if err := e.persistence.Entities().SaveEntity(ctx, record); err != nil {
		return fmt.Errorf("failed to create %s record: %w", recordType, err)
	}

	stepExec.Output = map[string]any{"record_type": recordType, "record_id": record.ID}

	return nil
}

// actionCallMethod invokes a named entity method from the schema registry.
func (e *Executor) actionCallMethod(ctx context.Context, step *models.StepDefinition, entity *models.Entity, stepExec *models.StepExecution) error {
	if entity == nil {
		return errors.New("call_method requires an entity")
	}

	methodName, _ := step.StepConfig["method"].(string)
	if methodName == "" {
		return errors.New("call_method requires a method name")
	}

	entityType, ok := e.registry.Lookup(entity.Type)
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity.Type)
	}

	method, ok := entityType.Method(methodName)
	if !ok {
		return fmt.Errorf("unknown method %q on %s", methodName, entity.Type)
	}

	args, _ := step.StepConfig["args"].(map[string]any)

	result, err := method(ctx, entity, args)
	if err != nil {
		return fmt.Errorf("method %s failed: %w", methodName, err)
	}

	stepExec.Output = map[string]any{"method": methodName, "result": result}

	return nil
}
