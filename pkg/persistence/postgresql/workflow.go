package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// WorkflowRepository handles workflow definition database operations. A
// definition is stored across three tables and always loaded whole, with
// its steps and step templates.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowSelect = `
	SELECT
		id
	  , name
	  , description
	  , entity_type
	  , active
	  , master
	  , version
	  , trigger_conditions
	  , variables
	  , created_at
	  , updated_at
	FROM workflow_definitions
`

func (r *WorkflowRepository) MasterByEntityType(ctx context.Context, entityType string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, workflowSelect+" WHERE entity_type = $1 AND master AND active", entityType)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan master workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) ActiveByEntityType(ctx context.Context, entityType string) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		workflowSelect+" WHERE entity_type = $1 AND active AND NOT master ORDER BY created_at", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, workflowSelect+" WHERE id = $1", id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// SaveWorkflow upserts the definition row and replaces its steps and
// templates inside one transaction.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	triggerConditions, err := marshalJSONB(workflow.TriggerConditions)
	if err != nil {
		return err
	}

	variables, err := marshalJSONB(workflow.Variables)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions
			(id, name, description, entity_type, active, master, version, trigger_conditions, variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			entity_type = EXCLUDED.entity_type,
			active = EXCLUDED.active,
			master = EXCLUDED.master,
			version = EXCLUDED.version,
			trigger_conditions = EXCLUDED.trigger_conditions,
			variables = EXCLUDED.variables,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Name, workflow.Description, workflow.EntityType, workflow.Active,
		workflow.Master, workflow.Version, triggerConditions, variables, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM step_definitions WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear steps for workflow %s: %w", workflow.ID, err)
	}

	for _, step := range workflow.Steps {
		if err := r.insertStep(ctx, tx, workflow.ID, step); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) insertStep(ctx context.Context, tx *sql.Tx, workflowID string, step *models.StepDefinition) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	step.WorkflowID = workflowID

	stepConfig, err := marshalJSONB(step.StepConfig)
	if err != nil {
		return err
	}

	conditions, err := marshalJSONB(step.Conditions)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_definitions
			(id, workflow_id, name, step_type, step_order, step_config, conditions, required, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, step.ID, workflowID, step.Name, step.Type, step.StepOrder, stepConfig, conditions, step.Required, step.Active)
	if err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	for _, template := range step.Templates {
		if template.ID == "" {
			template.ID = uuid.New().String()
		}

		template.StepID = step.ID

		recipientConfig, err := marshalJSONB(template.RecipientConfig)
		if err != nil {
			return err
		}

		variableOverride, err := marshalJSONB(template.VariableOverride)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_templates
				(id, step_id, recipient_type, recipient_config, message_template, variable_override, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, template.ID, step.ID, template.RecipientType, recipientConfig, template.MessageTemplate, variableOverride, template.Active)
		if err != nil {
			return fmt.Errorf("failed to save step template %s: %w", template.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(row interface{ Scan(...any) error }) (*models.WorkflowDefinition, error) {
	var (
		workflow          models.WorkflowDefinition
		triggerConditions []byte
		variables         []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.EntityType,
		&workflow.Active,
		&workflow.Master,
		&workflow.Version,
		&triggerConditions,
		&variables,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(triggerConditions, &workflow.TriggerConditions); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(variables, &workflow.Variables); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.WorkflowDefinition) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , workflow_id
		  , name
		  , step_type
		  , step_order
		  , step_config
		  , conditions
		  , required
		  , active
		FROM step_definitions
		WHERE workflow_id = $1
		ORDER BY step_order
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps for workflow %s: %w", workflow.ID, err)
	}

	defer r.closeRows(ctx, rows)

	workflow.Steps = make([]*models.StepDefinition, 0)

	for rows.Next() {
		var (
			step       models.StepDefinition
			stepConfig []byte
			conditions []byte
		)

		err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.Type, &step.StepOrder,
			&stepConfig, &conditions, &step.Required, &step.Active)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if err := unmarshalJSONB(stepConfig, &step.StepConfig); err != nil {
			return err
		}

		if err := unmarshalJSONB(conditions, &step.Conditions); err != nil {
			return err
		}

		workflow.Steps = append(workflow.Steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	for _, step := range workflow.Steps {
		if err := r.loadTemplates(ctx, step); err != nil {
			return err
		}
	}

	return nil
}

func (r *WorkflowRepository) loadTemplates(ctx context.Context, step *models.StepDefinition) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , step_id
		  , recipient_type
		  , recipient_config
		  , message_template
		  , variable_override
		  , active
		FROM step_templates
		WHERE step_id = $1
		ORDER BY id
	`, step.ID)
	if err != nil {
		return fmt.Errorf("failed to query templates for step %s: %w", step.ID, err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var (
			template         models.StepTemplate
			recipientConfig  []byte
			variableOverride []byte
		)

		err := rows.Scan(&template.ID, &template.StepID, &template.RecipientType,
			&recipientConfig, &template.MessageTemplate, &variableOverride, &template.Active)
		if err != nil {
			return fmt.Errorf("failed to scan step template: %w", err)
		}

		if err := unmarshalJSONB(recipientConfig, &template.RecipientConfig); err != nil {
			return err
		}

		if err := unmarshalJSONB(variableOverride, &template.VariableOverride); err != nil {
			return err
		}

		step.Templates = append(step.Templates, &template)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating step templates: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
