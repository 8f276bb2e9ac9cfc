package file

import (
	"context"
	"sort"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores workflow definitions as JSON documents, one file
// per workflow with its steps and templates embedded.
type WorkflowRepository struct {
	root string
}

func (wr *WorkflowRepository) MasterByEntityType(ctx context.Context, entityType string) (*models.WorkflowDefinition, error) {
	workflows, err := wr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, workflow := range workflows {
		if workflow.EntityType == entityType && workflow.Master && workflow.Active {
			return workflow, nil
		}
	}

	return nil, persistence.ErrWorkflowNotFound
}

func (wr *WorkflowRepository) ActiveByEntityType(ctx context.Context, entityType string) ([]*models.WorkflowDefinition, error) {
	workflows, err := wr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.WorkflowDefinition

	for _, workflow := range workflows {
		if workflow.EntityType == entityType && workflow.Active && !workflow.Master {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}

func (wr *WorkflowRepository) WorkflowByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var workflow models.WorkflowDefinition

	if err := readRecord(wr.root, workflowsDir, id, &workflow, persistence.ErrWorkflowNotFound); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.WorkflowDefinition) error {
	return writeRecord(wr.root, workflowsDir, workflow.ID, workflow)
}

func (wr *WorkflowRepository) loadAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := listRecordIDs(wr.root, workflowsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.WorkflowByID(ctx, id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
