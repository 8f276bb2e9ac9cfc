// Package memory provides an in-memory persistence implementation used by
// tests and local development. All repositories share one mutex; the engine
// itself is synchronous per invocation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by maps.
type Persistence struct {
	mu sync.RWMutex

	workflows        map[string]*models.WorkflowDefinition
	executions       map[string]*models.WorkflowExecution
	stepExecutions   map[string]*models.StepExecution
	states           map[string]*models.ApprovalState
	transitions      map[string]*models.StateTransition
	variableMappings map[string][]*models.VariableMapping
	entities         map[string]map[string]*models.Entity
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:        make(map[string]*models.WorkflowDefinition),
		executions:       make(map[string]*models.WorkflowExecution),
		stepExecutions:   make(map[string]*models.StepExecution),
		states:           make(map[string]*models.ApprovalState),
		transitions:      make(map[string]*models.StateTransition),
		variableMappings: make(map[string][]*models.VariableMapping),
		entities:         make(map[string]map[string]*models.Entity),
	}
}

// Workflows returns the workflow repository.
func (p *Persistence) Workflows() persistence.WorkflowRepository { return (*workflowRepo)(p) }

// Executions returns the execution repository.
func (p *Persistence) Executions() persistence.ExecutionRepository { return (*executionRepo)(p) }

// Lifecycle returns the lifecycle repository.
func (p *Persistence) Lifecycle() persistence.LifecycleRepository { return (*lifecycleRepo)(p) }

// VariableMappings returns the variable mapping repository.
func (p *Persistence) VariableMappings() persistence.VariableMappingRepository {
	return (*variableMappingRepo)(p)
}

// Entities returns the entity repository.
func (p *Persistence) Entities() persistence.EntityRepository { return (*entityRepo)(p) }

// HealthCheck always succeeds for the in-memory layer.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory layer.
func (p *Persistence) Close(_ context.Context) error { return nil }

type workflowRepo Persistence

func (r *workflowRepo) MasterByEntityType(_ context.Context, entityType string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, workflow := range r.workflows {
		if workflow.EntityType == entityType && workflow.Master && workflow.Active {
			return workflow, nil
		}
	}

	return nil, persistence.ErrWorkflowNotFound
}

func (r *workflowRepo) ActiveByEntityType(_ context.Context, entityType string) ([]*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.WorkflowDefinition

	for _, workflow := range r.workflows {
		if workflow.EntityType == entityType && workflow.Active && !workflow.Master {
			matched = append(matched, workflow)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return matched, nil
}

func (r *workflowRepo) WorkflowByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (r *workflowRepo) SaveWorkflow(_ context.Context, workflow *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows[workflow.ID] = workflow

	return nil
}

type executionRepo Persistence

func (r *executionRepo) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executions[execution.ID] = execution

	return nil
}

func (r *executionRepo) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

func (r *executionRepo) ExecutionsByEntity(_ context.Context, entityType, entityID string) ([]*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.WorkflowExecution

	for _, execution := range r.executions {
		if execution.EntityType == entityType && execution.EntityID == entityID {
			matched = append(matched, execution)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})

	return matched, nil
}

func (r *executionRepo) SaveStepExecution(_ context.Context, step *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stepExecutions[step.ID] = step

	return nil
}

func (r *executionRepo) StepExecutionByID(_ context.Context, id string) (*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.stepExecutions[id]
	if !ok {
		return nil, persistence.ErrStepExecutionNotFound
	}

	return step, nil
}

func (r *executionRepo) StepExecutionsByExecution(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.StepExecution

	for _, step := range r.stepExecutions {
		if step.ExecutionID == executionID {
			matched = append(matched, step)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})

	return matched, nil
}

func (r *executionRepo) OverdueStepExecutions(_ context.Context, now time.Time) ([]*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var overdue []*models.StepExecution

	for _, step := range r.stepExecutions {
		if step.Status.IsTerminal() || step.DueAt == nil {
			continue
		}

		if !step.DueAt.After(now) {
			overdue = append(overdue, step)
		}
	}

	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ID < overdue[j].ID })

	return overdue, nil
}

type lifecycleRepo Persistence

func (r *lifecycleRepo) InitialState(_ context.Context, entityType string) (*models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, state := range r.states {
		if state.EntityType == entityType && state.IsInitial {
			return state, nil
		}
	}

	return nil, persistence.ErrNoInitialState
}

func (r *lifecycleRepo) StateByID(_ context.Context, id string) (*models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[id]
	if !ok {
		return nil, persistence.ErrStateNotFound
	}

	return state, nil
}

func (r *lifecycleRepo) StatesByEntityType(_ context.Context, entityType string) ([]*models.ApprovalState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.ApprovalState

	for _, state := range r.states {
		if state.EntityType == entityType {
			matched = append(matched, state)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].SortOrder < matched[j].SortOrder })

	return matched, nil
}

func (r *lifecycleRepo) SaveState(_ context.Context, state *models.ApprovalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.ID] = state

	return nil
}

func (r *lifecycleRepo) TransitionByID(_ context.Context, id string) (*models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transition, ok := r.transitions[id]
	if !ok {
		return nil, persistence.ErrTransitionNotFound
	}

	return transition, nil
}

func (r *lifecycleRepo) TransitionByName(_ context.Context, entityType, name string) (*models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, transition := range r.transitions {
		if transition.EntityType == entityType && transition.Name == name {
			return transition, nil
		}
	}

	return nil, persistence.ErrTransitionNotFound
}

func (r *lifecycleRepo) TransitionsFromState(_ context.Context, stateID string) ([]*models.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.StateTransition

	for _, transition := range r.transitions {
		if transition.FromStateID == stateID {
			matched = append(matched, transition)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	return matched, nil
}

func (r *lifecycleRepo) SaveTransition(_ context.Context, transition *models.StateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions[transition.ID] = transition

	return nil
}

type variableMappingRepo Persistence

func (r *variableMappingRepo) MappingsByEntityType(_ context.Context, entityType string) ([]*models.VariableMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.variableMappings[entityType], nil
}

func (r *variableMappingRepo) SaveMapping(_ context.Context, mapping *models.VariableMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.variableMappings[mapping.EntityType] {
		if existing.ID == mapping.ID {
			r.variableMappings[mapping.EntityType][i] = mapping

			return nil
		}
	}

	r.variableMappings[mapping.EntityType] = append(r.variableMappings[mapping.EntityType], mapping)

	return nil
}

type entityRepo Persistence

func (r *entityRepo) EntityByID(_ context.Context, entityType, id string) (*models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID, ok := r.entities[entityType]
	if !ok {
		return nil, persistence.ErrEntityNotFound
	}

	entity, ok := byID[id]
	if !ok {
		return nil, persistence.ErrEntityNotFound
	}

	return entity, nil
}

func (r *entityRepo) SaveEntity(_ context.Context, entity *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entities[entity.Type]
	if !ok {
		byID = make(map[string]*models.Entity)
		r.entities[entity.Type] = byID
	}

	byID[entity.ID] = entity

	return nil
}
