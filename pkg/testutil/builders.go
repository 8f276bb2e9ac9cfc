// Package testutil provides in-memory collaborators and builders shared by
// engine tests.
package testutil

import (
	"context"
	"sync"

	"github.com/tramite-io/tramite/pkg/models"
)

// Directory is an in-memory user directory for tests. Department heads are
// modeled as the department's user holding the "department_head" role.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewDirectory creates a directory seeded with the given users.
func NewDirectory(users ...*models.User) *Directory {
	d := &Directory{users: make(map[string]*models.User, len(users))}
	for _, user := range users {
		d.users[user.ID] = user
	}

	return d
}

// Add inserts or replaces a user.
func (d *Directory) Add(user *models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.users[user.ID] = user
}

// UserByID implements recipients.Directory.
func (d *Directory) UserByID(_ context.Context, id string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.users[id], nil
}

// UsersByRole implements recipients.Directory.
func (d *Directory) UsersByRole(_ context.Context, roles []string) ([]*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []*models.User

	for _, user := range d.users {
		if user.HasRole(roles...) {
			matched = append(matched, user)
		}
	}

	return matched, nil
}

// UsersByRoleInDepartment implements recipients.Directory.
func (d *Directory) UsersByRoleInDepartment(_ context.Context, role, department string) ([]*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []*models.User

	for _, user := range d.users {
		if user.Department == department && user.HasRole(role) {
			matched = append(matched, user)
		}
	}

	return matched, nil
}

// ManagerOf implements recipients.Directory.
func (d *Directory) ManagerOf(_ context.Context, userID string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok || user.ManagerID == "" {
		return nil, nil
	}

	return d.users[user.ManagerID], nil
}

// DepartmentHeadOf implements recipients.Directory.
func (d *Directory) DepartmentHeadOf(_ context.Context, userID string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return nil, nil
	}

	for _, candidate := range d.users {
		if candidate.Department == user.Department && candidate.HasRole("department_head") {
			return candidate, nil
		}
	}

	return nil, nil
}

// NewDocument builds a document entity with the given attributes.
func NewDocument(id, createdBy string, attrs map[string]any) *models.Entity {
	if attrs == nil {
		attrs = map[string]any{}
	}

	return &models.Entity{
		ID:         id,
		Type:       "document",
		CreatedBy:  createdBy,
		Attributes: attrs,
	}
}

// NewMasterWorkflow builds an active master workflow definition for the
// document type with the given steps.
func NewMasterWorkflow(id string, steps ...*models.StepDefinition) *models.WorkflowDefinition {
	for i, step := range steps {
		step.WorkflowID = id
		if step.StepOrder == 0 {
			step.StepOrder = i + 1
		}
	}

	return &models.WorkflowDefinition{
		ID:         id,
		Name:       "Flujo de documentos",
		EntityType: "document",
		Active:     true,
		Master:     true,
		Version:    1,
		Steps:      steps,
	}
}

// NewLegacyWorkflow builds an active non-master workflow definition.
func NewLegacyWorkflow(id string, triggerConds map[string]any, steps ...*models.StepDefinition) *models.WorkflowDefinition {
	workflow := NewMasterWorkflow(id, steps...)
	workflow.Master = false
	workflow.Name = "Flujo secuencial"
	workflow.TriggerConditions = triggerConds

	return workflow
}

// NewStep builds an active step definition.
func NewStep(id string, stepType models.StepType, order int, config map[string]any) *models.StepDefinition {
	return &models.StepDefinition{
		ID:         id,
		Name:       "step " + id,
		Type:       stepType,
		StepOrder:  order,
		StepConfig: config,
		Active:     true,
	}
}
