package recipients

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tramite-io/tramite/pkg/models"
)

// FileDirectory is a Directory backed by a JSON file holding an array of
// users. It is loaded once at startup; hosts with a real user store plug in
// their own Directory instead.
type FileDirectory struct {
	users map[string]*models.User
}

// NewFileDirectory loads the directory from the given JSON file.
func NewFileDirectory(path string) (*FileDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var users []*models.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	directory := &FileDirectory{users: make(map[string]*models.User, len(users))}
	for _, user := range users {
		directory.users[user.ID] = user
	}

	return directory, nil
}

// UserByID implements Directory.
func (d *FileDirectory) UserByID(_ context.Context, id string) (*models.User, error) {
	return d.users[id], nil
}

// UsersByRole implements Directory.
func (d *FileDirectory) UsersByRole(_ context.Context, roles []string) ([]*models.User, error) {
	var matched []*models.User

	for _, user := range d.users {
		if user.HasRole(roles...) {
			matched = append(matched, user)
		}
	}

	return matched, nil
}

// UsersByRoleInDepartment implements Directory.
func (d *FileDirectory) UsersByRoleInDepartment(_ context.Context, role, department string) ([]*models.User, error) {
	var matched []*models.User

	for _, user := range d.users {
		if user.Department == department && user.HasRole(role) {
			matched = append(matched, user)
		}
	}

	return matched, nil
}

// ManagerOf implements Directory.
func (d *FileDirectory) ManagerOf(_ context.Context, userID string) (*models.User, error) {
	user, ok := d.users[userID]
	if !ok || user.ManagerID == "" {
		return nil, nil
	}

	return d.users[user.ManagerID], nil
}

// DepartmentHeadOf implements Directory.
func (d *FileDirectory) DepartmentHeadOf(_ context.Context, userID string) (*models.User, error) {
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
