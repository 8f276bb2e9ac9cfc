// Package file provides a file-based persistence implementation. Every
// record is stored as one JSON document under a subdirectory of the root,
// which keeps local development and demos free of a database.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tramite-io/tramite/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	lifecycleRepo *LifecycleRepository
	variableRepo  *VariableMappingRepository
	entityRepo    *EntityRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is stripped so the same database URL
// variable can select the backend.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  &WorkflowRepository{root: cleanRoot},
		executionRepo: &ExecutionRepository{root: cleanRoot},
		lifecycleRepo: &LifecycleRepository{root: cleanRoot},
		variableRepo:  &VariableMappingRepository{root: cleanRoot},
		entityRepo:    &EntityRepository{root: cleanRoot},
	}
}

// Workflows returns the workflow repository.
func (fp *Persistence) Workflows() persistence.WorkflowRepository { return fp.workflowRepo }

// Executions returns the execution repository.
func (fp *Persistence) Executions() persistence.ExecutionRepository { return fp.executionRepo }

// Lifecycle returns the lifecycle repository.
func (fp *Persistence) Lifecycle() persistence.LifecycleRepository { return fp.lifecycleRepo }

// VariableMappings returns the variable mapping repository.
func (fp *Persistence) VariableMappings() persistence.VariableMappingRepository {
	return fp.variableRepo
}

// Entities returns the entity repository.
func (fp *Persistence) Entities() persistence.EntityRepository { return fp.entityRepo }

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// writeRecord marshals a record into <root>/<dir>/<id>.json, creating the
// directory on first use.
func writeRecord(root, dir, id string, record any) error {
	targetDir := filepath.Join(root, dir)

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", targetDir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	filePath := filepath.Join(targetDir, id+".json")

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write record %s: %w", filePath, err)
	}

	return nil
}

// readRecord unmarshals <root>/<dir>/<id>.json into target. Missing files
// are reported with notFound.
func readRecord(root, dir, id string, target any, notFound error) error {
	filePath := filepath.Join(root, dir, id+".json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read record %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal record %s: %w", filePath, err)
	}

	return nil
}

// listRecordIDs returns the record ids stored under <root>/<dir>. A missing
// directory means no records yet.
func listRecordIDs(root, dir string) ([]string, error) {
	targetDir := filepath.Join(root, dir)

	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		return nil, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(targetDir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", targetDir, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, fileName := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(fileName, ".json"))
	}

	return ids, nil
}
