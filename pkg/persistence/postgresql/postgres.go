// Package postgresql provides the PostgreSQL persistence implementation for
// the workflow engine.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	lifecycleRepo *LifecycleRepository
	variableRepo  *VariableMappingRepository
	entityRepo    *EntityRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{db: database, logger: logger},
		executionRepo: &ExecutionRepository{db: database, logger: logger},
		lifecycleRepo: &LifecycleRepository{db: database, logger: logger},
		variableRepo:  &VariableMappingRepository{db: database},
		entityRepo:    &EntityRepository{db: database},
	}, nil
}

// Workflows returns the workflow repository.
func (p *Persistence) Workflows() persistence.WorkflowRepository { return p.workflowRepo }

// Executions returns the execution repository.
func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executionRepo }

// Lifecycle returns the lifecycle repository.
func (p *Persistence) Lifecycle() persistence.LifecycleRepository { return p.lifecycleRepo }

// VariableMappings returns the variable mapping repository.
func (p *Persistence) VariableMappings() persistence.VariableMappingRepository {
	return p.variableRepo
}

// Entities returns the entity repository.
func (p *Persistence) Entities() persistence.EntityRepository { return p.entityRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// marshalJSONB serializes a value for a JSONB column, mapping nil to SQL
// NULL.
func marshalJSONB(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONB value: %w", err)
	}

	return data, nil
}

// unmarshalJSONB deserializes a JSONB column into target, leaving target
// untouched for NULL columns.
func unmarshalJSONB(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB value: %w", err)
	}

	return nil
}
