package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// VariableMappingRepository handles declared variable mapping rows.
type VariableMappingRepository struct {
	db *sql.DB
}

func (r *VariableMappingRepository) MappingsByEntityType(ctx context.Context, entityType string) ([]*models.VariableMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , entity_type
		  , key
		  , mapping_kind
		  , mapping_config
		  , data_type
		  , active
		FROM variable_mappings
		WHERE entity_type = $1
		ORDER BY key
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query variable mappings: %w", err)
	}

	defer func() { _ = rows.Close() }()

	mappings := make([]*models.VariableMapping, 0)

	for rows.Next() {
		var (
			mapping models.VariableMapping
			config  []byte
		)

		err := rows.Scan(&mapping.ID, &mapping.EntityType, &mapping.Key, &mapping.Kind,
			&config, &mapping.DataType, &mapping.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable mapping: %w", err)
		}

		if err := unmarshalJSONB(config, &mapping.MappingConfig); err != nil {
			return nil, err
		}

		mappings = append(mappings, &mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variable mappings: %w", err)
	}

	return mappings, nil
}

func (r *VariableMappingRepository) SaveMapping(ctx context.Context, mapping *models.VariableMapping) error {
	config, err := marshalJSONB(mapping.MappingConfig)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variable_mappings
			(id, entity_type, key, mapping_kind, mapping_config, data_type, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			mapping_kind = EXCLUDED.mapping_kind,
			mapping_config = EXCLUDED.mapping_config,
			data_type = EXCLUDED.data_type,
			active = EXCLUDED.active
	`, mapping.ID, mapping.EntityType, mapping.Key, mapping.Kind, config, mapping.DataType, mapping.Active)
	if err != nil {
		return fmt.Errorf("failed to save variable mapping %s: %w", mapping.ID, err)
	}

	return nil
}

// EntityRepository handles the generic entity rows workflows act on.
type EntityRepository struct {
	db *sql.DB
}

func (r *EntityRepository) EntityByID(ctx context.Context, entityType, id string) (*models.Entity, error) {
	var (
		entity     models.Entity
		attributes []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			entity_type
		  , id
		  , attributes
		  , state_id
		  , created_by
		  , updated_by
		  , created_at
		  , updated_at
		FROM entities
		WHERE entity_type = $1 AND id = $2
	`, entityType, id).Scan(&entity.Type, &entity.ID, &attributes, &entity.StateID,
		&entity.CreatedBy, &entity.UpdatedBy, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEntityNotFound
		}

		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if err := unmarshalJSONB(attributes, &entity.Attributes); err != nil {
		return nil, err
	}

	return &entity, nil
}

func (r *EntityRepository) SaveEntity(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	entity.UpdatedAt = now

	attributes, err := marshalJSONB(entity.Attributes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities
			(entity_type, id, attributes, state_id, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			attributes = EXCLUDED.attributes,
			state_id = EXCLUDED.state_id,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, entity.Type, entity.ID, attributes, entity.StateID, entity.CreatedBy, entity.UpdatedBy,
		entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save entity %s/%s: %w", entity.Type, entity.ID, err)
	}

	return nil
}
