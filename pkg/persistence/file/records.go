package file

import (
	"context"
	"path"
	"sort"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

const (
	variableMappingsDir = "variable_mappings"
	entitiesDir         = "entities"
)

// VariableMappingRepository stores declared variable mappings.
type VariableMappingRepository struct {
	root string
}

func (vr *VariableMappingRepository) MappingsByEntityType(_ context.Context, entityType string) ([]*models.VariableMapping, error) {
	ids, err := listRecordIDs(vr.root, variableMappingsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	var matched []*models.VariableMapping

	for _, id := range ids {
		var mapping models.VariableMapping

		if err := readRecord(vr.root, variableMappingsDir, id, &mapping, persistence.ErrEntityNotFound); err != nil {
			return nil, err
		}

		if mapping.EntityType == entityType {
			matched = append(matched, &mapping)
		}
	}

	return matched, nil
}

func (vr *VariableMappingRepository) SaveMapping(_ context.Context, mapping *models.VariableMapping) error {
	return writeRecord(vr.root, variableMappingsDir, mapping.ID, mapping)
}

// EntityRepository stores entity records, grouped by entity type so two
// types may reuse the same id.
type EntityRepository struct {
	root string
}

func (er *EntityRepository) EntityByID(_ context.Context, entityType, id string) (*models.Entity, error) {
	var entity models.Entity

	dir := path.Join(entitiesDir, entityType)

	if err := readRecord(er.root, dir, id, &entity, persistence.ErrEntityNotFound); err != nil {
		return nil, err
	}

	return &entity, nil
}

func (er *EntityRepository) SaveEntity(_ context.Context, entity *models.Entity) error {
	return writeRecord(er.root, path.Join(entitiesDir, entity.Type), entity.ID, entity)
}
