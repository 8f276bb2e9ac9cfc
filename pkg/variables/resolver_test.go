package variables_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/variables"
)

type failingRelations struct{}

func (failingRelations) Related(context.Context, *models.Entity, string) (map[string]any, error) {
	return nil, errors.New("directory unavailable")
}

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.EntityType{
		Name: "document",
		Fields: []schema.Field{
			{Name: "title", Type: schema.FieldTypeString},
			{Name: "first_name", Type: schema.FieldTypeString},
			{Name: "last_name", Type: schema.FieldTypeString},
			{Name: "net", Type: schema.FieldTypeNumber},
			{Name: "tax", Type: schema.FieldTypeNumber},
			{Name: "priority", Type: schema.FieldTypeString},
		},
		Relations: []schema.Relation{
			{Name: "creator", TargetType: "user", ForeignKey: "created_by"},
		},
	}))

	return registry
}

func newTestResolver(t *testing.T, relations schema.RelationSource) *variables.Resolver {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return variables.NewResolver(newTestRegistry(t), relations, conditions.NewEvaluator(logger), logger)
}

func testDocument() *models.Entity {
	return &models.Entity{
		ID:        "doc-1",
		Type:      "document",
		CreatedBy: "u1",
		Attributes: map[string]any{
			"title":      "Contrato",
			"first_name": "Ana",
			"last_name":  "García",
			"net":        100.0,
			"tax":        21.0,
			"priority":   "urgent",
		},
	}
}

func TestResolveMappings(t *testing.T) {
	relations := schema.StaticRelations{
		"doc-1": {"creator": {"name": "Ana", "email": "ana@example.com"}},
	}
	resolver := newTestResolver(t, relations)
	entity := testDocument()

	mappings := []*models.VariableMapping{
		{
			Key: "titulo", Kind: models.MappingKindField, Active: true,
			MappingConfig: map[string]any{"field": "title"},
		},
		{
			Key: "creador_email", Kind: models.MappingKindRelation, Active: true,
			MappingConfig: map[string]any{"relation": "creator", "field": "email"},
		},
		{
			Key: "nombre_completo", Kind: models.MappingKindComputed, Active: true,
			MappingConfig: map[string]any{"computation": "concat", "fields": []any{"first_name", "last_name"}},
		},
		{
			Key: "total", Kind: models.MappingKindComputed, Active: true,
			MappingConfig: map[string]any{"computation": "sum", "fields": []any{"net", "tax"}},
		},
		{
			Key: "es_urgente", Kind: models.MappingKindCondition, Active: true,
			MappingConfig: map[string]any{
				"field": "priority", "operator": "=", "value": "urgent",
				"if_true": "Sí", "if_false": "No",
			},
		},
		{
			Key: "inactivo", Kind: models.MappingKindField, Active: false,
			MappingConfig: map[string]any{"field": "title"},
		},
	}

	resolved := resolver.ResolveMappings(context.Background(), entity, "", mappings)

	assert.Equal(t, "Contrato", resolved["titulo"])
	assert.Equal(t, "ana@example.com", resolved["creador_email"])
	assert.Equal(t, "Ana García", resolved["nombre_completo"])
	assert.Equal(t, 121.0, resolved["total"])
	assert.Equal(t, "Sí", resolved["es_urgente"])
	assert.NotContains(t, resolved, "inactivo")
}

func TestResolveMappingMalformedConfigYieldsNil(t *testing.T) {
	resolver := newTestResolver(t, schema.StaticRelations{})
	entity := testDocument()

	tests := []*models.VariableMapping{
		{Key: "no_field", Kind: models.MappingKindField, Active: true},
		{Key: "no_relation", Kind: models.MappingKindRelation, Active: true, MappingConfig: map[string]any{"field": "x"}},
		{Key: "bad_kind", Kind: models.MappingKind("mystery"), Active: true},
		{Key: "bad_computation", Kind: models.MappingKindComputed, Active: true, MappingConfig: map[string]any{"computation": "median"}},
		{Key: "no_method", Kind: models.MappingKindMethod, Active: true, MappingConfig: map[string]any{"method": "missing"}},
	}

	resolved := resolver.ResolveMappings(context.Background(), entity, "", tests)

	for _, mapping := range tests {
		value, present := resolved[mapping.Key]
		assert.True(t, present, mapping.Key)
		assert.Nil(t, value, mapping.Key)
	}
}

func TestResolveMethodMapping(t *testing.T) {
	registry := newTestRegistry(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	require.NoError(t, registry.RegisterMethod("document", "reference", func(_ context.Context, entity *models.Entity, _ map[string]any) (any, error) {
		return "DOC-" + entity.ID, nil
	}))

	resolver := variables.NewResolver(registry, schema.StaticRelations{}, conditions.NewEvaluator(logger), logger)

	resolved := resolver.ResolveMappings(context.Background(), testDocument(), "", []*models.VariableMapping{
		{
			Key: "referencia", Kind: models.MappingKindMethod, Active: true,
			MappingConfig: map[string]any{"method": "reference"},
		},
	})

	assert.Equal(t, "DOC-doc-1", resolved["referencia"])
}

func TestEntityVariables(t *testing.T) {
	relations := schema.StaticRelations{
		"doc-1": {"creator": {"name": "Ana"}},
	}
	resolver := newTestResolver(t, relations)

	state := &models.ApprovalState{Name: "en_revision", Description: "En revisión", Color: "#f90"}

	vars := resolver.EntityVariables(context.Background(), testDocument(), state)

	document, ok := vars["document"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Contrato", document["title"])
	assert.Equal(t, "doc-1", document["id"])
	assert.Equal(t, "en_revision", document["state_name"])
	assert.Equal(t, "En revisión", document["state_description"])
	assert.Equal(t, "#f90", document["state_color"])

	creator, ok := document["creator"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ana", creator["name"])
}

func TestEntityVariablesRelationFailureDegrades(t *testing.T) {
	resolver := newTestResolver(t, failingRelations{})

	vars := resolver.EntityVariables(context.Background(), testDocument(), nil)

	document, ok := vars["document"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, document, "creator")
	assert.Equal(t, "Contrato", document["title"])
}
