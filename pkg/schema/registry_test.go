package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/schema"
)

func documentType() *schema.EntityType {
	return &schema.EntityType{
		Name: "document",
		Fields: []schema.Field{
			{Name: "title", Type: schema.FieldTypeString},
			{Name: "amount", Type: schema.FieldTypeNumber, Nullable: true},
			{Name: "status", Type: schema.FieldTypeString},
		},
		Relations: []schema.Relation{
			{Name: "creator", TargetType: "user", ForeignKey: "created_by"},
		},
		StatusField: "status",
		StatusConstants: map[string]string{
			"draft":    "Borrador",
			"approved": "Aprobado",
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := schema.NewRegistry()

	require.NoError(t, registry.Register(documentType()))

	entityType, ok := registry.Lookup("document")
	require.True(t, ok)
	assert.Equal(t, "document", entityType.Name)

	_, ok = registry.Lookup("invoice")
	assert.False(t, ok)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	registry := schema.NewRegistry()

	require.NoError(t, registry.Register(documentType()))
	assert.Error(t, registry.Register(documentType()))
}

func TestRegistryRejectsUnnamedType(t *testing.T) {
	registry := schema.NewRegistry()

	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(&schema.EntityType{}))
}

func TestEntityTypeFieldAndRelation(t *testing.T) {
	entityType := documentType()

	field, ok := entityType.Field("amount")
	require.True(t, ok)
	assert.Equal(t, schema.FieldTypeNumber, field.Type)
	assert.True(t, field.Nullable)

	_, ok = entityType.Field("missing")
	assert.False(t, ok)

	relation, ok := entityType.Relation("creator")
	require.True(t, ok)
	assert.Equal(t, "user", relation.TargetType)
}

func TestRegisterMethod(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(documentType()))

	err := registry.RegisterMethod("document", "archive", func(_ context.Context, entity *models.Entity, _ map[string]any) (any, error) {
		entity.SetAttr("archived", true)

		return "archived", nil
	})
	require.NoError(t, err)

	entityType, _ := registry.Lookup("document")
	method, ok := entityType.Method("archive")
	require.True(t, ok)

	entity := &models.Entity{ID: "doc-1", Type: "document"}
	result, err := method(context.Background(), entity, nil)
	require.NoError(t, err)
	assert.Equal(t, "archived", result)
	assert.Equal(t, true, entity.Attr("archived"))

	assert.Error(t, registry.RegisterMethod("invoice", "archive", nil))
}

func TestVariableCatalogue(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(documentType()))
	require.NoError(t, registry.Register(&schema.EntityType{
		Name: "user",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldTypeString},
			{Name: "email", Type: schema.FieldTypeString},
		},
	}))

	entityType, _ := registry.Lookup("document")
	catalogue := entityType.VariableCatalogue(registry)

	assert.Contains(t, catalogue, "document.title")
	assert.Contains(t, catalogue, "document.amount")
	assert.Contains(t, catalogue, "document.creator.name")
	assert.Contains(t, catalogue, "document.creator.email")
}

func TestStaticRelations(t *testing.T) {
	source := schema.StaticRelations{
		"doc-1": {
			"creator": {"name": "Ana", "email": "ana@example.com"},
		},
	}

	related, err := source.Related(context.Background(), &models.Entity{ID: "doc-1"}, "creator")
	require.NoError(t, err)
	assert.Equal(t, "Ana", related["name"])

	related, err = source.Related(context.Background(), &models.Entity{ID: "doc-2"}, "creator")
	require.NoError(t, err)
	assert.Nil(t, related)
}
