// Package schema holds the explicit, startup-populated registry of entity
// types: their fields, relations, status constants and generated variable
// catalogue. The engine consults it at condition-evaluation and render time
// instead of reflecting over the host persistence layer.
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/tramite-io/tramite/pkg/models"
)

// FieldType is the declared type of an entity field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
)

// Field describes one declared entity attribute.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
	Label    string    `json:"label,omitempty"`
}

// Relation describes a named link from one entity type to another.
type Relation struct {
	Name       string `json:"name"`
	TargetType string `json:"target_type"`
	ForeignKey string `json:"foreign_key,omitempty"`
}

// Method is a named, low-arity entity operation invokable by the
// `call_method` action.
type Method func(ctx context.Context, entity *models.Entity, args map[string]any) (any, error)

// EntityType is the registered schema of one target entity type.
type EntityType struct {
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields"`
	Relations []Relation `json:"relations,omitempty"`

	// StatusField names the flat status mirror column, empty when the type
	// has no such field. The lifecycle layer mirrors state names into it.
	StatusField string `json:"status_field,omitempty"`

	// StatusConstants maps internal status values to display labels.
	StatusConstants map[string]string `json:"status_constants,omitempty"`

	methods map[string]Method
}

// Field returns the declared field by name.
func (t *EntityType) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// Relation returns the declared relation by name.
func (t *EntityType) Relation(name string) (Relation, bool) {
	for _, r := range t.Relations {
		if r.Name == name {
			return r, true
		}
	}

	return Relation{}, false
}

// Method returns the registered entity method by name.
func (t *EntityType) Method(name string) (Method, bool) {
	m, ok := t.methods[name]

	return m, ok
}

// VariableCatalogue generates the variable paths derivable from this type:
// every declared field plus every relation expanded with the target type's
// fields when registered.
func (t *EntityType) VariableCatalogue(registry *Registry) []string {
	catalogue := make([]string, 0, len(t.Fields))

	for _, f := range t.Fields {
		catalogue = append(catalogue, t.Name+"."+f.Name)
	}

	for _, rel := range t.Relations {
		target, ok := registry.Lookup(rel.TargetType)
		if !ok {
			catalogue = append(catalogue, t.Name+"."+rel.Name)

			continue
		}

		for _, f := range target.Fields {
			catalogue = append(catalogue, t.Name+"."+rel.Name+"."+f.Name)
		}
	}

	return catalogue
}

// Registry is the process-wide entity type catalogue, populated at startup.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*EntityType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*EntityType)}
}

// Register adds an entity type. Registering the same name twice is an error;
// the catalogue is meant to be assembled once during startup.
func (r *Registry) Register(entityType *EntityType) error {
	if entityType == nil || entityType.Name == "" {
		return fmt.Errorf("entity type must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[entityType.Name]; exists {
		return fmt.Errorf("entity type %q already registered", entityType.Name)
	}

	if entityType.methods == nil {
		entityType.methods = make(map[string]Method)
	}

	r.types[entityType.Name] = entityType

	return nil
}

// RegisterMethod attaches a named operation to a registered entity type.
func (r *Registry) RegisterMethod(typeName, methodName string, method Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entityType, ok := r.types[typeName]
	if !ok {
		return fmt.Errorf("entity type %q not registered", typeName)
	}

	entityType.methods[methodName] = method

	return nil
}

// Lookup returns the registered entity type by name.
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entityType, ok := r.types[name]

	return entityType, ok
}

// TypeNames returns the names of all registered entity types.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}

	return names
}

// RelationSource fetches the attributes of an entity's named relation. The
// engine only reads through this seam; resolution and caching live with the
// implementer.
type RelationSource interface {
	Related(ctx context.Context, entity *models.Entity, relation string) (map[string]any, error)
}

// StaticRelations is a fixture RelationSource keyed by entity id then
// relation name. Used in tests and the file-backed setup.
type StaticRelations map[string]map[string]map[string]any

// Related implements RelationSource.
func (s StaticRelations) Related(_ context.Context, entity *models.Entity, relation string) (map[string]any, error) {
	byEntity, ok := s[entity.ID]
	if !ok {
		return nil, nil
	}

	return byEntity[relation], nil
}
