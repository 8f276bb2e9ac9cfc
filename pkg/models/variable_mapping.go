package models

// MappingKind identifies how a declared variable is derived from an entity.
type MappingKind string

const (
	MappingKindField     MappingKind = "field"
	MappingKindRelation  MappingKind = "relation_field"
	MappingKindMethod    MappingKind = "method"
	MappingKindComputed  MappingKind = "computed"
	MappingKindCondition MappingKind = "condition"
)

// KnownMappingKinds lists every supported mapping kind.
var KnownMappingKinds = []MappingKind{
	MappingKindField,
	MappingKindRelation,
	MappingKindMethod,
	MappingKindComputed,
	MappingKindCondition,
}

// VariableMapping declares one derivable template variable for a target
// entity type. An unknown kind or malformed config resolves to nil at
// render time, it never fails a workflow.
type VariableMapping struct {
	ID         string      `json:"id"`
	EntityType string      `json:"entity_type" validate:"required"`
	Key        string      `json:"key"          validate:"required"`
	Kind       MappingKind `json:"mapping_kind" validate:"required"`

	// MappingConfig is the persisted schema-less configuration for the
	// mapping kind ("field", "relation", "computation", ...). Key names are
	// stable, stored rows depend on them.
	MappingConfig map[string]any `json:"mapping_config,omitempty"`

	DataType string `json:"data_type,omitempty"`
	Active   bool   `json:"active"`
}
