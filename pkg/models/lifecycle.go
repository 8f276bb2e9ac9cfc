package models

// ApprovalState is a named lifecycle state scoped to one target entity type.
type ApprovalState struct {
	ID          string `json:"id"`
	EntityType  string `json:"entity_type" validate:"required"`
	Name        string `json:"name"        validate:"required"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	IsInitial   bool   `json:"is_initial"`
	IsFinal     bool   `json:"is_final"`
	SortOrder   int    `json:"sort_order"`
}

// FieldGuard is one ordered field predicate on a transition. All guards of a
// transition are ANDed.
type FieldGuard struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// StateTransition is a directed edge between two ApprovalStates of the same
// entity type, with guard and side-effect metadata.
type StateTransition struct {
	ID          string `json:"id"`
	EntityType  string `json:"entity_type" validate:"required"`
	Name        string `json:"name"        validate:"required"`
	FromStateID string `json:"from_state_id" validate:"required"`
	ToStateID   string `json:"to_state_id"   validate:"required"`

	// Permission names a coarse permission the acting user must hold, empty
	// means no permission check.
	Permission string `json:"permission,omitempty"`

	// Roles is an any-of role set; empty means no role check.
	Roles []string `json:"roles,omitempty"`

	// Guards are field predicates on the entity, ANDed in order.
	Guards []FieldGuard `json:"guards,omitempty"`

	// RequiresApproval marks transitions that should raise an approval
	// workflow after committing.
	RequiresApproval bool `json:"requires_approval"`

	// NotificationTemplate, when set, names the message template sent after
	// the transition commits.
	NotificationTemplate string `json:"notification_template,omitempty"`
}
