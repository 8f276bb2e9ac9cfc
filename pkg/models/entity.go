package models

import "time"

// Entity is the generic record a workflow or lifecycle state is attached to.
// The engine never interprets attributes beyond what conditions, variable
// mappings and the schema registry declare.
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type" validate:"required"`
	Attributes map[string]any `json:"attributes,omitempty"`

	// StateID is the current lifecycle state, empty for types without a
	// lifecycle.
	StateID string `json:"state_id,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attr returns the named attribute, nil when absent.
func (e *Entity) Attr(name string) any {
	if e.Attributes == nil {
		return nil
	}

	return e.Attributes[name]
}

// HasAttr reports whether the named attribute is present, regardless of its
// value.
func (e *Entity) HasAttr(name string) bool {
	if e.Attributes == nil {
		return false
	}

	_, ok := e.Attributes[name]

	return ok
}

// SetAttr sets the named attribute, allocating the map when needed.
func (e *Entity) SetAttr(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}

	e.Attributes[name] = value
}

// User is the acting or addressed user as the engine sees it: just enough
// identity for guards, approvals and recipient resolution.
type User struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles,omitempty"`
	Department string   `json:"department,omitempty"`
	ManagerID  string   `json:"manager_id,omitempty"`
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}

	return false
}
