package conditions_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/models"
)

func newEvaluator() *conditions.Evaluator {
	return conditions.NewEvaluator(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func testEntity() *models.Entity {
	return &models.Entity{
		ID:   "doc-1",
		Type: "document",
		Attributes: map[string]any{
			"priority": "urgent",
			"amount":   1500.0,
			"title":    "Contrato de servicios",
			"tags":     []any{"legal", "2026"},
		},
	}
}

func TestEvaluateEmptyConditions(t *testing.T) {
	evaluator := newEvaluator()

	assert.True(t, evaluator.Evaluate(nil, testEntity(), "", nil))
	assert.True(t, evaluator.Evaluate(map[string]any{}, testEntity(), "", map[string]any{"trigger_event": "updated"}))
}

func TestEvaluateEventMatch(t *testing.T) {
	evaluator := newEvaluator()

	tests := []struct {
		name  string
		conds map[string]any
		ctx   map[string]any
		want  bool
	}{
		{
			name:  "exact event matches",
			conds: map[string]any{"event": "created"},
			ctx:   map[string]any{"trigger_event": "created"},
			want:  true,
		},
		{
			name:  "exact event does not match different trigger",
			conds: map[string]any{"event": "created"},
			ctx:   map[string]any{"trigger_event": "updated"},
			want:  false,
		},
		{
			name:  "event list membership",
			conds: map[string]any{"events": []any{"created", "updated"}},
			ctx:   map[string]any{"trigger_event": "updated"},
			want:  true,
		},
		{
			name:  "event list miss",
			conds: map[string]any{"events": []any{"created"}},
			ctx:   map[string]any{"trigger_event": "deleted"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluator.Evaluate(tt.conds, testEntity(), "", tt.ctx))
		})
	}
}

func TestEvaluateFieldPredicates(t *testing.T) {
	evaluator := newEvaluator()
	entity := testEntity()

	fieldCond := func(field, operator string, value any) map[string]any {
		return map[string]any{
			"fields": []any{
				map[string]any{"field": field, "operator": operator, "value": value},
			},
		}
	}

	tests := []struct {
		name  string
		conds map[string]any
		want  bool
	}{
		{"equal", fieldCond("priority", "=", "urgent"), true},
		{"not equal", fieldCond("priority", "!=", "low"), true},
		{"greater than number", fieldCond("amount", ">", 1000), true},
		{"greater than fails", fieldCond("amount", ">", "2000"), false},
		{"less or equal", fieldCond("amount", "<=", 1500), true},
		{"in comma separated matches", fieldCond("priority", "in", "high,urgent"), true},
		{"in comma separated misses", fieldCond("priority", "in", "high,low"), false},
		{"not_in", fieldCond("priority", "not_in", "low,medium"), true},
		{"contains substring", fieldCond("title", "contains", "servicios"), true},
		{"contains list member", fieldCond("tags", "contains", "legal"), true},
		{"starts_with", fieldCond("title", "starts_with", "Contrato"), true},
		{"ends_with", fieldCond("title", "ends_with", "servicios"), true},
		{"exists", fieldCond("priority", "exists", nil), true},
		{"not_exists on present field", fieldCond("priority", "not_exists", nil), false},
		{"not_exists on absent field", fieldCond("reviewer", "not_exists", nil), true},
		{"unknown operator is false", fieldCond("priority", "matches", "x"), false},
		{"missing operator is false", map[string]any{"fields": []any{map[string]any{"field": "priority"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluator.Evaluate(tt.conds, entity, "", nil))
		})
	}
}

func TestEvaluateStateNamePseudoField(t *testing.T) {
	evaluator := newEvaluator()

	conds := map[string]any{
		"fields": []any{
			map[string]any{"field": "state_name", "operator": "=", "value": "en_revision"},
		},
	}

	assert.True(t, evaluator.Evaluate(conds, testEntity(), "en_revision", nil))
	assert.False(t, evaluator.Evaluate(conds, testEntity(), "borrador", nil))
}

func TestEvaluateChangedOperators(t *testing.T) {
	evaluator := newEvaluator()
	entity := testEntity()

	ctx := map[string]any{
		"changes": map[string]any{
			"priority": map[string]any{"from": "low", "to": "urgent"},
			"title":    map[string]any{"from": "x", "to": "x"},
		},
	}

	fieldCond := func(field, operator string, value any) map[string]any {
		return map[string]any{
			"fields": []any{
				map[string]any{"field": field, "operator": operator, "value": value},
			},
		}
	}

	assert.True(t, evaluator.Evaluate(fieldCond("priority", "changed", nil), entity, "", ctx))
	assert.False(t, evaluator.Evaluate(fieldCond("title", "changed", nil), entity, "", ctx))
	assert.True(t, evaluator.Evaluate(fieldCond("priority", "changed_to", "urgent"), entity, "", ctx))
	assert.False(t, evaluator.Evaluate(fieldCond("priority", "changed_to", "low"), entity, "", ctx))
	assert.True(t, evaluator.Evaluate(fieldCond("priority", "changed_from", "low"), entity, "", ctx))
	assert.False(t, evaluator.Evaluate(fieldCond("amount", "changed", nil), entity, "", ctx))
	assert.False(t, evaluator.Evaluate(fieldCond("priority", "changed", nil), entity, "", nil))
}

func TestEvaluateStatePredicates(t *testing.T) {
	evaluator := newEvaluator()

	ctx := map[string]any{
		"from_state":      "borrador",
		"to_state":        "en_revision",
		"transition_name": "enviar_a_revision",
	}

	assert.True(t, evaluator.Evaluate(map[string]any{"to_state": "en_revision"}, testEntity(), "", ctx))
	assert.True(t, evaluator.Evaluate(map[string]any{
		"from_state":      "borrador",
		"transition_name": "enviar_a_revision",
	}, testEntity(), "", ctx))
	assert.False(t, evaluator.Evaluate(map[string]any{"to_state": "aprobado"}, testEntity(), "", ctx))
}

func TestEvaluateContextPredicates(t *testing.T) {
	evaluator := newEvaluator()

	ctx := map[string]any{
		"user": map[string]any{
			"department": "legal",
			"roles":      []any{"approver", "editor"},
		},
	}

	contextCond := func(path, operator string, value any) map[string]any {
		return map[string]any{
			"context": []any{
				map[string]any{"path": path, "operator": operator, "value": value},
			},
		}
	}

	assert.True(t, evaluator.Evaluate(contextCond("user.department", "=", "legal"), testEntity(), "", ctx))
	assert.False(t, evaluator.Evaluate(contextCond("user.department", "=", "finance"), testEntity(), "", ctx))
	assert.True(t, evaluator.Evaluate(contextCond("user.department", "!=", "finance"), testEntity(), "", ctx))
	assert.True(t, evaluator.Evaluate(contextCond("user.roles", "contains", "approver"), testEntity(), "", ctx))
	assert.True(t, evaluator.Evaluate(contextCond("user.department", "in", "legal,compliance"), testEntity(), "", ctx))
	assert.False(t, evaluator.Evaluate(contextCond("user.missing.deep", "=", "x"), testEntity(), "", ctx))
	assert.False(t, evaluator.Evaluate(contextCond("user.department", "regex", "x"), testEntity(), "", ctx))
}

func TestEvaluateGroupsAreANDed(t *testing.T) {
	evaluator := newEvaluator()

	conds := map[string]any{
		"event": "updated",
		"fields": []any{
			map[string]any{"field": "priority", "operator": "=", "value": "urgent"},
		},
	}

	assert.True(t, evaluator.Evaluate(conds, testEntity(), "", map[string]any{"trigger_event": "updated"}))
	assert.False(t, evaluator.Evaluate(conds, testEntity(), "", map[string]any{"trigger_event": "created"}))
}

func TestLookupPath(t *testing.T) {
	bag := map[string]any{
		"user": map[string]any{
			"profile": map[string]any{"name": "Ana"},
		},
	}

	assert.Equal(t, "Ana", conditions.LookupPath(bag, "user.profile.name"))
	assert.Nil(t, conditions.LookupPath(bag, "user.profile.email"))
	assert.Nil(t, conditions.LookupPath(bag, "user.profile.name.deep"))
	assert.Nil(t, conditions.LookupPath(bag, ""))
}
