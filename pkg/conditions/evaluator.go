// Package conditions evaluates the persisted predicate grammar that gates
// workflow steps: event matches, entity field predicates, lifecycle state
// predicates and context lookups, all ANDed. Malformed configuration never
// raises; it evaluates to false and is logged for operability.
package conditions

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tramite-io/tramite/pkg/models"
)

// Context keys populated by the dispatcher and the lifecycle layer. Stored
// conditions reference these names, they are part of the persisted format.
const (
	KeyTriggerEvent   = "trigger_event"
	KeyFromState      = "from_state"
	KeyToState        = "to_state"
	KeyTransitionName = "transition_name"
	KeyChanges        = "changes"
)

// StateNameField is the derived pseudo-field exposing the entity's current
// lifecycle state name to field predicates.
const StateNameField = "state_name"

// Field predicate operators. The set is part of the persisted format.
const (
	OpEqual       = "="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpLess        = "<"
	OpGreaterEq   = ">="
	OpLessEq      = "<="
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpContains    = "contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpChanged     = "changed"
	OpChangedTo   = "changed_to"
	OpChangedFrom = "changed_from"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

// Evaluator evaluates stored condition maps against an entity and a trigger
// context.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "conditions")}
}

// Evaluate reports whether every configured predicate group holds. An empty
// or nil conditions map is vacuously true. stateName is the entity's current
// lifecycle state name, empty for types without a lifecycle.
func (e *Evaluator) Evaluate(conds map[string]any, entity *models.Entity, stateName string, ctx map[string]any) bool {
	if len(conds) == 0 {
		return true
	}

	if ctx == nil {
		ctx = map[string]any{}
	}

	if !e.matchEvent(conds, ctx) {
		return false
	}

	if !e.matchFields(conds, entity, stateName, ctx) {
		return false
	}

	if !e.matchState(conds, ctx) {
		return false
	}

	return e.matchContext(conds, ctx)
}

// matchEvent checks the "event" / "events" group against trigger_event.
func (e *Evaluator) matchEvent(conds map[string]any, ctx map[string]any) bool {
	triggerEvent, _ := ctx[KeyTriggerEvent].(string)

	if raw, ok := conds["event"]; ok {
		want, ok := raw.(string)
		if !ok {
			e.logger.Warn("Malformed event condition", "value", raw)

			return false
		}

		if want != triggerEvent {
			return false
		}
	}

	if raw, ok := conds["events"]; ok {
		accepted := toStringList(raw)
		if accepted == nil {
			e.logger.Warn("Malformed events condition", "value", raw)

			return false
		}

		found := false

		for _, candidate := range accepted {
			if candidate == triggerEvent {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// matchFields checks the "fields" group of entity attribute predicates.
func (e *Evaluator) matchFields(conds map[string]any, entity *models.Entity, stateName string, ctx map[string]any) bool {
	raw, ok := conds["fields"]
	if !ok {
		return true
	}

	list, ok := raw.([]any)
	if !ok {
		e.logger.Warn("Malformed fields condition", "value", raw)

		return false
	}

	for _, item := range list {
		predicate, ok := item.(map[string]any)
		if !ok {
			e.logger.Warn("Malformed field predicate", "value", item)

			return false
		}

		field, _ := predicate["field"].(string)
		operator, _ := predicate["operator"].(string)
		value := predicate["value"]

		if !e.matchFieldPredicate(entity, stateName, ctx, field, operator, value) {
			return false
		}
	}

	return true
}

// MatchField evaluates a single field predicate outside a full conditions
// map. Variable mappings of kind "condition" reuse this.
func (e *Evaluator) MatchField(entity *models.Entity, stateName string, ctx map[string]any, field, operator string, value any) bool {
	if ctx == nil {
		ctx = map[string]any{}
	}

	return e.matchFieldPredicate(entity, stateName, ctx, field, operator, value)
}

func (e *Evaluator) matchFieldPredicate(entity *models.Entity, stateName string, ctx map[string]any, field, operator string, value any) bool {
	if field == "" || operator == "" {
		e.logger.Warn("Field predicate missing field or operator", "field", field, "operator", operator)

		return false
	}

	switch operator {
	case OpChanged, OpChangedTo, OpChangedFrom:
		return matchChange(ctx, field, operator, value)
	case OpExists:
		return entity != nil && entity.HasAttr(field) && entity.Attr(field) != nil
	case OpNotExists:
		return entity == nil || !entity.HasAttr(field) || entity.Attr(field) == nil
	}

	var actual any
	if field == StateNameField {
		actual = stateName
	} else if entity != nil {
		actual = entity.Attr(field)
	}

	result, ok := compare(actual, operator, value)
	if !ok {
		e.logger.Warn("Unknown field operator", "operator", operator, "field", field)

		return false
	}

	return result
}

// matchChange evaluates changed / changed_to / changed_from against the
// field diff the trigger context carries under "changes".
func matchChange(ctx map[string]any, field, operator string, value any) bool {
	changes, ok := ctx[KeyChanges].(map[string]any)
	if !ok {
		return false
	}

	change, ok := changes[field].(map[string]any)
	if !ok {
		return false
	}

	switch operator {
	case OpChanged:
		return !looseEqual(change["from"], change["to"])
	case OpChangedTo:
		return looseEqual(change["to"], value)
	case OpChangedFrom:
		return looseEqual(change["from"], value)
	}

	return false
}

// matchState checks from_state / to_state / transition_name against the
// like-named context keys populated by the lifecycle layer.
func (e *Evaluator) matchState(conds map[string]any, ctx map[string]any) bool {
	for _, key := range []string{KeyFromState, KeyToState, KeyTransitionName} {
		raw, ok := conds[key]
		if !ok {
			continue
		}

		want, ok := raw.(string)
		if !ok {
			e.logger.Warn("Malformed state condition", "key", key, "value", raw)

			return false
		}

		actual, _ := ctx[key].(string)
		if actual != want {
			return false
		}
	}

	return true
}

// matchContext checks the "context" group of dot-path lookups into the
// trigger context. Supported operators: = != contains in.
func (e *Evaluator) matchContext(conds map[string]any, ctx map[string]any) bool {
	raw, ok := conds["context"]
	if !ok {
		return true
	}

	list, ok := raw.([]any)
	if !ok {
		e.logger.Warn("Malformed context condition", "value", raw)

		return false
	}

	for _, item := range list {
		predicate, ok := item.(map[string]any)
		if !ok {
			e.logger.Warn("Malformed context predicate", "value", item)

			return false
		}

		path, _ := predicate["path"].(string)
		operator, _ := predicate["operator"].(string)
		value := predicate["value"]

		actual := LookupPath(ctx, path)

		var matched bool

		switch operator {
		case OpEqual:
			matched = looseEqual(actual, value)
		case OpNotEqual:
			matched = !looseEqual(actual, value)
		case OpContains:
			matched = containsValue(actual, value)
		case OpIn:
			matched = inList(actual, value)
		default:
			e.logger.Warn("Unknown context operator", "operator", operator, "path", path)

			return false
		}

		if !matched {
			return false
		}
	}

	return true
}

// LookupPath traverses a dot-segmented path through nested maps. Any missing
// segment yields nil.
func LookupPath(bag map[string]any, path string) any {
	if path == "" {
		return nil
	}

	var current any = bag

	for _, segment := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current, ok = asMap[segment]
		if !ok {
			return nil
		}
	}

	return current
}

// compare applies a comparison operator. The second return value is false
// for unknown operators.
func compare(actual any, operator string, value any) (bool, bool) {
	switch operator {
	case OpEqual:
		return looseEqual(actual, value), true
	case OpNotEqual:
		return !looseEqual(actual, value), true
	case OpGreater, OpLess, OpGreaterEq, OpLessEq:
		return compareNumeric(actual, operator, value), true
	case OpIn:
		return inList(actual, value), true
	case OpNotIn:
		return !inList(actual, value), true
	case OpContains:
		return containsValue(actual, value), true
	case OpStartsWith:
		return strings.HasPrefix(stringify(actual), stringify(value)), true
	case OpEndsWith:
		return strings.HasSuffix(stringify(actual), stringify(value)), true
	}

	return false, false
}

func compareNumeric(actual any, operator string, value any) bool {
	left, okLeft := toFloat(actual)
	right, okRight := toFloat(value)

	if !okLeft || !okRight {
		return false
	}

	switch operator {
	case OpGreater:
		return left > right
	case OpLess:
		return left < right
	case OpGreaterEq:
		return left >= right
	case OpLessEq:
		return left <= right
	}

	return false
}

// looseEqual compares two values the way stored string configs expect:
// numbers compare numerically, everything else by string form. Nil equals
// only nil or the empty string.
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	if leftNum, ok := toFloat(a); ok {
		if rightNum, ok := toFloat(b); ok {
			return leftNum == rightNum
		}
	}

	return stringify(a) == stringify(b)
}

// inList matches membership in either a list value or a comma-separated
// string ("high,urgent").
func inList(actual any, value any) bool {
	candidates := toStringList(value)
	if candidates == nil {
		return false
	}

	needle := stringify(actual)

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == needle {
			return true
		}
	}

	return false
}

// containsValue is substring match for strings and membership for slices.
func containsValue(actual any, value any) bool {
	switch v := actual.(type) {
	case []any:
		needle := stringify(value)
		for _, item := range v {
			if stringify(item) == needle {
				return true
			}
		}

		return false
	case []string:
		needle := stringify(value)
		for _, item := range v {
			if item == needle {
				return true
			}
		}

		return false
	default:
		return strings.Contains(stringify(actual), stringify(value))
	}
}

func toStringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			list = append(list, stringify(item))
		}

		return list
	case string:
		return strings.Split(v, ",")
	default:
		return nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
