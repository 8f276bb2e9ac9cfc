// Package variables derives template variables from entities and renders
// message templates over the merged variable bag.
package variables

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/schema"
)

// Resolver derives the entity portion of the variable bag from declared
// VariableMappings and the schema registry. Resolution is best-effort: an
// unknown mapping kind or missing config key yields nil, never an error.
type Resolver struct {
	registry  *schema.Registry
	relations schema.RelationSource
	evaluator *conditions.Evaluator
	logger    *slog.Logger
}

// NewResolver creates a variable resolver.
func NewResolver(registry *schema.Registry, relations schema.RelationSource, evaluator *conditions.Evaluator, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry:  registry,
		relations: relations,
		evaluator: evaluator,
		logger:    logger.With("module", "variables"),
	}
}

// EntityVariables builds the entity-derived variable map, nested under the
// entity type name: declared fields, relation expansions and the lifecycle
// state description/color when a state is attached.
func (r *Resolver) EntityVariables(ctx context.Context, entity *models.Entity, state *models.ApprovalState) map[string]any {
	vars := make(map[string]any)
	if entity == nil {
		return vars
	}

	entityVars := make(map[string]any, len(entity.Attributes)+4)

	entityType, hasType := r.registry.Lookup(entity.Type)
	if hasType {
		for _, field := range entityType.Fields {
			entityVars[field.Name] = entity.Attr(field.Name)
		}

		for _, relation := range entityType.Relations {
			related, err := r.relations.Related(ctx, entity, relation.Name)
			if err != nil {
				r.logger.Warn("Failed to expand relation", "entity_id", entity.ID, "relation", relation.Name, "error", err)

				continue
			}

			if related != nil {
				entityVars[relation.Name] = related
			}
		}
	} else {
		for name, value := range entity.Attributes {
			entityVars[name] = value
		}
	}

	entityVars["id"] = entity.ID
	entityVars["created_by"] = entity.CreatedBy

	if state != nil {
		entityVars["state_name"] = state.Name
		entityVars["state_description"] = state.Description
		entityVars["state_color"] = state.Color
	}

	vars[entity.Type] = entityVars

	return vars
}

// ResolveMappings evaluates the declared VariableMappings for an entity and
// returns the resulting key/value pairs. Inactive mappings are skipped.
func (r *Resolver) ResolveMappings(ctx context.Context, entity *models.Entity, stateName string, mappings []*models.VariableMapping) map[string]any {
	resolved := make(map[string]any, len(mappings))

	for _, mapping := range mappings {
		if !mapping.Active {
			continue
		}

		resolved[mapping.Key] = r.resolveMapping(ctx, entity, stateName, mapping)
	}

	return resolved
}

func (r *Resolver) resolveMapping(ctx context.Context, entity *models.Entity, stateName string, mapping *models.VariableMapping) any {
	config := mapping.MappingConfig
	if config == nil {
		config = map[string]any{}
	}

	switch mapping.Kind {
	case models.MappingKindField:
		field, _ := config["field"].(string)
		if field == "" {
			r.logger.Warn("Field mapping missing field key", "mapping", mapping.Key)

			return nil
		}

		return entity.Attr(field)

	case models.MappingKindRelation:
		return r.resolveRelationField(ctx, entity, mapping.Key, config)

	case models.MappingKindMethod:
		return r.resolveMethod(ctx, entity, mapping.Key, config)

	case models.MappingKindComputed:
		return r.resolveComputed(entity, mapping.Key, config)

	case models.MappingKindCondition:
		field, _ := config["field"].(string)
		operator, _ := config["operator"].(string)

		if r.evaluator.MatchField(entity, stateName, nil, field, operator, config["value"]) {
			return config["if_true"]
		}

		return config["if_false"]
	}

	r.logger.Warn("Unknown mapping kind", "mapping", mapping.Key, "kind", mapping.Kind)

	return nil
}

func (r *Resolver) resolveRelationField(ctx context.Context, entity *models.Entity, key string, config map[string]any) any {
	relation, _ := config["relation"].(string)
	field, _ := config["field"].(string)

	if relation == "" || field == "" {
		r.logger.Warn("Relation mapping missing relation or field key", "mapping", key)

		return nil
	}

	related, err := r.relations.Related(ctx, entity, relation)
	if err != nil {
		r.logger.Warn("Relation lookup failed", "mapping", key, "relation", relation, "error", err)

		return nil
	}

	if related == nil {
		return nil
	}

	return related[field]
}

func (r *Resolver) resolveMethod(ctx context.Context, entity *models.Entity, key string, config map[string]any) any {
	methodName, _ := config["method"].(string)
	if methodName == "" {
		r.logger.Warn("Method mapping missing method key", "mapping", key)

		return nil
	}

	entityType, ok := r.registry.Lookup(entity.Type)
	if !ok {
		return nil
	}

	method, ok := entityType.Method(methodName)
	if !ok {
		r.logger.Warn("Method not registered", "mapping", key, "method", methodName, "entity_type", entity.Type)

		return nil
	}

	args, _ := config["args"].(map[string]any)

	result, err := method(ctx, entity, args)
	if err != nil {
		r.logger.Warn("Method invocation failed", "mapping", key, "method", methodName, "error", err)

		return nil
	}

	return result
}

// resolveComputed handles the "computation" sub-dispatch: concat, sum and
// coalesce over entity fields.
func (r *Resolver) resolveComputed(entity *models.Entity, key string, config map[string]any) any {
	computation, _ := config["computation"].(string)
	fields := fieldList(config["fields"])

	switch computation {
	case "concat":
		separator, _ := config["separator"].(string)
		if separator == "" {
			separator = " "
		}

		parts := make([]string, 0, len(fields))

		for _, field := range fields {
			if value := entity.Attr(field); value != nil {
				parts = append(parts, stringifyValue(value))
			}
		}

		return strings.Join(parts, separator)

	case "sum":
		var total float64

		for _, field := range fields {
			if number, ok := toNumber(entity.Attr(field)); ok {
				total += number
			}
		}

		return total

	case "coalesce":
		for _, field := range fields {
			value := entity.Attr(field)
			if value != nil && stringifyValue(value) != "" {
				return value
			}
		}

		return nil
	}

	r.logger.Warn("Unknown computation", "mapping", key, "computation", computation)

	return nil
}

func fieldList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		fields := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				fields = append(fields, s)
			}
		}

		return fields
	default:
		return nil
	}
}

// ComposeBag merges the variable bag in precedence order, later maps
// overriding earlier ones key by key.
func ComposeBag(layers ...map[string]any) map[string]any {
	bag := make(map[string]any)

	for _, layer := range layers {
		for key, value := range layer {
			bag[key] = value
		}
	}

	return bag
}
