// Package configschema validates the persisted configuration mini-language
// (step_config, conditions, recipient_config, mapping_config) against JSON
// schemas at load time, so misconfiguration surfaces when a definition is
// saved instead of silently resolving to null mid-workflow. Key names match
// the stored rows bit-for-bit; the schemas only pin types and required keys.
package configschema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tramite-io/tramite/pkg/models"
)

var conditionsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"event":  map[string]any{"type": "string"},
		"events": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"fields": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"field", "operator"},
				"properties": map[string]any{
					"field":    map[string]any{"type": "string"},
					"operator": map[string]any{"type": "string"},
				},
			},
		},
		"state": map[string]any{"type": "object"},
		"context": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"path", "operator"},
				"properties": map[string]any{
					"path":     map[string]any{"type": "string"},
					"operator": map[string]any{"type": "string"},
				},
			},
		},
	},
}

var recipientSpecSchema = map[string]any{
	"type":     "object",
	"required": []any{"type"},
	"properties": map[string]any{
		"type":   map[string]any{"type": "string"},
		"config": map[string]any{"type": "object"},
	},
}

var stepConfigSchemas = map[models.StepType]map[string]any{
	models.StepTypeNotification: {
		"type": "object",
		"properties": map[string]any{
			"subject":         map[string]any{"type": "string"},
			"message":         map[string]any{"type": "string"},
			"from":            map[string]any{"type": "string"},
			"recipients":      recipientSpecSchema,
			"manual_complete": map[string]any{"type": "boolean"},
		},
	},
	models.StepTypeApproval: {
		"type":     "object",
		"required": []any{"approver_config"},
		"properties": map[string]any{
			"approver_config": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"approver_ids":   map[string]any{"type": "array"},
					"approver_roles": map[string]any{"type": "array"},
					"dynamic_type":   map[string]any{"type": "string"},
					"role":           map[string]any{"type": "string"},
				},
			},
			"timeout_hours": map[string]any{"type": "number"},
			"subject":       map[string]any{"type": "string"},
			"message":       map[string]any{"type": "string"},
			"from":          map[string]any{"type": "string"},
		},
	},
	models.StepTypeAction: {
		"type":     "object",
		"required": []any{"action_type"},
		"properties": map[string]any{
			"action_type": map[string]any{
				"type": "string",
				"enum": []any{"update_model", "send_email", "create_record", "call_method", "custom"},
			},
			"fields":      map[string]any{"type": "object"},
			"record_type": map[string]any{"type": "string"},
			"data":        map[string]any{"type": "object"},
			"method":      map[string]any{"type": "string"},
			"args":        map[string]any{"type": "object"},
			"subject":     map[string]any{"type": "string"},
			"message":     map[string]any{"type": "string"},
			"from":        map[string]any{"type": "string"},
			"recipients":  recipientSpecSchema,
		},
	},
	models.StepTypeCondition: {
		"type": "object",
	},
	models.StepTypeWait: {
		"type":     "object",
		"required": []any{"wait_type"},
		"properties": map[string]any{
			"wait_type": map[string]any{
				"type": "string",
				"enum": []any{"time", "condition", "manual"},
			},
			"duration_hours": map[string]any{"type": "number"},
			"condition":      conditionsSchema,
		},
	},
}

var recipientConfigSchemas = map[models.RecipientType]map[string]any{
	models.RecipientTypeCreator: {
		"type": "object",
	},
	models.RecipientTypeApprover: {
		"type": "object",
		"properties": map[string]any{
			"approver_ids": map[string]any{"type": "array"},
		},
	},
	models.RecipientTypeRole: {
		"type": "object",
		"properties": map[string]any{
			"roles":    map[string]any{"type": "array"},
			"role_ids": map[string]any{"type": "array"},
		},
	},
	models.RecipientTypeUser: {
		"type":     "object",
		"required": []any{"user_ids"},
		"properties": map[string]any{
			"user_ids": map[string]any{"type": "array"},
		},
	},
	models.RecipientTypeConditional: {
		"type":     "object",
		"required": []any{"field", "operator", "recipients"},
		"properties": map[string]any{
			"field":      map[string]any{"type": "string"},
			"operator":   map[string]any{"type": "string"},
			"recipients": map[string]any{"type": "object"},
		},
	},
	models.RecipientTypeDynamic: {
		"type":     "object",
		"required": []any{"dynamic_type"},
		"properties": map[string]any{
			"dynamic_type": map[string]any{
				"type": "string",
				"enum": []any{"last_editor", "assigned_user", "creator_manager", "creator_department_head", "field_email"},
			},
			"field": map[string]any{"type": "string"},
		},
	},
	models.RecipientTypeEmail: {
		"type":     "object",
		"required": []any{"emails"},
		"properties": map[string]any{
			"emails": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
}

var mappingConfigSchemas = map[models.MappingKind]map[string]any{
	models.MappingKindField: {
		"type":     "object",
		"required": []any{"field"},
		"properties": map[string]any{
			"field": map[string]any{"type": "string"},
		},
	},
	models.MappingKindRelation: {
		"type":     "object",
		"required": []any{"relation", "field"},
		"properties": map[string]any{
			"relation": map[string]any{"type": "string"},
			"field":    map[string]any{"type": "string"},
		},
	},
	models.MappingKindMethod: {
		"type":     "object",
		"required": []any{"method"},
		"properties": map[string]any{
			"method": map[string]any{"type": "string"},
		},
	},
	models.MappingKindComputed: {
		"type":     "object",
		"required": []any{"computation"},
		"properties": map[string]any{
			"computation": map[string]any{"type": "string"},
		},
	},
	models.MappingKindCondition: {
		"type":     "object",
		"required": []any{"field", "operator"},
		"properties": map[string]any{
			"field":    map[string]any{"type": "string"},
			"operator": map[string]any{"type": "string"},
		},
	},
}

// ValidateStepConfig checks a step's step_config against its type's schema.
// A nil config is valid for types without required keys.
func ValidateStepConfig(stepType models.StepType, config map[string]any) error {
	schema, ok := stepConfigSchemas[stepType]
	if !ok {
		return fmt.Errorf("unknown step type %q", stepType)
	}

	return validate(schema, orEmpty(config))
}

// ValidateConditions checks a conditions object. Empty means "always
// execute" and is valid.
func ValidateConditions(conds map[string]any) error {
	return validate(conditionsSchema, orEmpty(conds))
}

// ValidateRecipientConfig checks a recipient_config against the recipient
// type's schema.
func ValidateRecipientConfig(recipientType models.RecipientType, config map[string]any) error {
	schema, ok := recipientConfigSchemas[recipientType]
	if !ok {
		return fmt.Errorf("unknown recipient type %q", recipientType)
	}

	return validate(schema, orEmpty(config))
}

// ValidateMapping checks a variable mapping's kind and mapping_config.
func ValidateMapping(mapping *models.VariableMapping) error {
	schema, ok := mappingConfigSchemas[mapping.Kind]
	if !ok {
		return fmt.Errorf("unknown mapping kind %q", mapping.Kind)
	}

	if err := validate(schema, orEmpty(mapping.MappingConfig)); err != nil {
		return fmt.Errorf("mapping %s: %w", mapping.Key, err)
	}

	return nil
}

// ValidateWorkflow checks every step's config, conditions and templates plus
// the workflow-level trigger conditions.
func ValidateWorkflow(workflow *models.WorkflowDefinition) error {
	if err := ValidateConditions(workflow.TriggerConditions); err != nil {
		return fmt.Errorf("trigger conditions: %w", err)
	}

	for _, step := range workflow.Steps {
		if err := ValidateStepConfig(step.Type, step.StepConfig); err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}

		if err := ValidateConditions(step.Conditions); err != nil {
			return fmt.Errorf("step %s conditions: %w", step.Name, err)
		}

		for _, template := range step.Templates {
			if err := ValidateRecipientConfig(template.RecipientType, template.RecipientConfig); err != nil {
				return fmt.Errorf("step %s template %s: %w", step.Name, template.ID, err)
			}
		}
	}

	return nil
}

func validate(schema, document map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("invalid configuration: %s", strings.Join(details, "; "))
	}

	return nil
}

func orEmpty(document map[string]any) map[string]any {
	if document == nil {
		return map[string]any{}
	}

	return document
}
