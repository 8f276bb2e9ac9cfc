package configschema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/configschema"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/testutil"
)

func TestValidateStepConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stepType models.StepType
		config   map[string]any
		wantErr  bool
	}{
		{
			name:     "notification with inline recipients",
			stepType: models.StepTypeNotification,
			config: map[string]any{
				"subject": "Aviso",
				"message": "hola",
				"recipients": map[string]any{
					"type":   "email",
					"config": map[string]any{"emails": []any{"a@example.com"}},
				},
			},
		},
		{
			name:     "notification recipients missing type",
			stepType: models.StepTypeNotification,
			config: map[string]any{
				"recipients": map[string]any{"config": map[string]any{}},
			},
			wantErr: true,
		},
		{
			name:     "approval requires approver_config",
			stepType: models.StepTypeApproval,
			config:   map[string]any{"timeout_hours": 24},
			wantErr:  true,
		},
		{
			name:     "approval with dynamic approver",
			stepType: models.StepTypeApproval,
			config: map[string]any{
				"approver_config": map[string]any{"dynamic_type": "manager"},
				"timeout_hours":   24,
			},
		},
		{
			name:     "action requires a known action_type",
			stepType: models.StepTypeAction,
			config:   map[string]any{"action_type": "teleport"},
			wantErr:  true,
		},
		{
			name:     "action update_model",
			stepType: models.StepTypeAction,
			config: map[string]any{
				"action_type": "update_model",
				"fields":      map[string]any{"status": "archivado"},
			},
		},
		{
			name:     "wait requires a known wait_type",
			stepType: models.StepTypeWait,
			config:   map[string]any{"wait_type": "lunar"},
			wantErr:  true,
		},
		{
			name:     "time wait",
			stepType: models.StepTypeWait,
			config:   map[string]any{"wait_type": "time", "duration_hours": 2},
		},
		{
			name:     "condition step takes no config",
			stepType: models.StepTypeCondition,
			config:   nil,
		},
		{
			name:     "unknown step type",
			stepType: models.StepType("mystery"),
			config:   nil,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := configschema.ValidateStepConfig(tt.stepType, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConditions(t *testing.T) {
	t.Parallel()

	assert.NoError(t, configschema.ValidateConditions(nil))
	assert.NoError(t, configschema.ValidateConditions(map[string]any{"event": "created"}))
	assert.NoError(t, configschema.ValidateConditions(map[string]any{
		"fields": []any{
			map[string]any{"field": "priority", "operator": "in", "value": "high,urgent"},
		},
	}))

	assert.Error(t, configschema.ValidateConditions(map[string]any{"event": 42}))
	assert.Error(t, configschema.ValidateConditions(map[string]any{
		"fields": []any{map[string]any{"field": "priority"}},
	}))
}

func TestValidateRecipientConfig(t *testing.T) {
	t.Parallel()

	assert.NoError(t, configschema.ValidateRecipientConfig(models.RecipientTypeCreator, nil))
	assert.NoError(t, configschema.ValidateRecipientConfig(models.RecipientTypeRole, map[string]any{
		"roles": []any{"editor"},
	}))
	assert.NoError(t, configschema.ValidateRecipientConfig(models.RecipientTypeDynamic, map[string]any{
		"dynamic_type": "creator_manager",
	}))
	assert.NoError(t, configschema.ValidateRecipientConfig(models.RecipientTypeDynamic, map[string]any{
		"dynamic_type": "field_email",
		"field":        "contact_email",
	}))

	assert.Error(t, configschema.ValidateRecipientConfig(models.RecipientTypeEmail, map[string]any{}))
	assert.Error(t, configschema.ValidateRecipientConfig(models.RecipientTypeDynamic, map[string]any{
		"dynamic_type": "carrier_pigeon",
	}))
	assert.Error(t, configschema.ValidateRecipientConfig(models.RecipientType("fax"), nil))
}

func TestValidateMapping(t *testing.T) {
	t.Parallel()

	valid := &models.VariableMapping{
		Key:           "titulo",
		Kind:          models.MappingKindField,
		MappingConfig: map[string]any{"field": "title"},
	}
	assert.NoError(t, configschema.ValidateMapping(valid))

	missing := &models.VariableMapping{
		Key:           "gerente",
		Kind:          models.MappingKindRelation,
		MappingConfig: map[string]any{"relation": "creator"},
	}
	assert.Error(t, configschema.ValidateMapping(missing))

	unknown := &models.VariableMapping{Key: "x", Kind: models.MappingKind("telepathy")}
	assert.Error(t, configschema.ValidateMapping(unknown))
}

func TestValidateWorkflow(t *testing.T) {
	t.Parallel()

	workflow := testutil.NewMasterWorkflow("wf-1",
		testutil.NewStep("st-1", models.StepTypeNotification, 1, map[string]any{
			"subject": "Aviso",
			"message": "hola",
		}),
		testutil.NewStep("st-2", models.StepTypeApproval, 2, map[string]any{
			"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
		}),
	)
	workflow.Steps[0].Templates = []*models.StepTemplate{
		{
			ID:              "tpl-1",
			RecipientType:   models.RecipientTypeEmail,
			RecipientConfig: map[string]any{"emails": []any{"a@example.com"}},
			MessageTemplate: "hola",
			Active:          true,
		},
	}

	require.NoError(t, configschema.ValidateWorkflow(workflow))

	workflow.Steps[1].StepConfig = map[string]any{"timeout_hours": 24}
	err := configschema.ValidateWorkflow(workflow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "st-2")
}
