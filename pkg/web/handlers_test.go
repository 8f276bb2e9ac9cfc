package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/lifecycle"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence/memory"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/services"
	"github.com/tramite-io/tramite/pkg/steps"
	"github.com/tramite-io/tramite/pkg/testutil"
	"github.com/tramite-io/tramite/pkg/variables"
	"github.com/tramite-io/tramite/pkg/web"
)

type testEnv struct {
	app         *fiber.App
	persistence *memory.Persistence
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.Default()
	p := memory.NewPersistence()
	ctx := context.Background()

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.EntityType{
		Name: "document",
		Fields: []schema.Field{
			{Name: "title", Type: schema.FieldTypeString},
			{Name: "status", Type: schema.FieldTypeString},
		},
		StatusField: "status",
	}))

	directory := testutil.NewDirectory(
		&models.User{ID: "user-1", Name: "Ana", Email: "ana@example.com", Roles: []string{"editor"}},
		&models.User{ID: "user-2", Name: "Bruno", Email: "bruno@example.com", Roles: []string{"manager"}},
	)

	evaluator := conditions.NewEvaluator(logger)
	recipientResolver := recipients.NewResolver(directory, evaluator, logger)
	variableResolver := variables.NewResolver(registry, schema.StaticRelations{}, evaluator, logger)
	renderer := variables.NewRenderer(variables.NewDefaultTable(), logger)
	recorder := notifier.NewRecorder()

	executor := steps.NewExecutor(logger, p, registry, recipientResolver, variableResolver, renderer, evaluator, recorder, nil)
	d := dispatcher.NewDispatcher(logger, p, executor, evaluator, nil)
	machine := lifecycle.NewMachine(logger, p, registry, evaluator, d, nil, nil)

	engineService := services.NewEngine(logger, p, d, executor, machine)
	workflowService := services.NewWorkflow(p)

	handlers := web.NewAPIHandlers(engineService, workflowService, directory,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	require.NoError(t, p.Lifecycle().SaveState(ctx, &models.ApprovalState{
		ID: "state-draft", EntityType: "document", Name: "borrador", IsInitial: true,
	}))
	require.NoError(t, p.Lifecycle().SaveState(ctx, &models.ApprovalState{
		ID: "state-review", EntityType: "document", Name: "en_revision",
	}))
	require.NoError(t, p.Lifecycle().SaveTransition(ctx, &models.StateTransition{
		ID:          "tr-submit",
		EntityType:  "document",
		Name:        "enviar_a_revision",
		FromStateID: "state-draft",
		ToStateID:   "state-review",
	}))

	entity := testutil.NewDocument("doc-1", "user-1", map[string]any{"title": "Informe"})
	entity.StateID = "state-draft"
	require.NoError(t, p.Entities().SaveEntity(ctx, entity))

	return &testEnv{app: app, persistence: p}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func TestTriggerEndpoint(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-1", map[string]any{"event": "created"},
		testutil.NewStep("st-1", models.StepTypeNotification, 1, map[string]any{
			"subject": "Aviso",
			"message": "hola",
			"recipients": map[string]any{
				"type":   "email",
				"config": map[string]any{"emails": []any{"a@example.com"}},
			},
		}),
	)
	require.NoError(t, env.persistence.Workflows().SaveWorkflow(ctx, workflow))

	resp, raw := doJSON(t, env.app, http.MethodPost, "/trigger", web.TriggerRequest{
		EntityType: "document",
		EntityID:   "doc-1",
		Event:      "created",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Executions []*models.WorkflowExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, body.Executions[0].Status)

	t.Run("missing event is a 400", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/trigger", web.TriggerRequest{
			EntityType: "document",
			EntityID:   "doc-1",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown entity is a 404", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/trigger", web.TriggerRequest{
			EntityType: "document",
			EntityID:   "missing",
			Event:      "created",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestApprovalEndpoints(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-approval", nil,
		testutil.NewStep("st-approval", models.StepTypeApproval, 1, map[string]any{
			"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
		}),
	)
	require.NoError(t, env.persistence.Workflows().SaveWorkflow(ctx, workflow))

	resp, raw := doJSON(t, env.app, http.MethodPost, "/trigger", web.TriggerRequest{
		EntityType: "document", EntityID: "doc-1", Event: "submitted",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var triggered struct {
		Executions []*models.WorkflowExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(raw, &triggered))
	require.Len(t, triggered.Executions, 1)

	executionID := triggered.Executions[0].ID

	resp, raw = doJSON(t, env.app, http.MethodGet, "/executions/"+executionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail services.ExecutionDetail
	require.NoError(t, json.Unmarshal(raw, &detail))
	require.Len(t, detail.Steps, 1)

	stepExecutionID := detail.Steps[0].ID

	t.Run("approve without user id is a 400", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/step-executions/"+stepExecutionID+"/approve", web.DecisionRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	resp, raw = doJSON(t, env.app, http.MethodPost, "/step-executions/"+stepExecutionID+"/approve", web.DecisionRequest{
		UserID:  "user-2",
		Comment: "ok",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var resumed models.WorkflowExecution
	require.NoError(t, json.Unmarshal(raw, &resumed))
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	t.Run("second decision is a 409", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/step-executions/"+stepExecutionID+"/reject", web.DecisionRequest{
			UserID: "user-2",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestTransitionEndpoints(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, raw := doJSON(t, env.app, http.MethodGet, "/entities/document/doc-1/transitions?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Transitions []*models.StateTransition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed.Transitions, 1)
	assert.Equal(t, "enviar_a_revision", listed.Transitions[0].Name)

	resp, raw = doJSON(t, env.app, http.MethodPost, "/entities/document/doc-1/transitions/enviar_a_revision", web.TransitionRequest{
		UserID: "user-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entity models.Entity
	require.NoError(t, json.Unmarshal(raw, &entity))
	assert.Equal(t, "state-review", entity.StateID)

	t.Run("repeating the transition is a 409", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/entities/document/doc-1/transitions/enviar_a_revision", web.TransitionRequest{
			UserID: "user-1",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown transition is a 404", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodPost, "/entities/document/doc-1/transitions/archivar", web.TransitionRequest{
			UserID: "user-1",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestWorkflowEndpoints(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	create := web.CreateWorkflowRequest{
		Name:       "Flujo de facturas",
		EntityType: "document",
		Active:     true,
		Steps: []*models.StepDefinition{
			{
				Name:      "notificar",
				Type:      models.StepTypeNotification,
				StepOrder: 1,
				Active:    true,
				StepConfig: map[string]any{
					"subject": "Aviso",
					"message": "hola",
				},
			},
		},
	}

	resp, raw := doJSON(t, env.app, http.MethodPost, "/workflows", create)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.NotEmpty(t, created.ID)

	resp, raw = doJSON(t, env.app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = doJSON(t, env.app, http.MethodGet, "/workflows?entity_type=document", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Workflows []*models.WorkflowDefinition `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(raw, &listed))
	assert.Len(t, listed.Workflows, 1)

	t.Run("invalid step config is a 400", func(t *testing.T) {
		bad := create
		bad.Steps = []*models.StepDefinition{
			{
				Name:       "esperar",
				Type:       models.StepTypeWait,
				StepOrder:  1,
				Active:     true,
				StepConfig: map[string]any{"wait_type": "lunar"},
			},
		}

		resp, _ := doJSON(t, env.app, http.MethodPost, "/workflows", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown workflow is a 404", func(t *testing.T) {
		resp, _ := doJSON(t, env.app, http.MethodGet, "/workflows/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, raw := doJSON(t, env.app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "healthy", body["status"])
}
