package dispatcher_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence/memory"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/steps"
	"github.com/tramite-io/tramite/pkg/testutil"
	"github.com/tramite-io/tramite/pkg/variables"
)

type dispatcherFixture struct {
	dispatcher  *dispatcher.Dispatcher
	executor    *steps.Executor
	persistence *memory.Persistence
	recorder    *notifier.Recorder
	entity      *models.Entity
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	logger := slog.Default()
	p := memory.NewPersistence()

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.EntityType{
		Name: "document",
		Fields: []schema.Field{
			{Name: "title", Type: schema.FieldTypeString},
			{Name: "status", Type: schema.FieldTypeString},
			{Name: "priority", Type: schema.FieldTypeString},
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

	entity := testutil.NewDocument("doc-1", "user-1", map[string]any{
		"title":    "Informe anual",
		"status":   "draft",
		"priority": "high",
	})
	require.NoError(t, p.Entities().SaveEntity(context.Background(), entity))

	return &dispatcherFixture{
		dispatcher:  d,
		executor:    executor,
		persistence: p,
		recorder:    recorder,
		entity:      entity,
	}
}

func notificationConfig(email string) map[string]any {
	return map[string]any{
		"subject": "Aviso",
		"message": "hola",
		"recipients": map[string]any{
			"type":   "email",
			"config": map[string]any{"emails": []any{email}},
		},
	}
}

func TestTriggerMasterFiresMatchingStepsIndependently(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	created := testutil.NewStep("st-created", models.StepTypeNotification, 1, notificationConfig("a@example.com"))
	created.Conditions = map[string]any{"event": "created"}

	always := testutil.NewStep("st-always", models.StepTypeNotification, 2, notificationConfig("b@example.com"))

	updated := testutil.NewStep("st-updated", models.StepTypeNotification, 3, notificationConfig("c@example.com"))
	updated.Conditions = map[string]any{"event": "updated"}

	workflow := testutil.NewMasterWorkflow("wf-master", created, always, updated)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	for _, execution := range executions {
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		assert.Equal(t, "created", execution.TriggerEvent)
	}

	assert.Len(t, f.recorder.Messages(), 2)
}

func TestTriggerMasterStepWithEmptyConditionsAlwaysFires(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	step := testutil.NewStep("st-1", models.StepTypeNotification, 1, notificationConfig("a@example.com"))
	step.Conditions = map[string]any{}

	workflow := testutil.NewMasterWorkflow("wf-master", step)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "anything", nil)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestTriggerMasterFailingStepDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	// Zero recipients makes the first step fail.
	failing := testutil.NewStep("st-fail", models.StepTypeNotification, 1, map[string]any{
		"subject": "Aviso",
		"message": "hola",
		"recipients": map[string]any{
			"type":   "email",
			"config": map[string]any{"emails": []any{}},
		},
	})
	healthy := testutil.NewStep("st-ok", models.StepTypeNotification, 2, notificationConfig("b@example.com"))

	workflow := testutil.NewMasterWorkflow("wf-master", failing, healthy)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	assert.Contains(t, executions[0].FailureReason, "no notifications delivered")
	assert.Equal(t, models.ExecutionStatusCompleted, executions[1].Status)
}

func TestTriggerMasterApprovalParksExecution(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	approval := testutil.NewStep("st-approval", models.StepTypeApproval, 1, map[string]any{
		"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
	})

	workflow := testutil.NewMasterWorkflow("wf-master", approval)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "submitted", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusInProgress, executions[0].Status)

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, executions[0].ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 1)

	_, err = f.executor.Approve(ctx, stepExecs[0].ID, "user-2", "ok")
	require.NoError(t, err)

	resumed, err := f.dispatcher.Resume(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
}

func TestCancelClosesExecutionAndParkedSteps(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	approval := testutil.NewStep("st-approval", models.StepTypeApproval, 1, map[string]any{
		"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
	})

	workflow := testutil.NewMasterWorkflow("wf-master", approval)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "submitted", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	cancelled, err := f.dispatcher.Cancel(ctx, executions[0].ID, "solicitud retirada")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, "solicitud retirada", cancelled.FailureReason)
	require.NotNil(t, cancelled.CancelledAt)

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, executions[0].ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 1)
	assert.Equal(t, models.StepStatusCancelled, stepExecs[0].Status)
	require.NotNil(t, stepExecs[0].CompletedAt)
}

func TestCancelRejectsTerminalExecution(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	step := testutil.NewStep("st-notify", models.StepTypeNotification, 1, notificationConfig("a@example.com"))
	workflow := testutil.NewMasterWorkflow("wf-master", step)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)

	_, err = f.dispatcher.Cancel(ctx, executions[0].ID, "demasiado tarde")
	require.ErrorIs(t, err, models.ErrTerminalStatus)
}

func TestTriggerLegacyMatchesTriggerConditions(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	matching := testutil.NewLegacyWorkflow("wf-created", map[string]any{"event": "created"},
		testutil.NewStep("st-1", models.StepTypeNotification, 1, notificationConfig("a@example.com")),
	)
	nonMatching := testutil.NewLegacyWorkflow("wf-deleted", map[string]any{"event": "deleted"},
		testutil.NewStep("st-2", models.StepTypeNotification, 1, notificationConfig("b@example.com")),
	)

	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, matching))
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, nonMatching))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "wf-created", executions[0].WorkflowID)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
}

func TestTriggerLegacyAutoAdvancesUntilApproval(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-seq", nil,
		testutil.NewStep("st-1", models.StepTypeNotification, 1, notificationConfig("a@example.com")),
		testutil.NewStep("st-2", models.StepTypeApproval, 2, map[string]any{
			"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
		}),
		testutil.NewStep("st-3", models.StepTypeNotification, 3, notificationConfig("c@example.com")),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	execution := executions[0]
	assert.Equal(t, models.ExecutionStatusInProgress, execution.Status)
	assert.Equal(t, 2, execution.CurrentStepOrder)
	assert.Len(t, f.recorder.Messages(), 1)

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 2)

	parked := stepExecs[len(stepExecs)-1]
	assert.Equal(t, models.StepTypeApproval, parked.Type)

	_, err = f.executor.Approve(ctx, parked.ID, "user-2", "")
	require.NoError(t, err)

	resumed, err := f.dispatcher.Resume(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Len(t, f.recorder.Messages(), 2)
}

func TestTriggerLegacyRejectionFailsExecution(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-seq", nil,
		testutil.NewStep("st-1", models.StepTypeApproval, 1, map[string]any{
			"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
		}),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, executions[0].ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 1)

	_, err = f.executor.Reject(ctx, stepExecs[0].ID, "user-2", "falta firma")
	require.NoError(t, err)

	resumed, err := f.dispatcher.Resume(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, resumed.Status)
	assert.Contains(t, resumed.FailureReason, "rejected by user-2")
}

func TestTriggerLegacySkipsGatedSteps(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	gated := testutil.NewStep("st-gated", models.StepTypeNotification, 1, notificationConfig("a@example.com"))
	gated.Conditions = map[string]any{
		"fields": []any{
			map[string]any{"field": "priority", "operator": "=", "value": "low"},
		},
	}

	workflow := testutil.NewLegacyWorkflow("wf-seq", nil,
		gated,
		testutil.NewStep("st-2", models.StepTypeNotification, 2, notificationConfig("b@example.com")),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)

	require.Len(t, f.recorder.Messages(), 1)
	assert.Equal(t, []string{"b@example.com"}, f.recorder.Messages()[0].Recipients)

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, executions[0].ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 2)

	var statuses []models.StepStatus
	for _, stepExec := range stepExecs {
		statuses = append(statuses, stepExec.Status)
	}
	assert.Contains(t, statuses, models.StepStatusSkipped)
}

func TestTriggerLegacyStepLimitFailsExecution(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	var stepDefs []*models.StepDefinition
	for i := 1; i <= 11; i++ {
		stepDefs = append(stepDefs, testutil.NewStep(
			fmt.Sprintf("st-%d", i), models.StepTypeNotification, i, notificationConfig("a@example.com"),
		))
	}

	workflow := testutil.NewLegacyWorkflow("wf-runaway", nil, stepDefs...)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	assert.Contains(t, executions[0].FailureReason, "step limit exceeded")

	// The cap is terminal, a resume must not revive the execution.
	resumed, err := f.dispatcher.Resume(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, resumed.Status)
}

func TestTriggerLegacyTenStepsComplete(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	var stepDefs []*models.StepDefinition
	for i := 1; i <= 10; i++ {
		stepDefs = append(stepDefs, testutil.NewStep(
			fmt.Sprintf("st-%d", i), models.StepTypeNotification, i, notificationConfig("a@example.com"),
		))
	}

	workflow := testutil.NewLegacyWorkflow("wf-full", nil, stepDefs...)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
	assert.Len(t, f.recorder.Messages(), 10)
}

func TestConcurrentTriggersProduceIndependentExecutions(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	workflow := testutil.NewMasterWorkflow("wf-master",
		testutil.NewStep("st-1", models.StepTypeNotification, 1, notificationConfig("a@example.com")),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	executions, err := f.persistence.Executions().ExecutionsByEntity(ctx, "document", "doc-1")
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestTriggerResolvesParkedConditionWaits(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-wait", map[string]any{"event": "submitted"},
		testutil.NewStep("st-wait", models.StepTypeWait, 1, map[string]any{
			"wait_type": "condition",
			"condition": map[string]any{
				"fields": []any{
					map[string]any{"field": "status", "operator": "=", "value": "firmado"},
				},
			},
		}),
		testutil.NewStep("st-notify", models.StepTypeNotification, 2, notificationConfig("a@example.com")),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "submitted", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusInProgress, executions[0].Status)

	f.entity.SetAttr("status", "firmado")
	require.NoError(t, f.persistence.Entities().SaveEntity(ctx, f.entity))

	// The next trigger completes the wait and resumes the execution.
	_, err = f.dispatcher.Trigger(ctx, f.entity, "updated", nil)
	require.NoError(t, err)

	resumed, err := f.persistence.Executions().ExecutionByID(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Len(t, f.recorder.Messages(), 1)
}
