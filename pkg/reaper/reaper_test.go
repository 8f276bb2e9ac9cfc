package reaper_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence/memory"
	"github.com/tramite-io/tramite/pkg/reaper"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/steps"
	"github.com/tramite-io/tramite/pkg/testutil"
	"github.com/tramite-io/tramite/pkg/variables"
)

type reaperFixture struct {
	reaper      *reaper.Reaper
	dispatcher  *dispatcher.Dispatcher
	persistence *memory.Persistence
	recorder    *notifier.Recorder
	entity      *models.Entity
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()

	logger := slog.Default()
	p := memory.NewPersistence()

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.EntityType{
		Name:   "document",
		Fields: []schema.Field{{Name: "title", Type: schema.FieldTypeString}},
	}))

	directory := testutil.NewDirectory(
		&models.User{ID: "user-2", Name: "Bruno", Email: "bruno@example.com", Roles: []string{"manager"}},
	)

	evaluator := conditions.NewEvaluator(logger)
	recipientResolver := recipients.NewResolver(directory, evaluator, logger)
	variableResolver := variables.NewResolver(registry, schema.StaticRelations{}, evaluator, logger)
	renderer := variables.NewRenderer(variables.NewDefaultTable(), logger)
	recorder := notifier.NewRecorder()

	executor := steps.NewExecutor(logger, p, registry, recipientResolver, variableResolver, renderer, evaluator, recorder, nil)
	d := dispatcher.NewDispatcher(logger, p, executor, evaluator, nil)

	entity := testutil.NewDocument("doc-1", "user-1", nil)
	require.NoError(t, p.Entities().SaveEntity(context.Background(), entity))

	return &reaperFixture{
		reaper:      reaper.NewReaper(logger, p, d),
		dispatcher:  d,
		persistence: p,
		recorder:    recorder,
		entity:      entity,
	}
}

func notifyStep(id string, order int) *models.StepDefinition {
	return testutil.NewStep(id, models.StepTypeNotification, order, map[string]any{
		"subject": "Aviso",
		"message": "hola",
		"recipients": map[string]any{
			"type":   "email",
			"config": map[string]any{"emails": []any{"a@example.com"}},
		},
	})
}

func TestSweepCompletesElapsedTimeWaits(t *testing.T) {
	t.Parallel()

	f := newReaperFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-wait", nil,
		testutil.NewStep("st-wait", models.StepTypeWait, 1, map[string]any{
			"wait_type":      "time",
			"duration_hours": 1,
		}),
		notifyStep("st-after", 2),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, models.ExecutionStatusInProgress, executions[0].Status)

	// Before the due date nothing is overdue.
	processed, err := f.reaper.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, processed)

	processed, err = f.reaper.Sweep(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	resumed, err := f.persistence.Executions().ExecutionByID(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Len(t, f.recorder.Messages(), 1)

	t.Run("sweep is idempotent", func(t *testing.T) {
		processed, err := f.reaper.Sweep(ctx, time.Now().UTC().Add(3*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, processed)
	})
}

func TestSweepFailsTimedOutApprovals(t *testing.T) {
	t.Parallel()

	f := newReaperFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-approval", nil,
		testutil.NewStep("st-approval", models.StepTypeApproval, 1, map[string]any{
			"approver_config": map[string]any{"approver_ids": []any{"user-2"}},
			"timeout_hours":   48,
		}),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "submitted", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	processed, err := f.reaper.Sweep(ctx, time.Now().UTC().Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	failed, err := f.persistence.Executions().ExecutionByID(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "approval timed out")

	stepExecs, err := f.persistence.Executions().StepExecutionsByExecution(ctx, executions[0].ID)
	require.NoError(t, err)
	require.Len(t, stepExecs, 1)
	assert.Equal(t, models.StepStatusFailed, stepExecs[0].Status)
}

func TestSweepSkipsParkedManualWaits(t *testing.T) {
	t.Parallel()

	f := newReaperFixture(t)
	ctx := context.Background()

	workflow := testutil.NewLegacyWorkflow("wf-manual", nil,
		testutil.NewStep("st-manual", models.StepTypeWait, 1, map[string]any{
			"wait_type": "manual",
		}),
	)
	require.NoError(t, f.persistence.Workflows().SaveWorkflow(ctx, workflow))

	executions, err := f.dispatcher.Trigger(ctx, f.entity, "created", nil)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	// Manual waits carry no due date and never become overdue.
	processed, err := f.reaper.Sweep(ctx, time.Now().UTC().Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, processed)

	parked, err := f.persistence.Executions().ExecutionByID(ctx, executions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusInProgress, parked.Status)
}
