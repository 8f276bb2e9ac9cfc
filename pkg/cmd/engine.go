package cmd

import (
	"context"
	"log/slog"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/lifecycle"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/notifier"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/schema"
	"github.com/tramite-io/tramite/pkg/services"
	"github.com/tramite-io/tramite/pkg/steps"
	"github.com/tramite-io/tramite/pkg/variables"
)

// Engine bundles the assembled engine components the binaries share.
type Engine struct {
	Dispatcher      *dispatcher.Dispatcher
	Executor        *steps.Executor
	Machine         *lifecycle.Machine
	EngineService   *services.Engine
	WorkflowService *services.Workflow
}

// NewEngine wires the dispatcher, step executor, lifecycle machine and
// service layer over the given collaborators. A nil bus keeps engine events
// local: notifications are logged instead of published.
func NewEngine(
	logger *slog.Logger,
	p persistence.Persistence,
	registry *schema.Registry,
	directory recipients.Directory,
	bus eventbus.EventBus,
) *Engine {
	evaluator := conditions.NewEvaluator(logger)
	recipientResolver := recipients.NewResolver(directory, evaluator, logger)

	relations := EntityRelations{Persistence: p, Registry: registry}
	variableResolver := variables.NewResolver(registry, relations, evaluator, logger)
	renderer := variables.NewRenderer(variables.NewDefaultTable(), logger)

	var (
		n         notifier.Notifier
		publisher eventbus.EventPublisher
	)

	if bus != nil {
		n = notifier.NewBusNotifier(bus)
		publisher = bus
	} else {
		n = notifier.NewLogNotifier(logger)
	}

	executor := steps.NewExecutor(logger, p, registry, recipientResolver, variableResolver, renderer, evaluator, n, publisher)
	d := dispatcher.NewDispatcher(logger, p, executor, evaluator, publisher)
	machine := lifecycle.NewMachine(logger, p, registry, evaluator, d, nil, publisher)

	return &Engine{
		Dispatcher:      d,
		Executor:        executor,
		Machine:         machine,
		EngineService:   services.NewEngine(logger, p, d, executor, machine),
		WorkflowService: services.NewWorkflow(p),
	}
}

// EntityRelations resolves declared relations through the entity store: the
// relation's foreign key names the attribute holding the target entity's id.
type EntityRelations struct {
	Persistence persistence.Persistence
	Registry    *schema.Registry
}

// Related implements schema.RelationSource.
func (r EntityRelations) Related(ctx context.Context, entity *models.Entity, relation string) (map[string]any, error) {
	entityType, ok := r.Registry.Lookup(entity.Type)
	if !ok {
		return nil, nil
	}

	rel, ok := entityType.Relation(relation)
	if !ok || rel.ForeignKey == "" {
		return nil, nil
	}

	targetID, _ := entity.Attributes[rel.ForeignKey].(string)
	if targetID == "" {
		return nil, nil
	}

	target, err := r.Persistence.Entities().EntityByID(ctx, rel.TargetType, targetID)
	if err != nil {
		return nil, err
	}

	return target.Attributes, nil
}
