// Package lifecycle implements the per-entity-type state machine. Transitions
// carry permission, role and field guards; committing a transition re-checks
// the guards, mirrors the destination state into the type's flat status field
// and re-dispatches synthetic trigger events at three granularities.
//
// There is no locking around read-evaluate-write: two concurrent transition
// attempts on the same entity can race, and the second write wins. Stored
// rows have always behaved this way and callers depend on the engine not
// serializing them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/dispatcher"
	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/events"
	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/otelhelper"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/schema"
)

var tracer = otel.Tracer("tramite.lifecycle")

// EventLifecycleChanged is the generic synthetic event re-dispatched after
// every committed transition, alongside the transition-named and the
// destination-state-named events.
const EventLifecycleChanged = "lifecycle.changed"

var (
	// ErrTransitionNotAllowed is returned when a guard, role or permission
	// check rejects the transition for the acting user.
	ErrTransitionNotAllowed = errors.New("transition not allowed")

	// ErrWrongSourceState is returned when the entity is not in the
	// transition's source state.
	ErrWrongSourceState = errors.New("entity is not in the transition source state")
)

// PermissionChecker answers coarse permission checks for transitions that
// name one. The engine only asks; granting is the host application's job.
type PermissionChecker interface {
	HasPermission(ctx context.Context, user *models.User, permission string) bool
}

// AllowAll is the default permission checker: every named permission passes.
type AllowAll struct{}

func (AllowAll) HasPermission(context.Context, *models.User, string) bool { return true }

// Machine executes lifecycle transitions for entities.
type Machine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *schema.Registry
	evaluator   *conditions.Evaluator
	dispatcher  *dispatcher.Dispatcher
	permissions PermissionChecker
	publisher   eventbus.EventPublisher
}

// NewMachine creates a lifecycle machine. A nil permissions checker defaults
// to AllowAll; the publisher may be nil.
func NewMachine(
	logger *slog.Logger,
	p persistence.Persistence,
	registry *schema.Registry,
	evaluator *conditions.Evaluator,
	d *dispatcher.Dispatcher,
	permissions PermissionChecker,
	publisher eventbus.EventPublisher,
) *Machine {
	if permissions == nil {
		permissions = AllowAll{}
	}

	return &Machine{
		logger:      logger.With("component", "lifecycle"),
		persistence: p,
		registry:    registry,
		evaluator:   evaluator,
		dispatcher:  d,
		permissions: permissions,
		publisher:   publisher,
	}
}

// CanExecute reports whether the user may run the transition on the entity:
// the permission check passes when one is named, the user holds any of the
// required roles when any are named, the entity sits in the source state and
// every field guard holds.
func (m *Machine) CanExecute(
	ctx context.Context,
	transition *models.StateTransition,
	entity *models.Entity,
	user *models.User,
) bool {
	if transition == nil || entity == nil {
		return false
	}

	if entity.StateID != transition.FromStateID {
		return false
	}

	if transition.Permission != "" && !m.permissions.HasPermission(ctx, user, transition.Permission) {
		return false
	}

	if len(transition.Roles) > 0 && (user == nil || !user.HasRole(transition.Roles...)) {
		return false
	}

	return m.guardsHold(ctx, transition, entity)
}

// Execute commits the transition: guards are re-checked, the destination
// state is assigned and mirrored into the type's status field, the entity is
// persisted and three synthetic trigger events are dispatched. Extra data is
// merged into the dispatch context. Post-commit dispatch failures do not
// roll the state change back.
func (m *Machine) Execute(
	ctx context.Context,
	transition *models.StateTransition,
	entity *models.Entity,
	user *models.User,
	data map[string]any,
) error {
	if transition == nil || entity == nil {
		return ErrTransitionNotAllowed
	}

	ctx, span := otelhelper.StartSpan(ctx, tracer, "lifecycle.execute",
		attribute.String(otelhelper.EntityTypeKey, entity.Type),
		attribute.String(otelhelper.EntityIDKey, entity.ID),
		attribute.String(otelhelper.TransitionNameKey, transition.Name),
	)
	defer span.End()

	if !m.CanExecute(ctx, transition, entity, user) {
		err := fmt.Errorf("%w: %s on %s/%s", ErrTransitionNotAllowed, transition.Name, entity.Type, entity.ID)
		otelhelper.SetError(span, err)

		return err
	}

	fromState, err := m.persistence.Lifecycle().StateByID(ctx, transition.FromStateID)
	if err != nil {
		return fmt.Errorf("failed to load source state: %w", err)
	}

	toState, err := m.persistence.Lifecycle().StateByID(ctx, transition.ToStateID)
	if err != nil {
		return fmt.Errorf("failed to load destination state: %w", err)
	}

	entity.StateID = toState.ID
	m.mirrorStatus(entity, toState)

	if user != nil {
		entity.UpdatedBy = user.ID
	}
	entity.UpdatedAt = time.Now().UTC()

	if err := m.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to persist entity state: %w", err)
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}

	m.logger.InfoContext(ctx, "Transition executed",
		"entity_type", entity.Type,
		"entity_id", entity.ID,
		"transition", transition.Name,
		"from_state", fromState.Name,
		"to_state", toState.Name,
		"user_id", userID,
	)

	m.publishStateChanged(ctx, entity, transition, fromState, toState, userID)
	m.redispatch(ctx, entity, transition, fromState, toState, userID, data)

	return nil
}

// ExecuteByName resolves the named transition for the entity's type and
// executes it.
func (m *Machine) ExecuteByName(
	ctx context.Context,
	transitionName string,
	entity *models.Entity,
	user *models.User,
	data map[string]any,
) error {
	transition, err := m.persistence.Lifecycle().TransitionByName(ctx, entity.Type, transitionName)
	if err != nil {
		return err
	}

	return m.Execute(ctx, transition, entity, user, data)
}

// AssignInitialState puts a fresh entity into its type's initial state. No-op
// when the type has no lifecycle or the entity already carries a state.
func (m *Machine) AssignInitialState(ctx context.Context, entity *models.Entity) error {
	if entity.StateID != "" {
		return nil
	}

	initial, err := m.persistence.Lifecycle().InitialState(ctx, entity.Type)
	if err != nil {
		if errors.Is(err, persistence.ErrStateNotFound) {
			return nil
		}

		return err
	}

	entity.StateID = initial.ID
	m.mirrorStatus(entity, initial)

	return nil
}

// AvailableTransitions returns the transitions from the entity's current
// state that the user may execute.
func (m *Machine) AvailableTransitions(
	ctx context.Context,
	entity *models.Entity,
	user *models.User,
) ([]*models.StateTransition, error) {
	if entity.StateID == "" {
		return nil, nil
	}

	candidates, err := m.persistence.Lifecycle().TransitionsFromState(ctx, entity.StateID)
	if err != nil {
		return nil, err
	}

	var allowed []*models.StateTransition

	for _, transition := range candidates {
		if m.CanExecute(ctx, transition, entity, user) {
			allowed = append(allowed, transition)
		}
	}

	return allowed, nil
}

func (m *Machine) guardsHold(ctx context.Context, transition *models.StateTransition, entity *models.Entity) bool {
	if len(transition.Guards) == 0 {
		return true
	}

	stateName := ""
	if state, err := m.persistence.Lifecycle().StateByID(ctx, entity.StateID); err == nil {
		stateName = state.Name
	}

	for _, guard := range transition.Guards {
		if !m.evaluator.MatchField(entity, stateName, nil, guard.Field, guard.Operator, guard.Value) {
			return false
		}
	}

	return true
}

// mirrorStatus copies the state name into the entity type's flat status
// field when the registry declares one.
func (m *Machine) mirrorStatus(entity *models.Entity, state *models.ApprovalState) {
	entityType, ok := m.registry.Lookup(entity.Type)
	if !ok || entityType.StatusField == "" {
		return
	}

	entity.SetAttr(entityType.StatusField, state.Name)
}

// redispatch fires the three synthetic trigger events so workflow
// subscribers can pick their granularity. Failures are logged only, the
// committed state change stays.
func (m *Machine) redispatch(
	ctx context.Context,
	entity *models.Entity,
	transition *models.StateTransition,
	fromState, toState *models.ApprovalState,
	userID string,
	data map[string]any,
) {
	if m.dispatcher == nil {
		return
	}

	triggerCtx := make(map[string]any, len(data)+4)
	for key, value := range data {
		triggerCtx[key] = value
	}

	triggerCtx["transition_name"] = transition.Name
	triggerCtx["from_state"] = fromState.Name
	triggerCtx["to_state"] = toState.Name
	triggerCtx["user_id"] = userID

	for _, eventName := range []string{EventLifecycleChanged, transition.Name, toState.Name} {
		if _, err := m.dispatcher.Trigger(ctx, entity, eventName, triggerCtx); err != nil {
			m.logger.WarnContext(ctx, "Post-transition dispatch failed",
				"entity_id", entity.ID, "event", eventName, "error", err)
		}
	}
}

func (m *Machine) publishStateChanged(
	ctx context.Context,
	entity *models.Entity,
	transition *models.StateTransition,
	fromState, toState *models.ApprovalState,
	userID string,
) {
	if m.publisher == nil {
		return
	}

	_ = m.publisher.Publish(ctx, entity.Type+":"+entity.ID, events.StateChanged{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.StateChangedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: entity.Type,
			EntityID:   entity.ID,
		},
		TransitionName: transition.Name,
		FromState:      fromState.Name,
		ToState:        toState.Name,
		ExecutedBy:     userID,
	})
}
