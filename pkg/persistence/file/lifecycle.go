package file

import (
	"context"
	"sort"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

const (
	statesDir      = "states"
	transitionsDir = "transitions"
)

// LifecycleRepository stores approval states and transitions.
type LifecycleRepository struct {
	root string
}

func (lr *LifecycleRepository) InitialState(ctx context.Context, entityType string) (*models.ApprovalState, error) {
	states, err := lr.StatesByEntityType(ctx, entityType)
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.IsInitial {
			return state, nil
		}
	}

	return nil, persistence.ErrNoInitialState
}

func (lr *LifecycleRepository) StateByID(_ context.Context, id string) (*models.ApprovalState, error) {
	var state models.ApprovalState

	if err := readRecord(lr.root, statesDir, id, &state, persistence.ErrStateNotFound); err != nil {
		return nil, err
	}

	return &state, nil
}

func (lr *LifecycleRepository) StatesByEntityType(ctx context.Context, entityType string) ([]*models.ApprovalState, error) {
	ids, err := listRecordIDs(lr.root, statesDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.ApprovalState

	for _, id := range ids {
		state, err := lr.StateByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if state.EntityType == entityType {
			matched = append(matched, state)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].SortOrder < matched[j].SortOrder })

	return matched, nil
}

func (lr *LifecycleRepository) SaveState(_ context.Context, state *models.ApprovalState) error {
	return writeRecord(lr.root, statesDir, state.ID, state)
}

func (lr *LifecycleRepository) TransitionByID(_ context.Context, id string) (*models.StateTransition, error) {
	var transition models.StateTransition

	if err := readRecord(lr.root, transitionsDir, id, &transition, persistence.ErrTransitionNotFound); err != nil {
		return nil, err
	}

	return &transition, nil
}

func (lr *LifecycleRepository) TransitionByName(ctx context.Context, entityType, name string) (*models.StateTransition, error) {
	transitions, err := lr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, transition := range transitions {
		if transition.EntityType == entityType && transition.Name == name {
			return transition, nil
		}
	}

	return nil, persistence.ErrTransitionNotFound
}

func (lr *LifecycleRepository) TransitionsFromState(ctx context.Context, stateID string) ([]*models.StateTransition, error) {
	transitions, err := lr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.StateTransition

	for _, transition := range transitions {
		if transition.FromStateID == stateID {
			matched = append(matched, transition)
		}
	}

	return matched, nil
}

func (lr *LifecycleRepository) SaveTransition(_ context.Context, transition *models.StateTransition) error {
	return writeRecord(lr.root, transitionsDir, transition.ID, transition)
}

func (lr *LifecycleRepository) loadAll(ctx context.Context) ([]*models.StateTransition, error) {
	ids, err := listRecordIDs(lr.root, transitionsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	transitions := make([]*models.StateTransition, 0, len(ids))

	for _, id := range ids {
		transition, err := lr.TransitionByID(ctx, id)
		if err != nil {
			return nil, err
		}

		transitions = append(transitions, transition)
	}

	return transitions, nil
}
