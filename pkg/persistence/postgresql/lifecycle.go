package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/persistence"
)

// LifecycleRepository handles approval state and state transition rows.
type LifecycleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const stateSelect = `
	SELECT
		id
	  , entity_type
	  , name
	  , description
	  , color
	  , is_initial
	  , is_final
	  , sort_order
	FROM approval_states
`

const transitionSelect = `
	SELECT
		id
	  , entity_type
	  , name
	  , from_state_id
	  , to_state_id
	  , permission
	  , roles
	  , guards
	  , requires_approval
	  , notification_template
	FROM state_transitions
`

func (r *LifecycleRepository) InitialState(ctx context.Context, entityType string) (*models.ApprovalState, error) {
	row := r.db.QueryRowContext(ctx, stateSelect+" WHERE entity_type = $1 AND is_initial", entityType)

	state, err := r.scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoInitialState
		}

		return nil, fmt.Errorf("failed to scan initial state: %w", err)
	}

	return state, nil
}

func (r *LifecycleRepository) StateByID(ctx context.Context, id string) (*models.ApprovalState, error) {
	row := r.db.QueryRowContext(ctx, stateSelect+" WHERE id = $1", id)

	state, err := r.scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStateNotFound
		}

		return nil, fmt.Errorf("failed to scan state: %w", err)
	}

	return state, nil
}

func (r *LifecycleRepository) StatesByEntityType(ctx context.Context, entityType string) ([]*models.ApprovalState, error) {
	rows, err := r.db.QueryContext(ctx, stateSelect+" WHERE entity_type = $1 ORDER BY sort_order", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}

	defer r.closeRows(ctx, rows)

	states := make([]*models.ApprovalState, 0)

	for rows.Next() {
		state, err := r.scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return states, nil
}

func (r *LifecycleRepository) SaveState(ctx context.Context, state *models.ApprovalState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_states
			(id, entity_type, name, description, color, is_initial, is_final, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			color = EXCLUDED.color,
			is_initial = EXCLUDED.is_initial,
			is_final = EXCLUDED.is_final,
			sort_order = EXCLUDED.sort_order
	`, state.ID, state.EntityType, state.Name, state.Description, state.Color,
		state.IsInitial, state.IsFinal, state.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", state.ID, err)
	}

	return nil
}

func (r *LifecycleRepository) TransitionByID(ctx context.Context, id string) (*models.StateTransition, error) {
	row := r.db.QueryRowContext(ctx, transitionSelect+" WHERE id = $1", id)

	transition, err := r.scanTransition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTransitionNotFound
		}

		return nil, fmt.Errorf("failed to scan transition: %w", err)
	}

	return transition, nil
}

func (r *LifecycleRepository) TransitionByName(ctx context.Context, entityType, name string) (*models.StateTransition, error) {
	row := r.db.QueryRowContext(ctx, transitionSelect+" WHERE entity_type = $1 AND name = $2", entityType, name)

	transition, err := r.scanTransition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTransitionNotFound
		}

		return nil, fmt.Errorf("failed to scan transition: %w", err)
	}

	return transition, nil
}

func (r *LifecycleRepository) TransitionsFromState(ctx context.Context, stateID string) ([]*models.StateTransition, error) {
	rows, err := r.db.QueryContext(ctx, transitionSelect+" WHERE from_state_id = $1 ORDER BY name", stateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	transitions := make([]*models.StateTransition, 0)

	for rows.Next() {
		transition, err := r.scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		transitions = append(transitions, transition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

func (r *LifecycleRepository) SaveTransition(ctx context.Context, transition *models.StateTransition) error {
	roles, err := marshalJSONB(transition.Roles)
	if err != nil {
		return err
	}

	guards, err := marshalJSONB(transition.Guards)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO state_transitions
			(id, entity_type, name, from_state_id, to_state_id, permission, roles, guards,
			 requires_approval, notification_template)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			from_state_id = EXCLUDED.from_state_id,
			to_state_id = EXCLUDED.to_state_id,
			permission = EXCLUDED.permission,
			roles = EXCLUDED.roles,
			guards = EXCLUDED.guards,
			requires_approval = EXCLUDED.requires_approval,
			notification_template = EXCLUDED.notification_template
	`, transition.ID, transition.EntityType, transition.Name, transition.FromStateID,
		transition.ToStateID, transition.Permission, roles, guards,
		transition.RequiresApproval, transition.NotificationTemplate)
	if err != nil {
		return fmt.Errorf("failed to save transition %s: %w", transition.ID, err)
	}

	return nil
}

func (r *LifecycleRepository) scanState(row interface{ Scan(...any) error }) (*models.ApprovalState, error) {
	var state models.ApprovalState

	err := row.Scan(
		&state.ID,
		&state.EntityType,
		&state.Name,
		&state.Description,
		&state.Color,
		&state.IsInitial,
		&state.IsFinal,
		&state.SortOrder,
	)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (r *LifecycleRepository) scanTransition(row interface{ Scan(...any) error }) (*models.StateTransition, error) {
	var (
		transition models.StateTransition
		roles      []byte
		guards     []byte
	)

	err := row.Scan(
		&transition.ID,
		&transition.EntityType,
		&transition.Name,
		&transition.FromStateID,
		&transition.ToStateID,
		&transition.Permission,
		&roles,
		&guards,
		&transition.RequiresApproval,
		&transition.NotificationTemplate,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(roles, &transition.Roles); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(guards, &transition.Guards); err != nil {
		return nil, err
	}

	return &transition, nil
}

func (r *LifecycleRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
