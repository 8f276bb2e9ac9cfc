// Package recipients resolves the address lists notifications and approvals
// are sent to. Resolution strategies mirror the stored recipient_config
// shapes; an empty result is valid here and only the notification step
// treats it as a failure.
package recipients

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"

	"github.com/tramite-io/tramite/pkg/conditions"
	"github.com/tramite-io/tramite/pkg/models"
)

// Directory is the user-directory collaborator the resolver reads through.
// Role lookups accept role names and, for legacy rows, numeric role ids in
// string form.
type Directory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	UsersByRole(ctx context.Context, roles []string) ([]*models.User, error)
	UsersByRoleInDepartment(ctx context.Context, role, department string) ([]*models.User, error)
	ManagerOf(ctx context.Context, userID string) (*models.User, error)
	DepartmentHeadOf(ctx context.Context, userID string) (*models.User, error)
}

// Resolver resolves recipient specs to de-duplicated, syntactically valid
// email addresses.
type Resolver struct {
	directory Directory
	evaluator *conditions.Evaluator
	logger    *slog.Logger
}

// NewResolver creates a recipient resolver.
func NewResolver(directory Directory, evaluator *conditions.Evaluator, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		evaluator: evaluator,
		logger:    logger.With("module", "recipients"),
	}
}

// Resolve returns the address list for one recipient spec. Lookup failures
// and empty branches degrade to an empty list; the error return is reserved
// for unknown recipient types.
func (r *Resolver) Resolve(ctx context.Context, recipientType models.RecipientType, config map[string]any, entity *models.Entity, triggerCtx map[string]any) ([]string, error) {
	if config == nil {
		config = map[string]any{}
	}

	var addresses []string

	switch recipientType {
	case models.RecipientTypeCreator:
		addresses = r.resolveCreator(ctx, entity)
	case models.RecipientTypeApprover:
		addresses = r.resolveApprover(ctx, config, triggerCtx)
	case models.RecipientTypeRole:
		addresses = r.resolveRole(ctx, config)
	case models.RecipientTypeUser:
		addresses = r.resolveUsers(ctx, stringList(config["user_ids"]))
	case models.RecipientTypeConditional:
		addresses = r.resolveConditional(ctx, config, entity, triggerCtx)
	case models.RecipientTypeDynamic:
		addresses = r.resolveDynamic(ctx, config, entity)
	case models.RecipientTypeEmail:
		addresses = stringList(config["emails"])
	default:
		return nil, fmt.Errorf("unknown recipient type %q", recipientType)
	}

	return dedupeValid(addresses), nil
}

// resolveCreator follows the entity's creator relation via the created_by
// foreign key.
func (r *Resolver) resolveCreator(ctx context.Context, entity *models.Entity) []string {
	if entity == nil {
		return nil
	}

	creatorID := entity.CreatedBy
	if creatorID == "" {
		creatorID, _ = entity.Attr("created_by").(string)
	}

	if creatorID == "" {
		return nil
	}

	return r.resolveUsers(ctx, []string{creatorID})
}

// resolveApprover prefers the current approver from the trigger context and
// falls back to an explicit approver-id list.
func (r *Resolver) resolveApprover(ctx context.Context, config map[string]any, triggerCtx map[string]any) []string {
	if triggerCtx != nil {
		if approverID, ok := triggerCtx["current_approver_id"].(string); ok && approverID != "" {
			return r.resolveUsers(ctx, []string{approverID})
		}
	}

	return r.resolveUsers(ctx, stringList(config["approver_ids"]))
}

// resolveRole accepts role names under "roles" and legacy numeric ids under
// "role_ids".
func (r *Resolver) resolveRole(ctx context.Context, config map[string]any) []string {
	roles := stringList(config["roles"])
	roles = append(roles, stringList(config["role_ids"])...)

	if len(roles) == 0 {
		return nil
	}

	users, err := r.directory.UsersByRole(ctx, roles)
	if err != nil {
		r.logger.Warn("Role lookup failed", "roles", roles, "error", err)

		return nil
	}

	return emails(users)
}

// resolveConditional evaluates one field guard; on match it recurses into
// the nested recipient spec, otherwise the branch is empty.
func (r *Resolver) resolveConditional(ctx context.Context, config map[string]any, entity *models.Entity, triggerCtx map[string]any) []string {
	field, _ := config["field"].(string)
	operator, _ := config["operator"].(string)

	if !r.evaluator.MatchField(entity, "", triggerCtx, field, operator, config["value"]) {
		return nil
	}

	nested, ok := config["recipients"].(map[string]any)
	if !ok {
		r.logger.Warn("Conditional recipient missing nested spec", "field", field)

		return nil
	}

	nestedType, _ := nested["type"].(string)

	switch models.RecipientType(nestedType) {
	case models.RecipientTypeUser:
		return r.resolveUsers(ctx, stringList(nested["user_ids"]))
	case models.RecipientTypeRole:
		return r.resolveRole(ctx, nested)
	default:
		r.logger.Warn("Conditional recipient supports only user and role branches", "type", nestedType)

		return nil
	}
}

// resolveDynamic dispatches on the "dynamic_type" key.
func (r *Resolver) resolveDynamic(ctx context.Context, config map[string]any, entity *models.Entity) []string {
	if entity == nil {
		return nil
	}

	dynamicType, _ := config["dynamic_type"].(string)

	switch dynamicType {
	case "last_editor":
		if entity.UpdatedBy == "" {
			return nil
		}

		return r.resolveUsers(ctx, []string{entity.UpdatedBy})

	case "assigned_user":
		assignee, _ := entity.Attr("assigned_to").(string)
		if assignee == "" {
			return nil
		}

		return r.resolveUsers(ctx, []string{assignee})

	case "creator_manager":
		user, err := r.directory.ManagerOf(ctx, entity.CreatedBy)
		if err != nil || user == nil {
			return nil
		}

		return []string{user.Email}

	case "creator_department_head":
		user, err := r.directory.DepartmentHeadOf(ctx, entity.CreatedBy)
		if err != nil || user == nil {
			return nil
		}

		return []string{user.Email}

	case "field_email":
		field, _ := config["field"].(string)
		address, _ := entity.Attr(field).(string)
		if address == "" {
			return nil
		}

		return []string{address}
	}

	r.logger.Warn("Unknown dynamic recipient type", "dynamic_type", dynamicType)

	return nil
}

func (r *Resolver) resolveUsers(ctx context.Context, userIDs []string) []string {
	addresses := make([]string, 0, len(userIDs))

	for _, id := range userIDs {
		user, err := r.directory.UserByID(ctx, id)
		if err != nil || user == nil {
			r.logger.Warn("User lookup failed", "user_id", id, "error", err)

			continue
		}

		addresses = append(addresses, user.Email)
	}

	return addresses
}

// ResolveApprovers resolves the approver set of an approval step to users:
// static ids or roles under "approver_ids"/"approver_roles", or a dynamic
// resolver under "dynamic_type" (manager, department_head,
// role_in_department).
func (r *Resolver) ResolveApprovers(ctx context.Context, config map[string]any, entity *models.Entity) ([]*models.User, error) {
	if config == nil {
		config = map[string]any{}
	}

	if dynamicType, ok := config["dynamic_type"].(string); ok && dynamicType != "" {
		return r.resolveDynamicApprovers(ctx, dynamicType, config, entity)
	}

	var approvers []*models.User

	for _, id := range stringList(config["approver_ids"]) {
		user, err := r.directory.UserByID(ctx, id)
		if err != nil || user == nil {
			r.logger.Warn("Approver lookup failed", "user_id", id, "error", err)

			continue
		}

		approvers = append(approvers, user)
	}

	if roles := stringList(config["approver_roles"]); len(roles) > 0 {
		users, err := r.directory.UsersByRole(ctx, roles)
		if err != nil {
			r.logger.Warn("Approver role lookup failed", "roles", roles, "error", err)
		} else {
			approvers = append(approvers, users...)
		}
	}

	return dedupeUsers(approvers), nil
}

func (r *Resolver) resolveDynamicApprovers(ctx context.Context, dynamicType string, config map[string]any, entity *models.Entity) ([]*models.User, error) {
	if entity == nil {
		return nil, nil
	}

	switch dynamicType {
	case "manager":
		user, err := r.directory.ManagerOf(ctx, entity.CreatedBy)
		if err != nil || user == nil {
			return nil, err
		}

		return []*models.User{user}, nil

	case "department_head":
		user, err := r.directory.DepartmentHeadOf(ctx, entity.CreatedBy)
		if err != nil || user == nil {
			return nil, err
		}

		return []*models.User{user}, nil

	case "role_in_department":
		role, _ := config["role"].(string)

		creator, err := r.directory.UserByID(ctx, entity.CreatedBy)
		if err != nil || creator == nil {
			return nil, err
		}

		users, err := r.directory.UsersByRoleInDepartment(ctx, role, creator.Department)
		if err != nil {
			return nil, err
		}

		return dedupeUsers(users), nil
	}

	return nil, fmt.Errorf("unknown dynamic approver type %q", dynamicType)
}

// emails maps users to their non-empty email addresses.
func emails(users []*models.User) []string {
	addresses := make([]string, 0, len(users))

	for _, user := range users {
		if user == nil || user.Email == "" {
			continue
		}

		addresses = append(addresses, user.Email)
	}

	return addresses
}

// dedupeValid removes duplicates and syntactically invalid addresses,
// preserving order.
func dedupeValid(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	valid := make([]string, 0, len(addresses))

	for _, address := range addresses {
		if address == "" {
			continue
		}

		if _, err := mail.ParseAddress(address); err != nil {
			continue
		}

		if _, dup := seen[address]; dup {
			continue
		}

		seen[address] = struct{}{}
		valid = append(valid, address)
	}

	return valid
}

func dedupeUsers(users []*models.User) []*models.User {
	seen := make(map[string]struct{}, len(users))
	unique := make([]*models.User, 0, len(users))

	for _, user := range users {
		if user == nil {
			continue
		}

		if _, dup := seen[user.ID]; dup {
			continue
		}

		seen[user.ID] = struct{}{}
		unique = append(unique, user)
	}

	return unique
}

// stringList normalizes a config value to a string slice, stringifying
// legacy numeric ids.
func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))

		for _, item := range v {
			switch value := item.(type) {
			case string:
				list = append(list, value)
			case float64:
				list = append(list, strconv.FormatFloat(value, 'f', -1, 64))
			case int:
				list = append(list, strconv.Itoa(value))
			}
		}

		return list
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	default:
		return nil
	}
}
