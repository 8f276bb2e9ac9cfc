package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/tramite-io/tramite/pkg/models"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/services"
)

// APIHandlers holds the HTTP handlers for the engine API.
type APIHandlers struct {
	engineService   *services.Engine
	workflowService *services.Workflow
	directory       recipients.Directory
	validator       *validator.Validate
}

// NewAPIHandlers creates the handler set. The directory resolves acting
// users for transition permission checks.
func NewAPIHandlers(
	engineService *services.Engine,
	workflowService *services.Workflow,
	directory recipients.Directory,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engineService:   engineService,
		workflowService: workflowService,
		directory:       directory,
		validator:       validator,
	}
}

// Trigger dispatches an entity event and returns the created executions.
func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.engineService.Trigger(c.Context(), services.TriggerRequest{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Event:      req.Event,
		Context:    req.Context,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"executions": executions,
	})
}

// GetTransitions lists the lifecycle transitions the acting user may execute
// on the entity.
func (h *APIHandlers) GetTransitions(c fiber.Ctx) error {
	entityType := c.Params("entityType")
	entityID := c.Params("entityId")

	if entityType == "" || entityID == "" {
		return badRequest(c, "Entity type and ID are required")
	}

	user, err := h.actingUser(c, c.Query("user_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	transitions, err := h.engineService.AvailableTransitions(c.Context(), entityType, entityID, user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"transitions": transitions})
}

// ExecuteTransition runs a named lifecycle transition on the entity.
func (h *APIHandlers) ExecuteTransition(c fiber.Ctx) error {
	entityType := c.Params("entityType")
	entityID := c.Params("entityId")
	transitionName := c.Params("transition")

	if entityType == "" || entityID == "" || transitionName == "" {
		return badRequest(c, "Entity type, entity ID and transition name are required")
	}

	var req TransitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	user, err := h.actingUser(c, req.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	entity, err := h.engineService.ExecuteTransition(c.Context(), entityType, entityID, transitionName, user, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entity)
}

// Approve grants a parked approval step.
func (h *APIHandlers) Approve(c fiber.Ctx) error {
	return h.decide(c, true)
}

// Reject denies a parked approval step.
func (h *APIHandlers) Reject(c fiber.Ctx) error {
	return h.decide(c, false)
}

func (h *APIHandlers) decide(c fiber.Ctx, approve bool) error {
	stepExecutionID := c.Params("id")
	if stepExecutionID == "" {
		return badRequest(c, "Step execution ID is required")
	}

	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var (
		execution any
		err       error
	)

	if approve {
		execution, err = h.engineService.Approve(c.Context(), stepExecutionID, req.UserID, req.Comment)
	} else {
		execution, err = h.engineService.Reject(c.Context(), stepExecutionID, req.UserID, req.Comment)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// Signal completes a manual wait step.
func (h *APIHandlers) Signal(c fiber.Ctx) error {
	stepExecutionID := c.Params("id")
	if stepExecutionID == "" {
		return badRequest(c, "Step execution ID is required")
	}

	var req SignalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engineService.Signal(c.Context(), stepExecutionID, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// CancelExecution stops a running execution.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engineService.Cancel(c.Context(), executionID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// GetExecutions lists the executions recorded for an entity.
func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	entityType := c.Params("entityType")
	entityID := c.Params("entityId")

	if entityType == "" || entityID == "" {
		return badRequest(c, "Entity type and ID are required")
	}

	executions, err := h.engineService.ExecutionsByEntity(c.Context(), entityType, entityID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

// GetExecution fetches one execution with its step rows.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	detail, err := h.engineService.Execution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

// GetWorkflows lists the workflow definitions for an entity type.
func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	entityType := c.Query("entity_type")
	if entityType == "" {
		return badRequest(c, "entity_type query parameter is required")
	}

	workflows, err := h.workflowService.ListByEntityType(c.Context(), entityType)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

// GetWorkflow fetches one workflow definition.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// CreateWorkflow stores a new workflow definition.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces an existing workflow definition.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), id, req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// HealthCheck reports the API's dependencies' health.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Tramite API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Tramite API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// actingUser resolves the acting user for transition checks. An empty id
// yields nil, which only passes transitions without role or permission
// requirements.
func (h *APIHandlers) actingUser(c fiber.Ctx, userID string) (*models.User, error) {
	if userID == "" {
		return nil, nil
	}

	return h.directory.UserByID(c.Context(), userID)
}
