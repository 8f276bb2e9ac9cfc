package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the engine API on the app.
func RegisterRoutes(app *fiber.App, handlers *APIHandlers) {
	app.Get("/health", handlers.HealthCheck)
	app.Post("/trigger", handlers.Trigger)

	workflows := app.Group("/workflows")
	workflows.Get("/", handlers.GetWorkflows)
	workflows.Post("/", handlers.CreateWorkflow)
	workflows.Get("/:id", handlers.GetWorkflow)
	workflows.Put("/:id", handlers.UpdateWorkflow)

	entities := app.Group("/entities/:entityType/:entityId")
	entities.Get("/transitions", handlers.GetTransitions)
	entities.Post("/transitions/:transition", handlers.ExecuteTransition)
	entities.Get("/executions", handlers.GetExecutions)

	app.Get("/executions/:id", handlers.GetExecution)
	app.Post("/executions/:id/cancel", handlers.CancelExecution)

	stepExecutions := app.Group("/step-executions")
	stepExecutions.Post("/:id/approve", handlers.Approve)
	stepExecutions.Post("/:id/reject", handlers.Reject)
	stepExecutions.Post("/:id/signal", handlers.Signal)
}
