// Package main provides the Tramite API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/tramite-io/tramite/pkg/cmd"
	"github.com/tramite-io/tramite/pkg/recipients"
	"github.com/tramite-io/tramite/pkg/web"
)

type API struct {
	logger    *slog.Logger
	engine    *cmd.Engine
	directory recipients.Directory
	validate  *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *cmd.Engine, directory recipients.Directory) *API {
	return &API{
		logger:    logger,
		engine:    engine,
		directory: directory,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.engine.EngineService,
		a.engine.WorkflowService,
		a.directory,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
