package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/tramite-io/tramite/pkg/cmd"
	"github.com/tramite-io/tramite/pkg/log"
	"github.com/tramite-io/tramite/pkg/recipients"
)

func main() {
	logger := log.WithModule("reaper")

	command := &cli.Command{
		Name:                  "tramite-reaper",
		Usage:                 "Sweep overdue step executions on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the sweep interval",
				Value:   "* * * * *",
				Sources: cli.EnvVars("REAPER_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit, for external schedulers",
			},
			&cli.StringFlag{
				Name:    "schemas-path",
				Usage:   "Path to the directory containing entity schema descriptors",
				Value:   "./schemas",
				Sources: cli.EnvVars("SCHEMAS_PATH"),
			},
			&cli.StringFlag{
				Name:     "users-path",
				Usage:    "Path to the JSON user directory file",
				Required: true,
				Sources:  cli.EnvVars("USERS_PATH"),
			},
			&cli.StringFlag{
				Name:    "notify-from",
				Usage:   "Default from-address on outbound notifications",
				Sources: cli.EnvVars("NOTIFY_FROM"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Tramite Reaper")

			registry, err := cmd.NewSchemaRegistry(command.String("schemas-path"))
			if err != nil {
				return err
			}

			directory, err := recipients.NewFileDirectory(command.String("users-path"))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "tramite-reaper", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			engine := cmd.NewEngine(logger, persistence, registry, directory, eventBus)
			engine.Executor.SetFromAddress(command.String("notify-from"))

			runner := NewRunner(logger, persistence, engine, command.String("schedule"))

			if command.Bool("once") {
				return runner.SweepOnce(ctx)
			}

			return runner.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
