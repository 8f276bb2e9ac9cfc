package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tramite-io/tramite/pkg/cmd"
	"github.com/tramite-io/tramite/pkg/persistence"
	"github.com/tramite-io/tramite/pkg/reaper"
)

// Runner drives reaper sweeps on a cron schedule. Each sweep settles
// overdue step executions, so a missed or doubled run is harmless.
type Runner struct {
	logger   *slog.Logger
	reaper   *reaper.Reaper
	schedule string
}

func NewRunner(logger *slog.Logger, p persistence.Persistence, engine *cmd.Engine, schedule string) *Runner {
	return &Runner{
		logger:   logger,
		reaper:   reaper.NewReaper(logger, p, engine.Dispatcher),
		schedule: schedule,
	}
}

// SweepOnce runs a single sweep, for invocation from an external scheduler.
func (r *Runner) SweepOnce(ctx context.Context) error {
	settled, err := r.reaper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Sweep finished", "settled", settled)

	return nil
}

// Start schedules recurring sweeps and blocks until interrupted.
func (r *Runner) Start(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := scheduler.AddFunc(r.schedule, func() {
		if err := r.SweepOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	r.logger.InfoContext(ctx, "Starting reaper", "schedule", r.schedule)
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		r.logger.InfoContext(ctx, "Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	return nil
}
