// Package main provides the queue receiver: it pops entity lifecycle events
// from a Redis list and feeds them to the trigger dispatcher.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tramite-io/tramite/pkg/cmd"
	"github.com/tramite-io/tramite/pkg/services"
)

const popTimeout = 1 * time.Second

// entityEvent is the wire shape producers push onto the queue.
type entityEvent struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Event      string         `json:"event"`
	Context    map[string]any `json:"context,omitempty"`
}

type Receiver struct {
	logger *slog.Logger
	engine *cmd.Engine
	client *redis.Client
	queue  string
}

func NewReceiver(logger *slog.Logger, engine *cmd.Engine, redisURL, queue string) (*Receiver, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &Receiver{
		logger: logger.With("queue", queue),
		engine: engine,
		client: redis.NewClient(options),
		queue:  queue,
	}, nil
}

// Run consumes the queue until interrupted.
func (r *Receiver) Run(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Starting queue consumer")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Queue consumer stopped")

			return r.client.Close()
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, popTimeout, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var event entityEvent
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		r.logger.WarnContext(ctx, "Discarding malformed message", "message", result[1])

		return nil
	}

	executions, err := r.engine.EngineService.Trigger(ctx, services.TriggerRequest{
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Event:      event.Event,
		Context:    event.Context,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch %s for %s/%s: %w", event.Event, event.EntityType, event.EntityID, err)
	}

	r.logger.InfoContext(ctx, "Dispatched entity event",
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"event", event.Event,
		"executions", len(executions),
	)

	return nil
}
