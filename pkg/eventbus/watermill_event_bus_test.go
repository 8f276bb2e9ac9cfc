package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tramite-io/tramite/pkg/channels/gochannel"
	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/events"
)

func TestWatermillEventBusDeliversTypedEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.ExecutionStarted, 1)

	err = bus.Handle(events.ExecutionStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.ExecutionStarted)
		require.True(t, ok)
		received <- started

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	err = bus.Publish(ctx, "document:doc-1", events.ExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:         bus.GenerateID(),
			Type:       events.ExecutionStartedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: "document",
			EntityID:   "doc-1",
		},
		ExecutionID:  "exec-abc12345",
		WorkflowID:   "wf-1",
		TriggerEvent: "created",
	})
	require.NoError(t, err)

	select {
	case started := <-received:
		assert.Equal(t, "exec-abc12345", started.ExecutionID)
		assert.Equal(t, "document", started.EntityType)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type, the message is acked and dropped.
	err = bus.Publish(ctx, "document:doc-1", events.StepCompleted{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.StepCompletedEvent},
	})
	require.NoError(t, err)
}
