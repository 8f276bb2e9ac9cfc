// Package notifier abstracts outbound notification delivery. The engine
// renders subject and body before handing a message over, so implementations
// only deal with transport.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tramite-io/tramite/pkg/eventbus"
	"github.com/tramite-io/tramite/pkg/events"
)

// Message is one rendered notification addressed to resolved recipients.
type Message struct {
	EntityType  string
	EntityID    string
	ExecutionID string
	StepID      string
	From        string
	Recipients  []string
	Subject     string
	Body        string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log, used when no delivery
// channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "Notification dispatched",
		"entity_type", msg.EntityType,
		"entity_id", msg.EntityID,
		"execution_id", msg.ExecutionID,
		"from", msg.From,
		"recipients", msg.Recipients,
		"subject", msg.Subject,
	)

	return nil
}

// BusNotifier publishes every notification as an engine event so a delivery
// worker can consume them off the bus.
type BusNotifier struct {
	bus eventbus.EventBus
}

func NewBusNotifier(bus eventbus.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Send(ctx context.Context, msg Message) error {
	return n.bus.Publish(ctx, msg.EntityType+":"+msg.EntityID, events.NotificationDispatched{
		BaseEvent: events.BaseEvent{
			ID:         n.bus.GenerateID(),
			Type:       events.NotificationDispatchedEvent,
			Timestamp:  time.Now().UTC(),
			EntityType: msg.EntityType,
			EntityID:   msg.EntityID,
		},
		ExecutionID: msg.ExecutionID,
		StepID:      msg.StepID,
		From:        msg.From,
		Recipients:  msg.Recipients,
		Subject:     msg.Subject,
	})
}

// Recorder captures sent messages for assertions in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	// FailWith makes every Send return this error when set.
	FailWith error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	if r.FailWith != nil {
		return r.FailWith
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)

	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)

	return out
}
