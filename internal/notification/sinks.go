package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/consultation-booking/internal/core/events"
)

type Sink interface {
	Name() string
	Handle(ctx context.Context, event events.Event) error
}

// Register subscribes every sink to all event types.
func Register(bus *events.EventBus, sinks ...Sink) {
	for _, sink := range sinks {
		sink := sink
		bus.Subscribe(events.AllEvents, func(ctx context.Context, event events.Event) error {
			if err := sink.Handle(ctx, event); err != nil {
				return fmt.Errorf("%s sink: %w", sink.Name(), err)
			}
			return nil
		})
	}
}

// Message is the wire shape handed to delivery channels.
type Message struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	UserID     int64                  `json:"user_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func messageFrom(event events.Event) (Message, error) {
	ne, ok := event.(*events.NotificationEvent)
	if !ok {
		return Message{}, fmt.Errorf("unexpected event %T", event)
	}
	return Message{
		ID:         ne.EventID(),
		Kind:       ne.EventType(),
		UserID:     ne.UserID,
		OccurredAt: ne.OccurredAt(),
		Data:       ne.Data,
	}, nil
}

// LogSink records notifications in the service log. It is the only channel
// when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, event events.Event) error {
	msg, err := messageFrom(event)
	if err != nil {
		return err
	}
	s.logger.Info("notification",
		"notification_id", msg.ID,
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"data", msg.Data)
	return nil
}

type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// BrokerSink forwards notifications to a topic exchange keyed by kind, where
// the push, socket and email workers consume them.
type BrokerSink struct {
	publisher JSONPublisher
	timeout   time.Duration
}

func NewBrokerSink(publisher JSONPublisher) *BrokerSink {
	return &BrokerSink{publisher: publisher, timeout: 5 * time.Second}
}

func (s *BrokerSink) Name() string { return "broker" }

func (s *BrokerSink) Handle(ctx context.Context, event events.Event) error {
	msg, err := messageFrom(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.publisher.PublishJSON(ctx, "notification."+msg.Kind, msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", msg.ID, err)
	}
	return nil
}
