package notification

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/consultation-booking/internal/core/events"
)

// Facade hands notifications to the event bus. Delivery happens on the bus's
// goroutines, so Notify never blocks the booking or payment path.
type Facade struct {
	bus    *events.EventBus
	logger *slog.Logger
}

func NewFacade(bus *events.EventBus, logger *slog.Logger) *Facade {
	return &Facade{bus: bus, logger: logger}
}

func (f *Facade) Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{}) {
	if userID == 0 {
		f.logger.Warn("notification dropped: no recipient", "kind", kind)
		return
	}

	event := events.NewNotificationEvent(userID, kind, payload)
	// delivery outlives the request that triggered it
	if err := f.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		f.logger.Warn("notification publish failed", "error", err, "kind", kind, "user_id", userID)
	}
}
