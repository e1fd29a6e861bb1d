package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/events"
)

// Subscriber feeds notification events from the bus into a Hub. Every
// process subscribes without a queue group because connections are local
// to the process holding them.
type Subscriber struct {
	hub    *Hub
	bus    events.Bus
	logger *slog.Logger
	sub    events.Subscription
}

// NewSubscriber creates a Subscriber. It returns an error if a dependency
// is nil.
func NewSubscriber(hub *Hub, bus events.Bus, logger *slog.Logger) (*Subscriber, error) {
	if hub == nil {
		return nil, domain.NewValidationError("hub", "cannot be nil", domain.ErrValidation)
	}
	if bus == nil {
		return nil, domain.NewValidationError("bus", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		hub:    hub,
		bus:    bus,
		logger: logger.With(slog.String("component", "notification_subscriber")),
	}, nil
}

// Start subscribes to the notification topic.
func (s *Subscriber) Start() error {
	sub, err := s.bus.Subscribe(events.TopicNotifications, "", events.HandlerFunc(s.HandleEvent))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", events.TopicNotifications, err)
	}
	s.sub = sub
	return nil
}

// Stop unsubscribes.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// HandleEvent implements events.EventHandler.
func (s *Subscriber) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.ReminderFired {
		return nil
	}
	var n domain.NotificationEvent
	if err := event.UnmarshalPayload(&n); err != nil {
		return fmt.Errorf("decode notification %s: %w", event.ID, err)
	}
	delivered := s.hub.Publish(n)
	s.logger.Debug("notification fanned out",
		slog.String("event_id", event.ID.String()),
		slog.String("owner_id", n.OwnerID.String()),
		slog.Int("connections", delivered))
	return nil
}
