package natsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/phrazzld/cadence-api/internal/events"
)

// Bus publishes events as JSON on "<prefix>.<topic>" subjects. Subscribers
// with a group name join a NATS queue group so each event is handled by one
// member of the group.
type Bus struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// NewBus creates a Bus on conn.
func NewBus(conn *nats.Conn, prefix string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "nats_bus"),
		subs:   make(map[*nats.Subscription]struct{}),
	}
}

var _ events.Bus = (*Bus)(nil)

// Subject returns the NATS subject for topic.
func (b *Bus) Subject(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

// Publish implements events.Bus.
func (b *Bus) Publish(ctx context.Context, event *events.Event) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("%w: %w", events.ErrPublishFailure, events.ErrClosed)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", events.ErrPublishFailure, err)
	}
	if err := b.conn.Publish(b.Subject(event.Topic), data); err != nil {
		return fmt.Errorf("%w: nats publish: %v", events.ErrPublishFailure, err)
	}
	return nil
}

// Subscribe implements events.Bus.
func (b *Bus) Subscribe(topic, group string, handler events.EventHandler) (events.Subscription, error) {
	if b.conn.IsClosed() {
		return nil, events.ErrClosed
	}

	subject := b.Subject(topic)
	cb := func(m *nats.Msg) {
		var event events.Event
		if err := json.Unmarshal(m.Data, &event); err != nil {
			b.logger.Error("dropping undecodable event", "subject", m.Subject, "error", err)
			return
		}
		if err := handler.HandleEvent(context.Background(), &event); err != nil {
			b.logger.Error("handler failed to process event",
				"error", err,
				"event_id", event.ID,
				"event_type", event.Type,
				"subject", m.Subject)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group == "" {
		sub, err = b.conn.Subscribe(subject, cb)
	} else {
		sub, err = b.conn.QueueSubscribe(subject, group, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &natsSubscription{bus: b, sub: sub}, nil
}

// Close unsubscribes every subscription created through the bus. The
// connection itself belongs to the Runtime.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			b.logger.Warn("failed to unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	return nil
}

type natsSubscription struct {
	bus *Bus
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}
