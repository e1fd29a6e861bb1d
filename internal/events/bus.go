package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
)

// Common bus errors.
var (
	// ErrPublishFailure wraps every error returned by a failed publish.
	ErrPublishFailure = errors.New("publish failed")

	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("bus closed")
)

// Bus is a publish/subscribe transport.
type Bus interface {
	// Publish delivers event to the subscribers of event.Topic.
	Publish(ctx context.Context, event *Event) error

	// Subscribe registers handler for topic. Subscribers sharing a non-empty
	// group split the topic's events between them; an empty group receives
	// every event.
	Subscribe(topic, group string, handler EventHandler) (Subscription, error)

	// Close stops delivery and releases resources.
	Close() error
}

// Subscription is an active registration on a Bus.
type Subscription interface {
	Unsubscribe() error
}

// ErrorSink observes events that could not be published.
type ErrorSink func(ctx context.Context, event *Event, err error)

// Publisher publishes events after the write they describe has committed.
// Failures never propagate to the caller: they are logged, counted, and
// handed to the optional sink.
type Publisher struct {
	bus      Bus
	logger   *slog.Logger
	sink     ErrorSink
	failures atomic.Int64
}

// NewPublisher creates a Publisher over bus.
func NewPublisher(bus Bus, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		bus:    bus,
		logger: log.With("component", "event_publisher"),
	}
}

// SetErrorSink installs sink. Not safe to call concurrently with Emit.
func (p *Publisher) SetErrorSink(sink ErrorSink) {
	p.sink = sink
}

// Emit publishes event and swallows any failure.
func (p *Publisher) Emit(ctx context.Context, event *Event) {
	_ = p.Publish(ctx, event)
}

// Publish publishes event and returns an error wrapping ErrPublishFailure
// on failure. The failure is also logged and counted.
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	err := p.bus.Publish(ctx, event)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPublishFailure) {
		err = fmt.Errorf("%w: %v", ErrPublishFailure, err)
	}

	p.failures.Add(1)
	logger.FromContextOrDefault(ctx, p.logger).Warn("failed to publish event",
		"error", err,
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", event.Topic,
		"task_id", event.TaskID)
	if p.sink != nil {
		p.sink(ctx, event, err)
	}
	return err
}

// Failures returns how many publishes have failed.
func (p *Publisher) Failures() int64 {
	return p.failures.Load()
}

// Build is NewEvent for callers that cannot act on a marshal error: the
// error is logged and nil is returned, which Emit ignores.
func (p *Publisher) Build(topic string, eventType Type, ownerID, taskID uuid.UUID, payload any) *Event {
	event, err := NewEvent(topic, eventType, ownerID, taskID, payload)
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("failed to encode event payload",
			"error", err,
			"event_type", eventType,
			"task_id", taskID)
		return nil
	}
	return event
}
