package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/store"
)

// QueueGroup is the bus group audit subscribers join, so each event is
// recorded by one process.
const QueueGroup = "audit"

var auditTypes = map[events.Type]domain.AuditEventType{
	events.TaskCreated:       domain.AuditTaskCreated,
	events.TaskUpdated:       domain.AuditTaskUpdated,
	events.TaskCompleted:     domain.AuditTaskCompleted,
	events.TaskDeleted:       domain.AuditTaskDeleted,
	events.InstanceCreated:   domain.AuditInstanceCreated,
	events.RecurrenceEnded:   domain.AuditRecurrenceEnded,
	events.RecurrenceError:   domain.AuditRecurrenceError,
	events.ReminderSent:      domain.AuditReminderSent,
	events.ReminderFailed:    domain.AuditReminderFailed,
	events.ReminderCancelled: domain.AuditReminderCancelled,
}

// RecordFromEvent converts event into an audit record. It reports false for
// event types the audit trail does not record.
func RecordFromEvent(event *events.Event) (*domain.AuditRecord, bool) {
	eventType, ok := auditTypes[event.Type]
	if !ok {
		return nil, false
	}
	created := event.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &domain.AuditRecord{
		ID:               uuid.New(),
		EventID:          event.ID,
		OwnerID:          event.OwnerID,
		TaskID:           event.TaskID,
		EventType:        eventType,
		Payload:          event.Payload,
		ParentTaskID:     event.ParentTaskID,
		RuleID:           event.RuleID,
		OccurrenceNumber: event.Occurrence,
		CreatedAt:        created.UTC(),
	}, true
}

// Stats counts what the logger has done since it started.
type Stats struct {
	Recorded   int64 `json:"recorded"`
	Duplicates int64 `json:"duplicates"`
	Failures   int64 `json:"failures"`
}

// Logger appends one audit record per bus event. Storage errors are logged
// and counted, never returned to the bus.
type Logger struct {
	store  store.AuditStore
	bus    events.Bus
	logger *slog.Logger
	subs   []events.Subscription

	recorded   atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// NewLogger creates a Logger. It returns an error if a dependency is nil.
func NewLogger(st store.AuditStore, bus events.Bus, logger *slog.Logger) (*Logger, error) {
	if st == nil {
		return nil, domain.NewValidationError("store", "cannot be nil", domain.ErrValidation)
	}
	if bus == nil {
		return nil, domain.NewValidationError("bus", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:  st,
		bus:    bus,
		logger: logger.With(slog.String("component", "audit_logger")),
	}, nil
}

// Start subscribes to every event topic.
func (l *Logger) Start() error {
	for _, topic := range events.AllTopics {
		sub, err := l.bus.Subscribe(topic, QueueGroup, l)
		if err != nil {
			_ = l.Stop()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		l.subs = append(l.subs, sub)
	}
	return nil
}

// Stop unsubscribes from every topic.
func (l *Logger) Stop() error {
	var errs []error
	for _, sub := range l.subs {
		errs = append(errs, sub.Unsubscribe())
	}
	l.subs = nil
	return errors.Join(errs...)
}

// HandleEvent implements events.EventHandler.
func (l *Logger) HandleEvent(ctx context.Context, event *events.Event) error {
	rec, ok := RecordFromEvent(event)
	if !ok {
		return nil
	}

	err := l.store.AppendAudit(ctx, rec)
	switch {
	case err == nil:
		l.recorded.Add(1)
	case errors.Is(err, store.ErrDuplicate):
		l.duplicates.Add(1)
		l.logger.Debug("duplicate audit event ignored", slog.String("event_id", event.ID.String()))
	default:
		l.failures.Add(1)
		l.logger.Error("failed to append audit record",
			slog.String("error", err.Error()),
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", string(event.Type)),
			slog.String("task_id", event.TaskID.String()))
	}
	return nil
}

// Stats returns the current counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Recorded:   l.recorded.Load(),
		Duplicates: l.duplicates.Load(),
		Failures:   l.failures.Load(),
	}
}

// List returns the owner's records created at or after since, oldest first.
func (l *Logger) List(ctx context.Context, ownerID uuid.UUID, since time.Time, limit int) ([]*domain.AuditRecord, error) {
	return l.store.ListAudit(ctx, ownerID, since, limit)
}
