package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics events are published on.
const (
	// TopicLifecycle carries task_created, task_updated, task_completed and
	// task_deleted.
	TopicLifecycle = "tasks.lifecycle"

	// TopicRecurrence carries instance_created, recurrence_ended and
	// recurrence_error.
	TopicRecurrence = "tasks.recurrence"

	// TopicReminders carries reminder delivery outcomes.
	TopicReminders = "reminders.status"

	// TopicNotifications carries NotificationEvents for connected clients.
	TopicNotifications = "notifications"
)

// AllTopics lists every topic the audit trail records.
var AllTopics = []string{TopicLifecycle, TopicRecurrence, TopicReminders, TopicNotifications}

// Type identifies what happened.
type Type string

// Event types
const (
	TaskCreated       Type = "task_created"
	TaskUpdated       Type = "task_updated"
	TaskCompleted     Type = "task_completed"
	TaskDeleted       Type = "task_deleted"
	InstanceCreated   Type = "instance_created"
	RecurrenceEnded   Type = "recurrence_ended"
	RecurrenceError   Type = "recurrence_error"
	ReminderSent      Type = "reminder_sent"
	ReminderFailed    Type = "reminder_failed"
	ReminderCancelled Type = "reminder_cancelled"
	ReminderFired     Type = "reminder"
)

// Event is the envelope for everything published on the bus.
type Event struct {
	// ID is unique per event and lets consumers drop duplicates.
	ID uuid.UUID `json:"id"`

	Topic   string    `json:"topic"`
	Type    Type      `json:"type"`
	OwnerID uuid.UUID `json:"owner_id"`
	TaskID  uuid.UUID `json:"task_id"`

	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	RuleID       *uuid.UUID `json:"rule_id,omitempty"`
	Occurrence   *int       `json:"occurrence,omitempty"`

	// Payload is the structured snapshot the event carries.
	Payload json.RawMessage `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an event with a fresh ID and payload serialized as JSON.
func NewEvent(topic string, eventType Type, ownerID, taskID uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New(),
		Topic:     topic,
		Type:      eventType,
		OwnerID:   ownerID,
		TaskID:    taskID,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// WithSeries attaches recurrence context to e and returns it.
func (e *Event) WithSeries(parent, rule *uuid.UUID, occurrence int) *Event {
	e.ParentTaskID = parent
	e.RuleID = rule
	if occurrence > 0 {
		e.Occurrence = &occurrence
	}
	return e
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler defines an interface for components that consume events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}
