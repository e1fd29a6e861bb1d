package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// OffsetType names how long before the due date a reminder fires.
// Only this bounded set is supported.
type OffsetType string

// Supported reminder offsets
const (
	OffsetAtDue     OffsetType = "at_due"
	Offset5Minutes  OffsetType = "5m"
	Offset15Minutes OffsetType = "15m"
	Offset30Minutes OffsetType = "30m"
	Offset1Hour     OffsetType = "1h"
	Offset1Day      OffsetType = "1d"
	Offset1Week     OffsetType = "1w"
)

var offsetDurations = map[OffsetType]time.Duration{
	OffsetAtDue:     0,
	Offset5Minutes:  5 * time.Minute,
	Offset15Minutes: 15 * time.Minute,
	Offset30Minutes: 30 * time.Minute,
	Offset1Hour:     time.Hour,
	Offset1Day:      24 * time.Hour,
	Offset1Week:     7 * 24 * time.Hour,
}

// Valid reports whether o is a supported offset.
func (o OffsetType) Valid() bool {
	_, ok := offsetDurations[o]
	return ok
}

// Duration returns the distance between fire time and due date.
func (o OffsetType) Duration() time.Duration {
	return offsetDurations[o]
}

// NormalizeOffsets validates, de-duplicates and sorts offsets.
func NormalizeOffsets(offsets []OffsetType) ([]OffsetType, error) {
	out := make([]OffsetType, 0, len(offsets))
	for _, o := range offsets {
		if !o.Valid() {
			return nil, invalid("reminder_offsets", "unknown offset %q", o)
		}
		out = append(out, o)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ReminderStatus is the delivery state of a reminder.
type ReminderStatus string

// Possible reminder status values
const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a scheduled notification for one (task, offset) pair.
// JobHandle identifies the scheduled job that will fire it.
type Reminder struct {
	ID         uuid.UUID      `json:"id"`
	TaskID     uuid.UUID      `json:"task_id"`
	OwnerID    uuid.UUID      `json:"owner_id"`
	FireAt     time.Time      `json:"fire_at"`
	OffsetType OffsetType     `json:"offset_type"`
	Status     ReminderStatus `json:"status"`
	JobHandle  string         `json:"job_handle"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewReminder creates a pending reminder for task firing offset before its
// due date. The task must have a due date.
func NewReminder(task *Task, offset OffsetType, now time.Time) (*Reminder, error) {
	if task.DueDate == nil {
		return nil, invalid("due_date", "is required to schedule a reminder")
	}
	if !offset.Valid() {
		return nil, invalid("offset_type", "unknown offset %q", offset)
	}
	now = now.UTC()
	return &Reminder{
		ID:         uuid.New(),
		TaskID:     task.ID,
		OwnerID:    task.OwnerID,
		FireAt:     task.DueDate.Add(-offset.Duration()).UTC(),
		OffsetType: offset,
		Status:     ReminderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NotificationEvent is the payload delivered to connected clients when a
// reminder fires. It is not persisted outside the audit log.
type NotificationEvent struct {
	ReminderID uuid.UUID  `json:"reminder_id"`
	TaskID     uuid.UUID  `json:"task_id"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	Title      string     `json:"title"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Priority   Priority   `json:"priority"`
	OffsetType OffsetType `json:"offset_type"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
}
