package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies an audit record.
type AuditEventType string

// Audit event types. The first four come from the recurrence engine; the
// rest record repository and reminder lifecycle events.
const (
	AuditInstanceCreated   AuditEventType = "instance_created"
	AuditTaskCompleted     AuditEventType = "task_completed"
	AuditRecurrenceEnded   AuditEventType = "recurrence_ended"
	AuditRecurrenceError   AuditEventType = "recurrence_error"
	AuditTaskCreated       AuditEventType = "task_created"
	AuditTaskUpdated       AuditEventType = "task_updated"
	AuditTaskDeleted       AuditEventType = "task_deleted"
	AuditReminderSent      AuditEventType = "reminder_sent"
	AuditReminderFailed    AuditEventType = "reminder_failed"
	AuditReminderCancelled AuditEventType = "reminder_cancelled"
)

// AuditRecord is an immutable entry in the audit trail.
type AuditRecord struct {
	ID               uuid.UUID       `json:"id"`
	EventID          uuid.UUID       `json:"event_id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	TaskID           uuid.UUID       `json:"task_id"`
	EventType        AuditEventType  `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	ParentTaskID     *uuid.UUID      `json:"parent_task_id,omitempty"`
	RuleID           *uuid.UUID      `json:"rule_id,omitempty"`
	OccurrenceNumber *int            `json:"occurrence_number,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Tag is an entry in an owner's tag registry. Tags outlive the tasks that
// introduced them.
type Tag struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
