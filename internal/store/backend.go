package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
)

// CompletionPlan is what completing a task must persist alongside the
// completion itself.
type CompletionPlan struct {
	// Successor is the next occurrence to insert, or nil.
	Successor *domain.Task

	// Rule is the updated recurrence rule to write back, or nil.
	Rule *domain.RecurrenceRule
}

// CompletionFunc is invoked by CompleteTask after the task has been marked
// completed and before anything is committed. rule is the task's current
// rule, or nil. It may be called more than once when a backend retries a
// lost compare-and-set; only the plan of the committed attempt is applied.
type CompletionFunc func(completed *domain.Task, rule *domain.RecurrenceRule) CompletionPlan

// TaskStore persists tasks, recurrence rules and the per-owner tag registry.
type TaskStore interface {
	// CreateTask stores a new task. When rule is non-nil it is stored in the
	// same write and task.RuleID must reference it. The task's tags are
	// added to the owner's tag registry.
	CreateTask(ctx context.Context, task *domain.Task, rule *domain.RecurrenceRule) error

	// GetTask returns ErrTaskNotFound for unknown ids and for tasks of
	// other owners.
	GetTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error)

	// UpdateTask replaces the mutable fields of an existing task, matched by
	// task.ID and task.OwnerID. It returns ErrConflict when the stored task
	// is no longer in the expected version. SeriesAdvanced is never
	// changed by UpdateTask.
	UpdateTask(ctx context.Context, task *domain.Task, expected domain.TaskVersion) error

	// CompleteTask marks the task completed at now and applies the plan
	// returned by decide in the same logical write. When the task was
	// already completed, decide is not invoked and completedNow is false.
	// decide is also skipped for a reopened occurrence whose first
	// completion already advanced its series.
	CompleteTask(
		ctx context.Context,
		ownerID, id uuid.UUID,
		now time.Time,
		decide CompletionFunc,
	) (task *domain.Task, completedNow bool, err error)

	// DeleteTask removes a task and returns its last stored state.
	DeleteTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error)

	// ListTasks returns the owner's tasks matching filter, ordered by
	// domain.SortTasks.
	ListTasks(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error)

	// SearchTasks matches query case-insensitively against title and
	// description and returns one page plus the total number of matches.
	SearchTasks(
		ctx context.Context,
		ownerID uuid.UUID,
		query string,
		filter domain.TaskFilter,
		page domain.Page,
	) ([]*domain.Task, int, error)

	// GetRule returns ErrRuleNotFound for unknown or foreign rules.
	GetRule(ctx context.Context, ownerID, id uuid.UUID) (*domain.RecurrenceRule, error)

	// UpdateRule writes back a rule's count and active flag.
	UpdateRule(ctx context.Context, rule *domain.RecurrenceRule) error

	// ListTags returns the owner's tag registry sorted by name.
	ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error)
}

// ReminderStore persists reminders. At most one reminder exists per
// (task, offset) pair; saving replaces the previous one.
type ReminderStore interface {
	SaveReminder(ctx context.Context, reminder *domain.Reminder) error

	GetReminder(
		ctx context.Context,
		ownerID, taskID uuid.UUID,
		offset domain.OffsetType,
	) (*domain.Reminder, error)

	ListReminders(ctx context.Context, ownerID, taskID uuid.UUID) ([]*domain.Reminder, error)

	// ListPendingReminders returns every pending reminder across owners.
	// It exists for scheduler recovery at startup.
	ListPendingReminders(ctx context.Context) ([]*domain.Reminder, error)

	// TransitionReminder moves the reminder identified by reminder.ID from
	// status from to status to. It reports false, without error, when the
	// stored reminder is missing, replaced, or no longer in status from.
	TransitionReminder(
		ctx context.Context,
		reminder *domain.Reminder,
		from, to domain.ReminderStatus,
	) (bool, error)
}

// AuditStore appends and reads audit records.
type AuditStore interface {
	// AppendAudit stores rec. A second record with the same EventID
	// returns ErrDuplicate.
	AppendAudit(ctx context.Context, rec *domain.AuditRecord) error

	// ListAudit returns the owner's records created at or after since,
	// oldest first. A zero limit means no limit.
	ListAudit(ctx context.Context, ownerID uuid.UUID, since time.Time, limit int) ([]*domain.AuditRecord, error)
}

// Backend is one physical storage binding.
type Backend interface {
	TaskStore
	ReminderStore
	AuditStore

	// Name identifies the backend in logs and status output.
	Name() string

	// Close releases backend resources.
	Close() error
}
