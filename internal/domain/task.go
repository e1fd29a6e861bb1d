package domain

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Priority ranks a task.
type Priority string

// Possible priority values
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Field limits enforced before any write reaches storage.
const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 2000
	MaxTagLength         = 50
	MaxTags              = 20
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a user-owned unit of work. Occurrences generated by a recurrence
// rule point back at the task they were generated from via ParentTaskID.
type Task struct {
	ID              uuid.UUID    `json:"id"`
	OwnerID         uuid.UUID    `json:"owner_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Completed       bool         `json:"completed"`
	Priority        Priority     `json:"priority"`
	DueDate         *time.Time   `json:"due_date,omitempty"`
	Tags            []string     `json:"tags"`
	RuleID          *uuid.UUID   `json:"rule_id,omitempty"`
	ParentTaskID    *uuid.UUID   `json:"parent_task_id,omitempty"`
	ReminderOffsets []OffsetType `json:"reminder_offsets,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	// SeriesAdvanced is set by the first completion of an occurrence that
	// belongs to a series. Later completions, after a reopen, leave the
	// series alone.
	SeriesAdvanced bool `json:"series_advanced,omitempty"`
}

// TaskVersion identifies the stored state a read-modify-write started
// from. Completion changes both fields.
type TaskVersion struct {
	UpdatedAt time.Time
	Completed bool
}

// Matches reports whether v and o name the same stored state.
func (v TaskVersion) Matches(o TaskVersion) bool {
	return v.Completed == o.Completed && v.UpdatedAt.Equal(o.UpdatedAt)
}

// TaskInput carries the caller-controlled fields of a new task.
type TaskInput struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Priority        Priority         `json:"priority"`
	DueDate         *time.Time       `json:"due_date"`
	Tags            []string         `json:"tags"`
	ReminderOffsets []OffsetType     `json:"reminder_offsets"`
	Recurrence      *RecurrenceInput `json:"recurrence"`
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title           *string       `json:"title"`
	Description     *string       `json:"description"`
	Priority        *Priority     `json:"priority"`
	DueDate         *time.Time    `json:"due_date"`
	ClearDueDate    bool          `json:"clear_due_date"`
	Tags            *[]string     `json:"tags"`
	ReminderOffsets *[]OffsetType `json:"reminder_offsets"`
	Completed       *bool         `json:"completed"`
}

// NewTask builds a validated task owned by ownerID. The recurrence part of
// the input is handled separately by the repository.
func NewTask(ownerID uuid.UUID, in TaskInput, now time.Time) (*Task, error) {
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	offsets, err := NormalizeOffsets(in.ReminderOffsets)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	t := &Task{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Priority:        priority,
		DueDate:         utcPtr(in.DueDate),
		Tags:            tags,
		ReminderOffsets: offsets,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if t.OwnerID == uuid.Nil {
		return NewValidationError("owner_id", "cannot be empty", ErrInvalidID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title", "cannot be empty")
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return invalid("title", "must be at most %d characters", MaxTitleLength)
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLength {
		return invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	if !t.Priority.Valid() {
		return invalid("priority", "must be one of low, medium, high")
	}
	if len(t.Tags) > MaxTags {
		return invalid("tags", "must contain at most %d entries", MaxTags)
	}
	for _, o := range t.ReminderOffsets {
		if !o.Valid() {
			return invalid("reminder_offsets", "unknown offset %q", o)
		}
	}
	return nil
}

// Apply merges patch into t. Completion is not applied here: flipping the
// completed flag goes through the repository completion path. Reopening
// keeps SeriesAdvanced.
func (t *Task) Apply(p TaskPatch, now time.Time) error {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		t.DueDate = utcPtr(p.DueDate)
	}
	if p.Tags != nil {
		tags, err := NormalizeTags(*p.Tags)
		if err != nil {
			return err
		}
		t.Tags = tags
	}
	if p.ReminderOffsets != nil {
		offsets, err := NormalizeOffsets(*p.ReminderOffsets)
		if err != nil {
			return err
		}
		t.ReminderOffsets = offsets
	}
	if p.Completed != nil && !*p.Completed && t.Completed {
		t.Completed = false
		t.CompletedAt = nil
	}
	t.UpdatedAt = now.UTC()
	return t.Validate()
}

// Version returns the state t was read in.
func (t *Task) Version() TaskVersion {
	return TaskVersion{UpdatedAt: t.UpdatedAt, Completed: t.Completed}
}

// Complete marks the task as done. It reports whether this completion
// advances the task's series, which is true at most once per occurrence.
func (t *Task) Complete(now time.Time) bool {
	now = now.UTC()
	t.Completed = true
	t.CompletedAt = &now
	t.UpdatedAt = now
	if t.RuleID == nil || t.SeriesAdvanced {
		return false
	}
	t.SeriesAdvanced = true
	return true
}

// Successor clones t into the next open occurrence of its series.
func (t *Task) Successor(due time.Time, now time.Time) *Task {
	now = now.UTC()
	due = due.UTC()
	parent := t.ID
	next := &Task{
		ID:              uuid.New(),
		OwnerID:         t.OwnerID,
		Title:           t.Title,
		Description:     t.Description,
		Priority:        t.Priority,
		DueDate:         &due,
		Tags:            slices.Clone(t.Tags),
		ParentTaskID:    &parent,
		ReminderOffsets: slices.Clone(t.ReminderOffsets),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.RuleID != nil {
		rule := *t.RuleID
		next.RuleID = &rule
	}
	return next
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.ReminderOffsets = slices.Clone(t.ReminderOffsets)
	c.DueDate = utcPtr(t.DueDate)
	c.CompletedAt = utcPtr(t.CompletedAt)
	if t.RuleID != nil {
		id := *t.RuleID
		c.RuleID = &id
	}
	if t.ParentTaskID != nil {
		id := *t.ParentTaskID
		c.ParentTaskID = &id
	}
	return &c
}

// NormalizeQuery lower-cases s and collapses its whitespace runs to single
// spaces. Search text and queries are compared in this form.
func NormalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, invalid("tags", "tag %q exceeds %d characters", tag, MaxTagLength)
		}
		out = append(out, tag)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > MaxTags {
		return nil, invalid("tags", "must contain at most %d entries", MaxTags)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
