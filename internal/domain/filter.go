package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pagination defaults for search.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// TaskFilter narrows list and search results. Zero values match everything.
type TaskFilter struct {
	Completed *bool      `json:"completed,omitempty"`
	Priority  *Priority  `json:"priority,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	DueBefore *time.Time `json:"due_before,omitempty"`
	DueAfter  *time.Time `json:"due_after,omitempty"`
	RuleID    *uuid.UUID `json:"rule_id,omitempty"`
}

// Matches reports whether t satisfies every set criterion. Tag criteria
// require the task to carry all listed tags.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.RuleID != nil && (t.RuleID == nil || *t.RuleID != *f.RuleID) {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.DueAfter != nil && (t.DueDate == nil || !t.DueDate.After(*f.DueAfter)) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(t.Tags, strings.ToLower(strings.TrimSpace(tag))) {
			return false
		}
	}
	return true
}

// Page selects a window of search results.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SortTasks orders tasks by due date with undated tasks last, then by
// creation time. Both backends return results in this order.
func SortTasks(tasks []*Task) {
	slices.SortStableFunc(tasks, func(a, b *Task) int {
		switch {
		case a.DueDate != nil && b.DueDate != nil:
			if c := a.DueDate.Compare(*b.DueDate); c != 0 {
				return c
			}
		case a.DueDate != nil:
			return -1
		case b.DueDate != nil:
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}
