// Package recurrence computes the next occurrence of a recurring task.
// Decisions are pure: the caller persists the successor and the updated
// rule in the same write that completes the task.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
)

// ErrRecurrence is wrapped by every malformed-rule decision.
var ErrRecurrence = errors.New("recurrence error")

// Outcome classifies a completion decision.
type Outcome string

// Possible outcomes
const (
	// OutcomeNone means the task is not part of an active series.
	OutcomeNone Outcome = "none"
	// OutcomeCreated means a successor occurrence must be stored.
	OutcomeCreated Outcome = "created"
	// OutcomeEnded means the series reached its end date or cap.
	OutcomeEnded Outcome = "ended"
	// OutcomeError means the rule could not produce a later date.
	OutcomeError Outcome = "error"
)

// Decision is the result of completing one occurrence.
type Decision struct {
	Outcome Outcome

	// Successor is set for OutcomeCreated.
	Successor *domain.Task

	// Rule is the updated rule to persist, or nil when it is unchanged.
	Rule *domain.RecurrenceRule

	// NextDue is the computed due date, zero when none was computed.
	NextDue time.Time

	// Occurrence is the occurrence number of the successor, or of the last
	// occurrence when the series ended.
	Occurrence int

	// Err is set for OutcomeError and wraps ErrRecurrence.
	Err error
}

// Engine decides what completing an occurrence does to its series.
type Engine interface {
	Decide(completed *domain.Task, rule *domain.RecurrenceRule, now time.Time) Decision
}

type engine struct{}

// NewEngine returns the standard recurrence engine.
func NewEngine() Engine {
	return engine{}
}

// Decide implements Engine. completed is the task as it was just marked
// done; rule is its current rule or nil.
func (engine) Decide(completed *domain.Task, rule *domain.RecurrenceRule, now time.Time) Decision {
	if completed == nil || rule == nil || !rule.Active {
		return Decision{Outcome: OutcomeNone}
	}

	base := now.UTC()
	if completed.DueDate != nil {
		base = *completed.DueDate
	}

	next := Advance(base, rule.Frequency, rule.Interval)
	if !next.After(base) {
		return Decision{
			Outcome:    OutcomeError,
			Occurrence: rule.OccurrenceCount,
			Err: fmt.Errorf("%w: %s rule with interval %d does not advance past %s",
				ErrRecurrence, rule.Frequency, rule.Interval, base.Format(time.RFC3339)),
		}
	}

	ended := rule.EndDate != nil && next.After(*rule.EndDate)
	if rule.OccurrenceCap != nil && rule.OccurrenceCount+1 > *rule.OccurrenceCap {
		ended = true
	}
	if ended {
		updated := rule.Clone()
		updated.Active = false
		updated.UpdatedAt = now.UTC()
		return Decision{
			Outcome:    OutcomeEnded,
			Rule:       updated,
			NextDue:    next,
			Occurrence: rule.OccurrenceCount,
		}
	}

	updated := rule.Clone()
	updated.OccurrenceCount++
	updated.UpdatedAt = now.UTC()

	return Decision{
		Outcome:    OutcomeCreated,
		Successor:  completed.Successor(next, now),
		Rule:       updated,
		NextDue:    next,
		Occurrence: updated.OccurrenceCount,
	}
}
