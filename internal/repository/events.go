package repository

import (
	"context"
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/domain/recurrence"
	"github.com/phrazzld/cadence-api/internal/events"
)

// recurrencePayload is the payload of events on events.TopicRecurrence.
type recurrencePayload struct {
	Task    *domain.Task       `json:"task"`
	Outcome recurrence.Outcome `json:"outcome"`
	NextDue *time.Time         `json:"next_due,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (r *repositoryImpl) emitTask(ctx context.Context, eventType events.Type, task *domain.Task) {
	r.publisher.Emit(ctx, r.publisher.Build(events.TopicLifecycle, eventType, task.OwnerID, task.ID, task))
}

// emitRecurrence publishes a series event about subject. completed is the
// occurrence whose completion produced the decision.
func (r *repositoryImpl) emitRecurrence(
	ctx context.Context,
	eventType events.Type,
	subject, completed *domain.Task,
	decision recurrence.Decision,
) {
	payload := recurrencePayload{Task: subject, Outcome: decision.Outcome}
	if !decision.NextDue.IsZero() {
		next := decision.NextDue
		payload.NextDue = &next
	}
	if decision.Err != nil {
		payload.Error = decision.Err.Error()
	}

	event := r.publisher.Build(events.TopicRecurrence, eventType, subject.OwnerID, subject.ID, payload)
	if event == nil {
		return
	}
	parent := &completed.ID
	if subject.ID == completed.ID {
		parent = completed.ParentTaskID
	}
	r.publisher.Emit(ctx, event.WithSeries(parent, completed.RuleID, decision.Occurrence))
}
