package reminder

import (
	"fmt"
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
)

var offsetPhrases = map[domain.OffsetType]string{
	domain.OffsetAtDue:     "now",
	domain.Offset5Minutes:  "in 5 minutes",
	domain.Offset15Minutes: "in 15 minutes",
	domain.Offset30Minutes: "in 30 minutes",
	domain.Offset1Hour:     "in 1 hour",
	domain.Offset1Day:      "in 1 day",
	domain.Offset1Week:     "in 1 week",
}

// NewNotification builds the client-facing event for a fired reminder.
func NewNotification(task *domain.Task, r *domain.Reminder, now time.Time) domain.NotificationEvent {
	phrase, ok := offsetPhrases[r.OffsetType]
	if !ok {
		phrase = "soon"
	}
	return domain.NotificationEvent{
		ReminderID: r.ID,
		TaskID:     task.ID,
		OwnerID:    task.OwnerID,
		Title:      task.Title,
		DueDate:    task.DueDate,
		Priority:   task.Priority,
		OffsetType: r.OffsetType,
		Message:    fmt.Sprintf("%q is due %s", task.Title, phrase),
		Timestamp:  now.UTC(),
	}
}
