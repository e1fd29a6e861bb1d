package api

import (
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
)

// RecurrenceRequest describes the rule a new task repeats under.
type RecurrenceRequest struct {
	Frequency     string     `json:"frequency"      validate:"required,oneof=daily weekly monthly yearly"`
	Interval      int        `json:"interval"       validate:"omitempty,min=1"`
	EndDate       *time.Time `json:"end_date"`
	OccurrenceCap *int       `json:"occurrence_cap" validate:"omitempty,min=1"`
}

// CreateTaskRequest is the payload for POST /api/tasks.
type CreateTaskRequest struct {
	Title           string             `json:"title"            validate:"required,max=500"`
	Description     string             `json:"description"      validate:"max=2000"`
	Priority        string             `json:"priority"         validate:"omitempty,oneof=low medium high"`
	DueDate         *time.Time         `json:"due_date"`
	Tags            []string           `json:"tags"             validate:"max=20,dive,required,max=50"`
	ReminderOffsets []string           `json:"reminder_offsets" validate:"dive,oneof=at_due 5m 15m 30m 1h 1d 1w"`
	Recurrence      *RecurrenceRequest `json:"recurrence"       validate:"omitempty"`
}

func (req *CreateTaskRequest) toInput() domain.TaskInput {
	in := domain.TaskInput{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        domain.Priority(req.Priority),
		DueDate:         req.DueDate,
		Tags:            req.Tags,
		ReminderOffsets: toOffsets(req.ReminderOffsets),
	}
	if req.Recurrence != nil {
		in.Recurrence = &domain.RecurrenceInput{
			Frequency:     domain.Frequency(req.Recurrence.Frequency),
			Interval:      req.Recurrence.Interval,
			EndDate:       req.Recurrence.EndDate,
			OccurrenceCap: req.Recurrence.OccurrenceCap,
		}
	}
	return in
}

// UpdateTaskRequest is the payload for PUT /api/tasks/{id}. Absent fields
// are left unchanged.
type UpdateTaskRequest struct {
	Title           *string    `json:"title"            validate:"omitempty,min=1,max=500"`
	Description     *string    `json:"description"      validate:"omitempty,max=2000"`
	Priority        *string    `json:"priority"         validate:"omitempty,oneof=low medium high"`
	DueDate         *time.Time `json:"due_date"`
	ClearDueDate    bool       `json:"clear_due_date"`
	Tags            *[]string  `json:"tags"             validate:"omitempty,max=20,dive,required,max=50"`
	ReminderOffsets *[]string  `json:"reminder_offsets" validate:"omitempty,dive,oneof=at_due 5m 15m 30m 1h 1d 1w"`
	Completed       *bool      `json:"completed"`
}

func (req *UpdateTaskRequest) toPatch() domain.TaskPatch {
	patch := domain.TaskPatch{
		Title:        req.Title,
		Description:  req.Description,
		DueDate:      req.DueDate,
		ClearDueDate: req.ClearDueDate,
		Tags:         req.Tags,
		Completed:    req.Completed,
	}
	if req.Priority != nil {
		p := domain.Priority(*req.Priority)
		patch.Priority = &p
	}
	if req.ReminderOffsets != nil {
		offsets := toOffsets(*req.ReminderOffsets)
		if offsets == nil {
			offsets = []domain.OffsetType{}
		}
		patch.ReminderOffsets = &offsets
	}
	return patch
}

func toOffsets(raw []string) []domain.OffsetType {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.OffsetType, len(raw))
	for i, o := range raw {
		out[i] = domain.OffsetType(o)
	}
	return out
}

// TaskResponse wraps a task. Warning is set when the task was stored but
// its reminders could not be scheduled.
type TaskResponse struct {
	*domain.Task
	Warning string `json:"warning,omitempty"`
}

// CompleteTaskResponse reports a completion and the successor it produced.
type CompleteTaskResponse struct {
	Task         *domain.Task `json:"task"`
	CompletedNow bool         `json:"completed_now"`
	Outcome      string       `json:"outcome"`
	Successor    *domain.Task `json:"successor,omitempty"`
}

// TaskListResponse is a page of tasks.
type TaskListResponse struct {
	Tasks  []*domain.Task `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TagListResponse lists an owner's distinct tags.
type TagListResponse struct {
	Tags []domain.Tag `json:"tags"`
}

// StatusResponse is the body of GET /api/system/status.
type StatusResponse struct {
	Mode        string    `json:"mode"`
	Connections int64     `json:"connections"`
	StartedAt   time.Time `json:"started_at"`
}

// ReprobeResponse is the body of POST /api/system/reprobe.
type ReprobeResponse struct {
	Reachable bool   `json:"reachable"`
	Switched  bool   `json:"switched"`
	Mode      string `json:"mode"`
	Error     string `json:"error,omitempty"`
}
