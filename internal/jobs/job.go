package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job handle is unknown.
var ErrJobNotFound = errors.New("job not found")

// Job is a single scheduled firing.
type Job struct {
	// Handle identifies the job. Callers choose it so that rescheduling the
	// same handle replaces the previous job.
	Handle string `json:"handle"`

	FireAt    time.Time       `json:"fire_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// Revision is the store's version of the record, used to claim it.
	Revision uint64 `json:"-"`
}

// Due reports whether the job should fire at now.
func (j *Job) Due(now time.Time) bool {
	return !j.FireAt.After(now)
}

// Store persists jobs.
type Store interface {
	// Put creates or replaces the job with job.Handle.
	Put(ctx context.Context, job *Job) error

	// Delete removes the job. Deleting an unknown handle returns ErrJobNotFound.
	Delete(ctx context.Context, handle string) error

	// Due returns the jobs whose fire time is not after now.
	Due(ctx context.Context, now time.Time) ([]*Job, error)

	// Claim removes job if it is still at job.Revision. Exactly one of
	// several concurrent claimers wins.
	Claim(ctx context.Context, job *Job) (bool, error)
}

// Handler executes a claimed job.
type Handler interface {
	HandleJob(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// HandleJob implements Handler.
func (f HandlerFunc) HandleJob(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
