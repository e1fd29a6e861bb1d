package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/jobs"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/store"
)

// ErrSchedulingFailure is returned when a reminder job could not be
// created. The reminder is left in status failed.
var ErrSchedulingFailure = errors.New("reminder scheduling failed")

// Store is the storage the scheduler needs.
type Store interface {
	store.ReminderStore
	GetTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error)
}

// Ref identifies the reminder a job fires. It is the job payload.
type Ref struct {
	ReminderID uuid.UUID         `json:"reminder_id"`
	OwnerID    uuid.UUID         `json:"owner_id"`
	TaskID     uuid.UUID         `json:"task_id"`
	OffsetType domain.OffsetType `json:"offset_type"`
}

func refOf(r *domain.Reminder) Ref {
	return Ref{ReminderID: r.ID, OwnerID: r.OwnerID, TaskID: r.TaskID, OffsetType: r.OffsetType}
}

// Scheduler owns the reminder lifecycle.
type Scheduler struct {
	store     Store
	runner    *jobs.Runner
	publisher *events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler whose jobs live in jobStore. Jobs do not
// fire until Start is called.
func NewScheduler(
	st Store,
	jobStore jobs.Store,
	publisher *events.Publisher,
	config jobs.RunnerConfig,
	logger *slog.Logger,
) (*Scheduler, error) {
	if st == nil {
		return nil, domain.NewValidationError("store", "cannot be nil", domain.ErrValidation)
	}
	if jobStore == nil {
		return nil, domain.NewValidationError("jobStore", "cannot be nil", domain.ErrValidation)
	}
	if publisher == nil {
		return nil, domain.NewValidationError("publisher", "cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		store:     st,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "reminder_scheduler")),
		now:       time.Now,
	}
	s.runner = jobs.NewRunner(jobStore, s, config, logger)
	return s, nil
}

// Start begins firing due jobs.
func (s *Scheduler) Start() error {
	return s.runner.Start()
}

// Stop stops firing jobs and waits for running handlers.
func (s *Scheduler) Stop() {
	s.runner.Stop()
}

// Schedule brings the task's reminders in line with its due date and
// offsets. Each configured offset gets a fresh pending reminder and job;
// the previous job for the same offset is cancelled first. Pending
// reminders whose offset was removed, or of a task that no longer has a due
// date or is completed, are cancelled. Fire times in the past fire as soon
// as possible.
func (s *Scheduler) Schedule(ctx context.Context, task *domain.Task) ([]*domain.Reminder, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("task_id", task.ID.String()))

	existing, err := s.store.ListReminders(ctx, task.OwnerID, task.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load reminders: %w", ErrSchedulingFailure, err)
	}

	// at_due has no lead time and is kept on the task without a reminder.
	wanted := make(map[domain.OffsetType]bool, len(task.ReminderOffsets))
	if task.DueDate != nil && !task.Completed {
		for _, o := range task.ReminderOffsets {
			if o.Duration() > 0 {
				wanted[o] = true
			}
		}
	}

	for _, r := range existing {
		if r.Status != domain.ReminderPending {
			continue
		}
		// A still-wanted offset is replaced below; its job is cancelled
		// there and the stale reminder is overwritten.
		if wanted[r.OffsetType] {
			if err := s.runner.Cancel(ctx, r.JobHandle); err != nil {
				log.Warn("failed to cancel prior reminder job",
					slog.String("reminder_id", r.ID.String()),
					slog.String("error", err.Error()))
			}
			continue
		}
		if err := s.cancelReminder(ctx, r); err != nil {
			log.Warn("failed to cancel reminder", slog.String("error", err.Error()))
		}
	}

	now := s.now()
	var (
		scheduled []*domain.Reminder
		errs      []error
	)
	for _, offset := range task.ReminderOffsets {
		if !wanted[offset] {
			continue
		}
		r, err := domain.NewReminder(task, offset, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.JobHandle = r.ID.String()

		if err := s.store.SaveReminder(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %s reminder: %w", offset, err))
			continue
		}
		if _, err := s.runner.Schedule(ctx, r.JobHandle, r.FireAt, refOf(r)); err != nil {
			if _, tErr := s.store.TransitionReminder(ctx, r, domain.ReminderPending, domain.ReminderFailed); tErr != nil {
				log.Error("failed to mark unscheduled reminder failed",
					slog.String("reminder_id", r.ID.String()),
					slog.String("error", tErr.Error()))
			}
			errs = append(errs, fmt.Errorf("failed to schedule %s reminder: %w", offset, err))
			continue
		}

		log.Debug("reminder scheduled",
			slog.String("reminder_id", r.ID.String()),
			slog.String("offset_type", string(offset)),
			slog.Time("fire_at", r.FireAt),
			slog.Bool("overdue", !r.FireAt.After(now)))
		scheduled = append(scheduled, r)
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrSchedulingFailure, errors.Join(errs...))
		log.Error("reminder scheduling failed", slog.String("error", err.Error()))
		return scheduled, err
	}
	return scheduled, nil
}

// Cancel cancels every pending reminder of the task and revokes its job.
func (s *Scheduler) Cancel(ctx context.Context, ownerID, taskID uuid.UUID) error {
	reminders, err := s.store.ListReminders(ctx, ownerID, taskID)
	if err != nil {
		return fmt.Errorf("failed to load reminders: %w", err)
	}

	var errs []error
	for _, r := range reminders {
		if r.Status != domain.ReminderPending {
			continue
		}
		if err := s.cancelReminder(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) cancelReminder(ctx context.Context, r *domain.Reminder) error {
	if err := s.runner.Cancel(ctx, r.JobHandle); err != nil {
		return err
	}
	won, err := s.store.TransitionReminder(ctx, r, domain.ReminderPending, domain.ReminderCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel reminder %s: %w", r.ID, err)
	}
	if won {
		s.emitStatus(ctx, events.ReminderCancelled, r, "")
	}
	return nil
}

// HandleJob implements jobs.Handler.
func (s *Scheduler) HandleJob(ctx context.Context, job *jobs.Job) error {
	var ref Ref
	if err := json.Unmarshal(job.Payload, &ref); err != nil {
		return fmt.Errorf("invalid reminder job %s: %w", job.Handle, err)
	}
	return s.Fire(ctx, ref)
}

// Fire delivers the reminder ref points at. A reminder that was replaced
// or already left pending is ignored. A reminder whose task was deleted or
// completed is cancelled without notifying. Otherwise the reminder is
// claimed by moving it to sent and the notification is published; a
// failed publish moves it on to failed and is not retried.
func (s *Scheduler) Fire(ctx context.Context, ref Ref) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("reminder_id", ref.ReminderID.String()),
		slog.String("task_id", ref.TaskID.String()))

	r, err := s.store.GetReminder(ctx, ref.OwnerID, ref.TaskID, ref.OffsetType)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Debug("fired reminder no longer exists")
			return nil
		}
		return fmt.Errorf("failed to load reminder: %w", err)
	}
	if r.ID != ref.ReminderID || r.Status != domain.ReminderPending {
		log.Debug("ignoring stale reminder job", slog.String("status", string(r.Status)))
		return nil
	}

	task, err := s.store.GetTask(ctx, ref.OwnerID, ref.TaskID)
	if err != nil && !store.IsNotFoundError(err) {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil || task.Completed {
		won, err := s.store.TransitionReminder(ctx, r, domain.ReminderPending, domain.ReminderCancelled)
		if err != nil {
			return fmt.Errorf("failed to cancel stale reminder: %w", err)
		}
		if won {
			log.Info("cancelled reminder of a deleted or completed task")
			s.emitStatus(ctx, events.ReminderCancelled, r, "task deleted or completed before reminder fired")
		}
		return nil
	}

	won, err := s.store.TransitionReminder(ctx, r, domain.ReminderPending, domain.ReminderSent)
	if err != nil {
		return fmt.Errorf("failed to claim reminder: %w", err)
	}
	if !won {
		log.Debug("reminder already claimed by another firing")
		return nil
	}

	notification := NewNotification(task, r, s.now())
	event := s.publisher.Build(events.TopicNotifications, events.ReminderFired, task.OwnerID, task.ID, notification)
	pubErr := errors.New("failed to encode notification")
	if event != nil {
		pubErr = s.publisher.Publish(ctx, event)
	}
	if pubErr != nil {
		if _, err := s.store.TransitionReminder(ctx, r, domain.ReminderSent, domain.ReminderFailed); err != nil {
			log.Error("failed to mark reminder failed", slog.String("error", err.Error()))
		}
		s.emitStatus(ctx, events.ReminderFailed, r, pubErr.Error())
		return fmt.Errorf("reminder %s not delivered: %w", r.ID, pubErr)
	}

	log.Info("reminder sent", slog.String("offset_type", string(r.OffsetType)))
	s.emitStatus(ctx, events.ReminderSent, r, "")
	return nil
}

type statusPayload struct {
	ReminderID uuid.UUID             `json:"reminder_id"`
	OffsetType domain.OffsetType     `json:"offset_type"`
	FireAt     time.Time             `json:"fire_at"`
	Status     domain.ReminderStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
}

func (s *Scheduler) emitStatus(ctx context.Context, t events.Type, r *domain.Reminder, reason string) {
	s.publisher.Emit(ctx, s.publisher.Build(events.TopicReminders, t, r.OwnerID, r.TaskID, statusPayload{
		ReminderID: r.ID,
		OffsetType: r.OffsetType,
		FireAt:     r.FireAt,
		Status:     r.Status,
		Reason:     reason,
	}))
}

// Recover re-registers a job for every pending reminder. It is used when
// the job store does not survive restarts. It returns how many jobs were
// registered.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending reminders: %w", err)
	}

	var errs []error
	n := 0
	for _, r := range pending {
		handle := r.JobHandle
		if handle == "" {
			handle = r.ID.String()
		}
		if _, err := s.runner.Schedule(ctx, handle, r.FireAt, refOf(r)); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}

	s.logger.InfoContext(ctx, "recovered pending reminders",
		slog.Int("recovered", n),
		slog.Int("pending", len(pending)))
	if len(errs) > 0 {
		return n, fmt.Errorf("%w: %w", ErrSchedulingFailure, errors.Join(errs...))
	}
	return n, nil
}

// Sweep fires every due job now and returns how many were dispatched.
func (s *Scheduler) Sweep(ctx context.Context) int {
	return s.runner.Sweep(ctx)
}
