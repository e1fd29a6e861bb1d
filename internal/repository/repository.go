package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/domain/recurrence"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/runtime"
	"github.com/phrazzld/cadence-api/internal/store"
)

// ErrNotFound is returned for unknown tasks and for tasks of other owners.
var ErrNotFound = store.ErrNotFound

// ReminderScheduler keeps a task's reminders in step with the task.
type ReminderScheduler interface {
	Schedule(ctx context.Context, task *domain.Task) ([]*domain.Reminder, error)
	Cancel(ctx context.Context, ownerID, taskID uuid.UUID) error
}

// CompletionResult describes what completing a task did.
type CompletionResult struct {
	// Task is the task in its stored state.
	Task *domain.Task `json:"task"`

	// CompletedNow is false when the task was already completed; nothing
	// else happened in that case.
	CompletedNow bool `json:"completed_now"`

	// Outcome is what the recurrence engine decided.
	Outcome recurrence.Outcome `json:"outcome"`

	// Successor is the next occurrence, set when Outcome is created.
	Successor *domain.Task `json:"successor,omitempty"`
}

// Repository is the task lifecycle API.
type Repository interface {
	Create(ctx context.Context, ownerID uuid.UUID, in domain.TaskInput) (*domain.Task, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, patch domain.TaskPatch) (*domain.Task, error)
	Complete(ctx context.Context, ownerID, id uuid.UUID) (*CompletionResult, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	DeleteSeries(ctx context.Context, ownerID, id uuid.UUID) error
	List(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error)
	Search(
		ctx context.Context,
		ownerID uuid.UUID,
		query string,
		filter domain.TaskFilter,
		page domain.Page,
	) ([]*domain.Task, int, error)
	ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error)
	Mode() runtime.Mode
}

// Deps are the collaborators of a Repository.
type Deps struct {
	Backend   store.Backend
	Publisher *events.Publisher
	Reminders ReminderScheduler
	Mode      runtime.Mode

	// Engine defaults to recurrence.NewEngine().
	Engine recurrence.Engine
	Logger *slog.Logger
}

type repositoryImpl struct {
	backend   store.Backend
	publisher *events.Publisher
	reminders ReminderScheduler
	engine    recurrence.Engine
	mode      runtime.Mode
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Repository. It returns an error if a required dependency
// is missing.
func New(deps Deps) (Repository, error) {
	return newRepository(deps)
}

func newRepository(deps Deps) (*repositoryImpl, error) {
	if deps.Backend == nil {
		return nil, domain.NewValidationError("backend", "cannot be nil", domain.ErrValidation)
	}
	if deps.Publisher == nil {
		return nil, domain.NewValidationError("publisher", "cannot be nil", domain.ErrValidation)
	}
	if deps.Reminders == nil {
		return nil, domain.NewValidationError("reminders", "cannot be nil", domain.ErrValidation)
	}
	if deps.Engine == nil {
		deps.Engine = recurrence.NewEngine()
	}
	if deps.Mode == "" {
		deps.Mode = runtime.ModeDistributed
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &repositoryImpl{
		backend:   deps.Backend,
		publisher: deps.Publisher,
		reminders: deps.Reminders,
		engine:    deps.Engine,
		mode:      deps.Mode,
		logger:    deps.Logger.With(slog.String("component", "task_repository")),
		now:       time.Now,
	}, nil
}

// Mode implements Repository.
func (r *repositoryImpl) Mode() runtime.Mode {
	return r.mode
}

// Create implements Repository. When the task is stored but a reminder
// could not be scheduled, the stored task is returned together with an
// error wrapping reminder.ErrSchedulingFailure.
func (r *repositoryImpl) Create(ctx context.Context, ownerID uuid.UUID, in domain.TaskInput) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)
	now := r.now()

	task, err := domain.NewTask(ownerID, in, now)
	if err != nil {
		return nil, err
	}

	var rule *domain.RecurrenceRule
	if in.Recurrence != nil {
		rule, err = domain.NewRecurrenceRule(ownerID, *in.Recurrence, now)
		if err != nil {
			return nil, err
		}
		task.RuleID = &rule.ID
	}

	if err := r.backend.CreateTask(ctx, task, rule); err != nil {
		log.Error("failed to store task", slog.String("error", err.Error()))
		return nil, err
	}

	r.emitTask(ctx, events.TaskCreated, task)
	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.Bool("recurring", rule != nil))

	return task, r.schedule(ctx, task)
}

func (r *repositoryImpl) schedule(ctx context.Context, task *domain.Task) error {
	if _, err := r.reminders.Schedule(ctx, task); err != nil {
		return fmt.Errorf("task %s stored: %w", task.ID, err)
	}
	return nil
}

// Get implements Repository.
func (r *repositoryImpl) Get(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	return r.backend.GetTask(ctx, ownerID, id)
}

// maxUpdateAttempts bounds how often Update re-reads a task that changed
// between its read and its write.
const maxUpdateAttempts = 3

// Update implements Repository. A patch that marks an open task completed
// is applied through Complete so the series advances. The write is
// rejected when the task changed after it was read, and the patch is then
// re-applied to the fresh state.
func (r *repositoryImpl) Update(
	ctx context.Context,
	ownerID, id uuid.UUID,
	patch domain.TaskPatch,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, r.logger).With(slog.String("task_id", id.String()))

	for attempt := 1; ; attempt++ {
		task, done, err := r.tryUpdate(ctx, ownerID, id, patch)
		if done || err == nil {
			return task, err
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxUpdateAttempts {
			return nil, err
		}
		log.Debug("task changed during update, retrying", slog.Int("attempt", attempt))
	}
}

// tryUpdate runs one read-patch-write cycle. done reports that err, if
// any, must not be retried.
func (r *repositoryImpl) tryUpdate(
	ctx context.Context,
	ownerID, id uuid.UUID,
	patch domain.TaskPatch,
) (*domain.Task, bool, error) {
	task, err := r.backend.GetTask(ctx, ownerID, id)
	if err != nil {
		return nil, true, err
	}

	completing := patch.Completed != nil && *patch.Completed && !task.Completed
	if completing {
		patch.Completed = nil
		if !hasFieldChanges(patch) {
			task, err := r.completeTask(ctx, ownerID, id)
			return task, true, err
		}
	}

	before := task.Clone()
	if err := task.Apply(patch, r.now()); err != nil {
		return nil, true, err
	}

	if err := r.backend.UpdateTask(ctx, task, before.Version()); err != nil {
		return nil, false, err
	}
	r.emitTask(ctx, events.TaskUpdated, task)

	if completing {
		task, err := r.completeTask(ctx, ownerID, id)
		return task, true, err
	}

	if remindersChanged(before, task) {
		return task, true, r.schedule(ctx, task)
	}
	return task, true, nil
}

func (r *repositoryImpl) completeTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	res, err := r.Complete(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return res.Task, nil
}

func hasFieldChanges(p domain.TaskPatch) bool {
	return p.Title != nil || p.Description != nil || p.Priority != nil || p.DueDate != nil ||
		p.ClearDueDate || p.Tags != nil || p.ReminderOffsets != nil
}

func remindersChanged(before, after *domain.Task) bool {
	if before.Completed != after.Completed {
		return true
	}
	if (before.DueDate == nil) != (after.DueDate == nil) {
		return true
	}
	if before.DueDate != nil && !before.DueDate.Equal(*after.DueDate) {
		return true
	}
	return !slices.Equal(before.ReminderOffsets, after.ReminderOffsets)
}

// Complete implements Repository. The recurrence decision is made inside
// the backend's completion write, so concurrent completions of the same
// occurrence produce one successor. An occurrence that was reopened after
// advancing its series completes with outcome none. Recurrence problems are published and
// audited but never fail the completion.
func (r *repositoryImpl) Complete(ctx context.Context, ownerID, id uuid.UUID) (*CompletionResult, error) {
	log := logger.FromContextOrDefault(ctx, r.logger).With(slog.String("task_id", id.String()))
	now := r.now()

	decision := recurrence.Decision{Outcome: recurrence.OutcomeNone}
	decide := func(completed *domain.Task, rule *domain.RecurrenceRule) store.CompletionPlan {
		decision = r.engine.Decide(completed, rule, now)
		return store.CompletionPlan{Successor: decision.Successor, Rule: decision.Rule}
	}

	task, completedNow, err := r.backend.CompleteTask(ctx, ownerID, id, now, decide)
	if err != nil {
		if task == nil || !completedNow {
			return nil, err
		}
		log.Error("task completed but its series could not advance", slog.String("error", err.Error()))
		decision = recurrence.Decision{
			Outcome: recurrence.OutcomeError,
			Err:     fmt.Errorf("%w: %w", recurrence.ErrRecurrence, err),
		}
	}

	result := &CompletionResult{Task: task, CompletedNow: completedNow, Outcome: recurrence.OutcomeNone}
	if !completedNow {
		return result, nil
	}
	result.Outcome = decision.Outcome

	r.emitTask(ctx, events.TaskCompleted, task)
	if err := r.reminders.Cancel(ctx, ownerID, id); err != nil {
		log.Warn("failed to cancel reminders of completed task", slog.String("error", err.Error()))
	}

	switch decision.Outcome {
	case recurrence.OutcomeCreated:
		result.Successor = decision.Successor
		r.emitRecurrence(ctx, events.InstanceCreated, decision.Successor, task, decision)
		if err := r.schedule(ctx, decision.Successor); err != nil {
			log.Warn("failed to schedule reminders for next occurrence", slog.String("error", err.Error()))
		}
		log.Info("next occurrence created",
			slog.String("successor_id", decision.Successor.ID.String()),
			slog.Int("occurrence", decision.Occurrence))
	case recurrence.OutcomeEnded:
		r.emitRecurrence(ctx, events.RecurrenceEnded, task, task, decision)
		log.Info("series ended", slog.Int("occurrences", decision.Occurrence))
	case recurrence.OutcomeError:
		r.emitRecurrence(ctx, events.RecurrenceError, task, task, decision)
		log.Warn("recurrence failed", slog.String("error", decision.Err.Error()))
	}
	return result, nil
}

// Delete implements Repository. Reminders are cancelled before it returns.
func (r *repositoryImpl) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, r.logger).With(slog.String("task_id", id.String()))

	task, err := r.backend.DeleteTask(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := r.reminders.Cancel(ctx, ownerID, id); err != nil {
		log.Warn("failed to cancel reminders of deleted task", slog.String("error", err.Error()))
	}

	r.emitTask(ctx, events.TaskDeleted, task)
	log.Info("task deleted")
	return nil
}

// DeleteSeries implements Repository. It deactivates the task's rule, then
// deletes the task and every open occurrence of the series. A task without
// a rule is deleted alone.
func (r *repositoryImpl) DeleteSeries(ctx context.Context, ownerID, id uuid.UUID) error {
	task, err := r.backend.GetTask(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if task.RuleID == nil {
		return r.Delete(ctx, ownerID, id)
	}

	rule, err := r.backend.GetRule(ctx, ownerID, *task.RuleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if rule != nil && rule.Active {
		rule.Active = false
		rule.UpdatedAt = r.now().UTC()
		if err := r.backend.UpdateRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to deactivate rule: %w", err)
		}
	}

	open := false
	occurrences, err := r.backend.ListTasks(ctx, ownerID, domain.TaskFilter{RuleID: task.RuleID, Completed: &open})
	if err != nil {
		return err
	}
	ids := []uuid.UUID{task.ID}
	for _, t := range occurrences {
		if t.ID != task.ID {
			ids = append(ids, t.ID)
		}
	}

	for _, occurrenceID := range ids {
		if err := r.Delete(ctx, ownerID, occurrenceID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// List implements Repository.
func (r *repositoryImpl) List(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error) {
	return r.backend.ListTasks(ctx, ownerID, filter)
}

// Search implements Repository.
func (r *repositoryImpl) Search(
	ctx context.Context,
	ownerID uuid.UUID,
	query string,
	filter domain.TaskFilter,
	page domain.Page,
) ([]*domain.Task, int, error) {
	query = strings.TrimSpace(query)
	if len(query) > domain.MaxTitleLength {
		return nil, 0, domain.NewValidationError("q", "is too long", domain.ErrValidation)
	}
	return r.backend.SearchTasks(ctx, ownerID, query, filter, page.Normalize())
}

// ListTags implements Repository.
func (r *repositoryImpl) ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error) {
	return r.backend.ListTags(ctx, ownerID)
}
