package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/store"
)

// maxCASAttempts bounds compare-and-set retries on a contended key.
const maxCASAttempts = 3

// Backend implements store.Backend over a State.
type Backend struct {
	state  State
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Backend. It panics if state is nil.
func New(state State, log *slog.Logger) *Backend {
	if state == nil {
		panic("state cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		state:  state,
		logger: log.With(slog.String("component", "kv_backend")),
		now:    time.Now,
	}
}

var _ store.Backend = (*Backend)(nil)

// Name implements store.Backend.
func (b *Backend) Name() string { return "nats-kv" }

// Close implements store.Backend. The State's connection is owned elsewhere.
func (b *Backend) Close() error { return nil }

func (b *Backend) load(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := b.state.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, store.NewStoreError(entityOf(key), "decode", key, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}
	return rev, nil
}

func (b *Backend) save(ctx context.Context, key string, v any, etag uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.state.Save(ctx, key, data, etag)
}

func (b *Backend) create(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = b.state.Create(ctx, key, data)
	return err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}

// CreateTask implements store.TaskStore.
func (b *Backend) CreateTask(ctx context.Context, task *domain.Task, rule *domain.RecurrenceRule) error {
	log := logger.FromContextOrDefault(ctx, b.logger)

	if rule != nil {
		if err := b.create(ctx, ruleKey(rule.OwnerID, rule.ID), rule); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("rule %s: %w", rule.ID, store.ErrDuplicate)
			}
			return fmt.Errorf("failed to create rule: %w", err)
		}
	}

	if err := b.create(ctx, taskKey(task.OwnerID, task.ID), task); err != nil {
		if rule != nil {
			if delErr := b.state.Delete(ctx, ruleKey(rule.OwnerID, rule.ID), 0); delErr != nil {
				log.Error("failed to remove rule after task create failed",
					slog.String("rule_id", rule.ID.String()),
					slog.String("error", delErr.Error()))
			}
		}
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("task %s: %w", task.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	b.registerTags(ctx, task.OwnerID, task.Tags)

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("owner_id", task.OwnerID.String()))
	return nil
}

func (b *Backend) registerTags(ctx context.Context, owner uuid.UUID, tags []string) {
	now := b.now().UTC()
	for _, name := range tags {
		err := b.create(ctx, tagKey(owner, name), domain.Tag{OwnerID: owner, Name: name, CreatedAt: now})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			logger.FromContextOrDefault(ctx, b.logger).Warn("failed to register tag",
				slog.String("tag", name),
				slog.String("error", err.Error()))
		}
	}
}

// GetTask implements store.TaskStore.
func (b *Backend) GetTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	var task domain.Task
	if _, err := b.load(ctx, taskKey(ownerID, id), &task); err != nil {
		return nil, notFound(err, store.ErrTaskNotFound)
	}
	return &task, nil
}

// UpdateTask implements store.TaskStore. The series marker is kept from
// the stored task.
func (b *Backend) UpdateTask(ctx context.Context, task *domain.Task, expected domain.TaskVersion) error {
	key := taskKey(task.OwnerID, task.ID)
	var current domain.Task
	rev, err := b.load(ctx, key, &current)
	if err != nil {
		return notFound(err, store.ErrTaskNotFound)
	}
	if !current.Version().Matches(expected) {
		return fmt.Errorf("task %s: %w", task.ID, store.ErrConflict)
	}

	next := task.Clone()
	next.SeriesAdvanced = current.SeriesAdvanced
	if _, err := b.save(ctx, key, next, rev); err != nil {
		return notFound(err, store.ErrTaskNotFound)
	}
	b.registerTags(ctx, task.OwnerID, task.Tags)
	return nil
}

// CompleteTask implements store.TaskStore.
func (b *Backend) CompleteTask(
	ctx context.Context,
	ownerID, id uuid.UUID,
	now time.Time,
	decide store.CompletionFunc,
) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, b.logger)
	key := taskKey(ownerID, id)

	var (
		task    domain.Task
		advance bool
	)
	for attempt := 1; ; attempt++ {
		task = domain.Task{}
		rev, err := b.load(ctx, key, &task)
		if err != nil {
			return nil, false, notFound(err, store.ErrTaskNotFound)
		}
		if task.Completed {
			return &task, false, nil
		}

		advance = task.Complete(now)
		if _, err = b.save(ctx, key, &task, rev); err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCASAttempts {
			return nil, false, notFound(err, store.ErrTaskNotFound)
		}
	}

	if task.RuleID == nil {
		decide(task.Clone(), nil)
		return &task, true, nil
	}
	if !advance {
		log.Debug("occurrence already advanced its series", slog.String("task_id", task.ID.String()))
		return &task, true, nil
	}

	plan, err := b.advanceRule(ctx, &task, decide)
	if err != nil {
		return &task, true, err
	}

	if plan.Successor != nil {
		if err := b.create(ctx, taskKey(plan.Successor.OwnerID, plan.Successor.ID), plan.Successor); err != nil {
			log.Error("failed to store successor after rule advanced",
				slog.String("task_id", task.ID.String()),
				slog.String("successor_id", plan.Successor.ID.String()),
				slog.String("error", err.Error()))
			return &task, true, fmt.Errorf("failed to create successor: %w", err)
		}
		b.registerTags(ctx, plan.Successor.OwnerID, plan.Successor.Tags)
	}
	return &task, true, nil
}

// advanceRule runs decide against the current rule and writes the rule
// back by compare-and-set, re-deciding when another writer got there first.
func (b *Backend) advanceRule(ctx context.Context, task *domain.Task, decide store.CompletionFunc) (store.CompletionPlan, error) {
	key := ruleKey(task.OwnerID, *task.RuleID)
	for attempt := 1; ; attempt++ {
		var rule domain.RecurrenceRule
		rev, err := b.load(ctx, key, &rule)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decide(task.Clone(), nil), nil
			}
			return store.CompletionPlan{}, err
		}

		plan := decide(task.Clone(), rule.Clone())
		if plan.Rule == nil {
			return plan, nil
		}
		if _, err = b.save(ctx, key, plan.Rule, rev); err == nil {
			return plan, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCASAttempts {
			return store.CompletionPlan{}, fmt.Errorf("failed to advance rule %s: %w", rule.ID, err)
		}
	}
}

// DeleteTask implements store.TaskStore.
func (b *Backend) DeleteTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	key := taskKey(ownerID, id)
	for attempt := 1; ; attempt++ {
		var task domain.Task
		rev, err := b.load(ctx, key, &task)
		if err != nil {
			return nil, notFound(err, store.ErrTaskNotFound)
		}
		err = b.state.Delete(ctx, key, rev)
		if err == nil {
			return &task, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCASAttempts {
			return nil, err
		}
	}
}

// ListTasks implements store.TaskStore.
func (b *Backend) ListTasks(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error) {
	keys, err := b.state.Keys(ctx, taskPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(keys))
	for _, key := range keys {
		var task domain.Task
		if _, err := b.load(ctx, key, &task); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if filter.Matches(&task) {
			tasks = append(tasks, &task)
		}
	}
	domain.SortTasks(tasks)
	return tasks, nil
}

// GetRule implements store.TaskStore.
func (b *Backend) GetRule(ctx context.Context, ownerID, id uuid.UUID) (*domain.RecurrenceRule, error) {
	var rule domain.RecurrenceRule
	if _, err := b.load(ctx, ruleKey(ownerID, id), &rule); err != nil {
		return nil, notFound(err, store.ErrRuleNotFound)
	}
	return &rule, nil
}

// UpdateRule implements store.TaskStore.
func (b *Backend) UpdateRule(ctx context.Context, rule *domain.RecurrenceRule) error {
	key := ruleKey(rule.OwnerID, rule.ID)
	if _, _, err := b.state.Get(ctx, key); err != nil {
		return notFound(err, store.ErrRuleNotFound)
	}
	_, err := b.save(ctx, key, rule, 0)
	return err
}

// ListTags implements store.TaskStore.
func (b *Backend) ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error) {
	keys, err := b.state.Keys(ctx, tagPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	tags := make([]domain.Tag, 0, len(keys))
	for _, key := range keys {
		var tag domain.Tag
		if _, err := b.load(ctx, key, &tag); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		tags = append(tags, tag)
	}
	sortTags(tags)
	return tags, nil
}
