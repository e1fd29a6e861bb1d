package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/store"
)

// SaveReminder implements store.ReminderStore.
func (b *Backend) SaveReminder(ctx context.Context, reminder *domain.Reminder) error {
	_, err := b.save(ctx, reminderKey(reminder.OwnerID, reminder.TaskID, reminder.OffsetType), reminder, 0)
	if err != nil {
		return fmt.Errorf("failed to save reminder: %w", err)
	}
	return nil
}

// GetReminder implements store.ReminderStore.
func (b *Backend) GetReminder(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
	offset domain.OffsetType,
) (*domain.Reminder, error) {
	var r domain.Reminder
	if _, err := b.load(ctx, reminderKey(ownerID, taskID, offset), &r); err != nil {
		return nil, notFound(err, store.ErrReminderNotFound)
	}
	return &r, nil
}

// ListReminders implements store.ReminderStore.
func (b *Backend) ListReminders(ctx context.Context, ownerID, taskID uuid.UUID) ([]*domain.Reminder, error) {
	return b.listReminders(ctx, reminderTaskPrefix(ownerID, taskID), nil)
}

// ListPendingReminders implements store.ReminderStore.
func (b *Backend) ListPendingReminders(ctx context.Context) ([]*domain.Reminder, error) {
	return b.listReminders(ctx, reminderPrefix, func(r *domain.Reminder) bool {
		return r.Status == domain.ReminderPending
	})
}

func (b *Backend) listReminders(ctx context.Context, prefix string, keep func(*domain.Reminder) bool) ([]*domain.Reminder, error) {
	keys, err := b.state.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	var out []*domain.Reminder
	for _, key := range keys {
		var r domain.Reminder
		if _, err := b.load(ctx, key, &r); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if keep == nil || keep(&r) {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// TransitionReminder implements store.ReminderStore.
func (b *Backend) TransitionReminder(
	ctx context.Context,
	reminder *domain.Reminder,
	from, to domain.ReminderStatus,
) (bool, error) {
	key := reminderKey(reminder.OwnerID, reminder.TaskID, reminder.OffsetType)
	for attempt := 1; ; attempt++ {
		var current domain.Reminder
		rev, err := b.load(ctx, key, &current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if current.ID != reminder.ID || current.Status != from {
			return false, nil
		}

		current.Status = to
		current.UpdatedAt = b.now().UTC()
		if _, err = b.save(ctx, key, &current, rev); err == nil {
			reminder.Status = to
			reminder.UpdatedAt = current.UpdatedAt
			return true, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxCASAttempts {
			if errors.Is(err, store.ErrConflict) {
				return false, nil
			}
			return false, err
		}
	}
}
