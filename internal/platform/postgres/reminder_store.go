package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/store"
)

const (
	reminderColumns = `id, task_id, owner_id, fire_at, offset_type, status, job_handle, created_at, updated_at`

	upsertReminderQuery = `
		INSERT INTO reminders (` + reminderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, offset_type) DO UPDATE
		SET id = EXCLUDED.id, fire_at = EXCLUDED.fire_at, status = EXCLUDED.status,
			job_handle = EXCLUDED.job_handle, created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`

	selectReminderQuery = `SELECT ` + reminderColumns + ` FROM reminders
		WHERE owner_id = $1 AND task_id = $2 AND offset_type = $3`

	listRemindersQuery = `SELECT ` + reminderColumns + ` FROM reminders
		WHERE owner_id = $1 AND task_id = $2 ORDER BY fire_at, id`

	listPendingRemindersQuery = `SELECT ` + reminderColumns + ` FROM reminders
		WHERE status = 'pending' ORDER BY fire_at, id`

	transitionReminderQuery = `
		UPDATE reminders SET status = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2 AND status = $3`
)

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var r domain.Reminder
	if err := row.Scan(
		&r.ID, &r.TaskID, &r.OwnerID, &r.FireAt, &r.OffsetType,
		&r.Status, &r.JobHandle, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.FireAt = r.FireAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// SaveReminder implements store.ReminderStore. A reminder for the same
// task and offset is replaced in place.
func (b *Backend) SaveReminder(ctx context.Context, r *domain.Reminder) error {
	_, err := b.db.ExecContext(ctx, upsertReminderQuery,
		r.ID, r.TaskID, r.OwnerID, r.FireAt, string(r.OffsetType),
		string(r.Status), r.JobHandle, r.CreatedAt, r.UpdatedAt,
	)
	return MapError(err)
}

// GetReminder implements store.ReminderStore.
func (b *Backend) GetReminder(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
	offset domain.OffsetType,
) (*domain.Reminder, error) {
	r, err := scanReminder(b.db.QueryRowContext(ctx, selectReminderQuery, ownerID, taskID, string(offset)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrReminderNotFound
		}
		return nil, MapError(err)
	}
	return r, nil
}

// ListReminders implements store.ReminderStore.
func (b *Backend) ListReminders(ctx context.Context, ownerID, taskID uuid.UUID) ([]*domain.Reminder, error) {
	return b.queryReminders(ctx, listRemindersQuery, ownerID, taskID)
}

// ListPendingReminders implements store.ReminderStore.
func (b *Backend) ListPendingReminders(ctx context.Context) ([]*domain.Reminder, error) {
	return b.queryReminders(ctx, listPendingRemindersQuery)
}

func (b *Backend) queryReminders(ctx context.Context, query string, args ...any) ([]*domain.Reminder, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// TransitionReminder implements store.ReminderStore. The status guard in
// the WHERE clause makes the transition a single atomic compare-and-set.
func (b *Backend) TransitionReminder(
	ctx context.Context,
	reminder *domain.Reminder,
	from, to domain.ReminderStatus,
) (bool, error) {
	now := b.now().UTC()
	result, err := b.db.ExecContext(ctx, transitionReminderQuery,
		reminder.ID, reminder.OwnerID, string(from), string(to), now)
	if err != nil {
		return false, MapError(err)
	}
	if err := CheckRowsAffected(result, store.ErrReminderNotFound); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	reminder.Status = to
	reminder.UpdatedAt = now
	return true, nil
}
