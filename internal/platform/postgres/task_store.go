package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/store"
)

const taskColumns = `
	t.id, t.owner_id, t.title, t.description, t.completed, t.priority,
	t.due_date, t.rule_id, t.parent_task_id, t.reminder_offsets::text,
	t.completed_at, t.created_at, t.updated_at, t.series_advanced,
	COALESCE((SELECT json_agg(tt.name ORDER BY tt.name) FROM task_tags tt WHERE tt.task_id = t.id), '[]')::text`

const taskOrder = ` ORDER BY t.due_date ASC NULLS LAST, t.created_at ASC, t.id ASC`

const (
	insertTaskQuery = `
		INSERT INTO tasks (id, owner_id, title, description, completed, priority, due_date,
			rule_id, parent_task_id, reminder_offsets, completed_at, created_at, updated_at,
			series_advanced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updateTaskQuery = `
		UPDATE tasks
		SET title = $3, description = $4, completed = $5, priority = $6, due_date = $7,
			reminder_offsets = $8, completed_at = $9, updated_at = $10
		WHERE id = $1 AND owner_id = $2`

	selectTaskQuery = `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = $1 AND t.owner_id = $2`

	lockTaskQuery = `SELECT completed, updated_at FROM tasks WHERE id = $1 AND owner_id = $2 FOR UPDATE`

	completeTaskQuery = `
		UPDATE tasks SET completed = TRUE, completed_at = $3, updated_at = $3, series_advanced = $4
		WHERE id = $1 AND owner_id = $2`

	deleteTaskQuery = `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`

	upsertTagQuery = `
		INSERT INTO tags (owner_id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, name) DO NOTHING`

	insertTaskTagQuery = `INSERT INTO task_tags (task_id, owner_id, name) VALUES ($1, $2, $3)`

	clearTaskTagsQuery = `DELETE FROM task_tags WHERE task_id = $1`

	listTagsQuery = `SELECT owner_id, name, created_at FROM tags WHERE owner_id = $1 ORDER BY name`

	insertRuleQuery = `
		INSERT INTO recurrence_rules (id, owner_id, frequency, interval_count, end_date,
			occurrence_cap, occurrence_count, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ruleColumns = `id, owner_id, frequency, interval_count, end_date, occurrence_cap,
		occurrence_count, active, created_at, updated_at`

	selectRuleQuery = `SELECT ` + ruleColumns + ` FROM recurrence_rules WHERE id = $1 AND owner_id = $2`

	updateRuleQuery = `
		UPDATE recurrence_rules SET occurrence_count = $3, active = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                   domain.Task
		dueDate, completed  sql.NullTime
		ruleID, parentID    uuid.NullUUID
		offsetsJSON, tagsJS string
	)
	if err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Completed, &t.Priority,
		&dueDate, &ruleID, &parentID, &offsetsJSON,
		&completed, &t.CreatedAt, &t.UpdatedAt, &t.SeriesAdvanced, &tagsJS,
	); err != nil {
		return nil, err
	}

	if dueDate.Valid {
		d := dueDate.Time.UTC()
		t.DueDate = &d
	}
	if completed.Valid {
		c := completed.Time.UTC()
		t.CompletedAt = &c
	}
	if ruleID.Valid {
		t.RuleID = &ruleID.UUID
	}
	if parentID.Valid {
		t.ParentTaskID = &parentID.UUID
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(offsetsJSON), &t.ReminderOffsets); err != nil {
		return nil, fmt.Errorf("failed to decode reminder offsets: %w", err)
	}
	if len(t.ReminderOffsets) == 0 {
		t.ReminderOffsets = nil
	}
	if err := json.Unmarshal([]byte(tagsJS), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return &t, nil
}

func scanRule(row rowScanner) (*domain.RecurrenceRule, error) {
	var (
		r       domain.RecurrenceRule
		endDate sql.NullTime
		limit   sql.NullInt64
	)
	if err := row.Scan(
		&r.ID, &r.OwnerID, &r.Frequency, &r.Interval, &endDate, &limit,
		&r.OccurrenceCount, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if endDate.Valid {
		e := endDate.Time.UTC()
		r.EndDate = &e
	}
	if limit.Valid {
		n := int(limit.Int64)
		r.OccurrenceCap = &n
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func offsetsJSON(offsets []domain.OffsetType) (string, error) {
	if offsets == nil {
		offsets = []domain.OffsetType{}
	}
	data, err := json.Marshal(offsets)
	if err != nil {
		return "", fmt.Errorf("failed to encode reminder offsets: %w", err)
	}
	return string(data), nil
}

func insertTask(ctx context.Context, db store.DBTX, t *domain.Task, now time.Time) error {
	offsets, err := offsetsJSON(t.ReminderOffsets)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertTaskQuery,
		t.ID, t.OwnerID, t.Title, t.Description, t.Completed, string(t.Priority),
		nullTime(t.DueDate), nullUUID(t.RuleID), nullUUID(t.ParentTaskID), offsets,
		nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt, t.SeriesAdvanced,
	); err != nil {
		return MapError(err)
	}
	return writeTaskTags(ctx, db, t, now)
}

func writeTaskTags(ctx context.Context, db store.DBTX, t *domain.Task, now time.Time) error {
	for _, name := range t.Tags {
		if _, err := db.ExecContext(ctx, upsertTagQuery, t.OwnerID, name, now); err != nil {
			return MapError(err)
		}
		if _, err := db.ExecContext(ctx, insertTaskTagQuery, t.ID, t.OwnerID, name); err != nil {
			return MapError(err)
		}
	}
	return nil
}

func getTask(ctx context.Context, db store.DBTX, ownerID, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(db.QueryRowContext(ctx, selectTaskQuery, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return t, nil
}

// lockTask locks the task row for the rest of the transaction and returns
// the version it is in.
func lockTask(ctx context.Context, tx *sql.Tx, ownerID, id uuid.UUID) (domain.TaskVersion, error) {
	var v domain.TaskVersion
	if err := tx.QueryRowContext(ctx, lockTaskQuery, id, ownerID).Scan(&v.Completed, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, store.ErrTaskNotFound
		}
		return v, MapError(err)
	}
	return v, nil
}

func getRule(ctx context.Context, db store.DBTX, ownerID, id uuid.UUID, forUpdate bool) (*domain.RecurrenceRule, error) {
	query := selectRuleQuery
	if forUpdate {
		query += " FOR UPDATE"
	}
	r, err := scanRule(db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRuleNotFound
		}
		return nil, MapError(err)
	}
	return r, nil
}

func updateRule(ctx context.Context, db store.DBTX, r *domain.RecurrenceRule) error {
	result, err := db.ExecContext(ctx, updateRuleQuery, r.ID, r.OwnerID, r.OccurrenceCount, r.Active, r.UpdatedAt)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrRuleNotFound)
}

// CreateTask implements store.TaskStore.
func (b *Backend) CreateTask(ctx context.Context, task *domain.Task, rule *domain.RecurrenceRule) error {
	log := logger.FromContextOrDefault(ctx, b.logger)

	err := b.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if rule != nil {
			if _, err := tx.ExecContext(ctx, insertRuleQuery,
				rule.ID, rule.OwnerID, string(rule.Frequency), rule.Interval,
				nullTime(rule.EndDate), nullInt(rule.OccurrenceCap), rule.OccurrenceCount,
				rule.Active, rule.CreatedAt, rule.UpdatedAt,
			); err != nil {
				return MapError(err)
			}
		}
		return insertTask(ctx, tx, task, b.now().UTC())
	})
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("owner_id", task.OwnerID.String()))
	return nil
}

// GetTask implements store.TaskStore.
func (b *Backend) GetTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	return getTask(ctx, b.db, ownerID, id)
}

// UpdateTask implements store.TaskStore. The series marker is only ever
// written by CompleteTask.
func (b *Backend) UpdateTask(ctx context.Context, task *domain.Task, expected domain.TaskVersion) error {
	offsets, err := offsetsJSON(task.ReminderOffsets)
	if err != nil {
		return err
	}

	return b.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, task.OwnerID, task.ID)
		if err != nil {
			return err
		}
		if !current.Matches(expected) {
			return fmt.Errorf("task %s: %w", task.ID, store.ErrConflict)
		}

		result, err := tx.ExecContext(ctx, updateTaskQuery,
			task.ID, task.OwnerID, task.Title, task.Description, task.Completed,
			string(task.Priority), nullTime(task.DueDate), offsets,
			nullTime(task.CompletedAt), task.UpdatedAt,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, clearTaskTagsQuery, task.ID); err != nil {
			return MapError(err)
		}
		return writeTaskTags(ctx, tx, task, b.now().UTC())
	})
}

// CompleteTask implements store.TaskStore. The task row and its rule row
// are locked for the whole transaction, so concurrent completions
// serialize and only the first one sees an incomplete task.
func (b *Backend) CompleteTask(
	ctx context.Context,
	ownerID, id uuid.UUID,
	now time.Time,
	decide store.CompletionFunc,
) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, b.logger)

	var (
		task         *domain.Task
		completedNow bool
	)
	err := b.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		version, err := lockTask(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}

		current, err := getTask(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		task = current
		if version.Completed {
			return nil
		}

		advance := task.Complete(now)
		if _, err := tx.ExecContext(ctx, completeTaskQuery,
			id, ownerID, *task.CompletedAt, task.SeriesAdvanced,
		); err != nil {
			return MapError(err)
		}
		completedNow = true
		if task.RuleID != nil && !advance {
			return nil
		}

		var rule *domain.RecurrenceRule
		if task.RuleID != nil {
			rule, err = getRule(ctx, tx, ownerID, *task.RuleID, true)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		plan := decide(task.Clone(), cloneRule(rule))
		if plan.Rule != nil {
			if err := updateRule(ctx, tx, plan.Rule); err != nil {
				return err
			}
		}
		if plan.Successor != nil {
			if err := insertTask(ctx, tx, plan.Successor, now.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to complete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, false, err
	}
	return task, completedNow, nil
}

func cloneRule(r *domain.RecurrenceRule) *domain.RecurrenceRule {
	if r == nil {
		return nil
	}
	return r.Clone()
}

// DeleteTask implements store.TaskStore.
func (b *Backend) DeleteTask(ctx context.Context, ownerID, id uuid.UUID) (*domain.Task, error) {
	var deleted *domain.Task
	err := b.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		task, err := getTask(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, deleteTaskQuery, id, ownerID)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
			return err
		}
		deleted = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// filterClause renders f as SQL conditions on alias t. Parameter
// numbering continues from len(args).
func filterClause(ownerID uuid.UUID, f domain.TaskFilter, args []any) (string, []any) {
	args = append(args, ownerID)
	conds := []string{fmt.Sprintf("t.owner_id = $%d", len(args))}

	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if f.Completed != nil {
		add("t.completed = $%d", *f.Completed)
	}
	if f.Priority != nil {
		add("t.priority = $%d", string(*f.Priority))
	}
	if f.RuleID != nil {
		add("t.rule_id = $%d", *f.RuleID)
	}
	if f.DueBefore != nil {
		add("t.due_date < $%d", *f.DueBefore)
	}
	if f.DueAfter != nil {
		add("t.due_date > $%d", *f.DueAfter)
	}
	for _, tag := range f.Tags {
		add("EXISTS (SELECT 1 FROM task_tags tt WHERE tt.task_id = t.id AND tt.name = $%d)",
			strings.ToLower(strings.TrimSpace(tag)))
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// normalizedColumn renders col the way domain.NormalizeQuery renders text.
func normalizedColumn(col string) string {
	return `lower(regexp_replace(` + col + `, '\s+', ' ', 'g'))`
}

func (b *Backend) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

// ListTasks implements store.TaskStore.
func (b *Backend) ListTasks(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*domain.Task, error) {
	where, args := filterClause(ownerID, filter, nil)
	return b.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE `+where+taskOrder, args...)
}

// SearchTasks implements store.TaskStore.
func (b *Backend) SearchTasks(
	ctx context.Context,
	ownerID uuid.UUID,
	q string,
	filter domain.TaskFilter,
	page domain.Page,
) ([]*domain.Task, int, error) {
	page = page.Normalize()
	where, args := filterClause(ownerID, filter, nil)

	if needle := domain.NormalizeQuery(q); needle != "" {
		args = append(args, "%"+likeEscaper.Replace(needle)+"%")
		where += fmt.Sprintf(` AND (`+normalizedColumn("t.title")+` LIKE $%d ESCAPE '\'`+
			` OR `+normalizedColumn("t.description")+` LIKE $%d ESCAPE '\')`,
			len(args), len(args))
	}

	var total int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, MapError(err)
	}
	if total == 0 || page.Offset >= total {
		return []*domain.Task{}, total, nil
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tasks t WHERE %s%s LIMIT $%d OFFSET $%d`,
		taskColumns, where, taskOrder, len(args)-1, len(args))
	tasks, err := b.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// GetRule implements store.TaskStore.
func (b *Backend) GetRule(ctx context.Context, ownerID, id uuid.UUID) (*domain.RecurrenceRule, error) {
	return getRule(ctx, b.db, ownerID, id, false)
}

// UpdateRule implements store.TaskStore.
func (b *Backend) UpdateRule(ctx context.Context, rule *domain.RecurrenceRule) error {
	return updateRule(ctx, b.db, rule)
}

// ListTags implements store.TaskStore.
func (b *Backend) ListTags(ctx context.Context, ownerID uuid.UUID) ([]domain.Tag, error) {
	rows, err := b.db.QueryContext(ctx, listTagsQuery, ownerID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tags := []domain.Tag{}
	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(&tag.OwnerID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		tag.CreatedAt = tag.CreatedAt.UTC()
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tags, nil
}
