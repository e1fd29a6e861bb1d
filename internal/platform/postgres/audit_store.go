package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/store"
)

const (
	auditColumns = `id, event_id, owner_id, task_id, event_type, payload::text,
		parent_task_id, rule_id, occurrence_number, created_at`

	insertAuditQuery = `
		INSERT INTO audit_records (id, event_id, owner_id, task_id, event_type, payload,
			parent_task_id, rule_id, occurrence_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listAuditQuery = `SELECT ` + auditColumns + ` FROM audit_records
		WHERE owner_id = $1 AND created_at >= $2 ORDER BY created_at, id`
)

// AppendAudit implements store.AuditStore. The event_id unique constraint
// rejects redelivered events.
func (b *Backend) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	eventID := rec.EventID
	if eventID == uuid.Nil {
		eventID = rec.ID
	}
	payload := string(rec.Payload)
	if len(rec.Payload) == 0 {
		payload = "{}"
	}

	var occurrence any
	if rec.OccurrenceNumber != nil {
		occurrence = int64(*rec.OccurrenceNumber)
	}

	_, err := b.db.ExecContext(ctx, insertAuditQuery,
		rec.ID, eventID, rec.OwnerID, rec.TaskID, string(rec.EventType), payload,
		nullUUID(rec.ParentTaskID), nullUUID(rec.RuleID), occurrence, rec.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("audit event %s: %w", eventID, store.ErrDuplicate)
		}
		return MapError(err)
	}
	return nil
}

// ListAudit implements store.AuditStore.
func (b *Backend) ListAudit(ctx context.Context, ownerID uuid.UUID, since time.Time, limit int) ([]*domain.AuditRecord, error) {
	query := listAuditQuery
	args := []any{ownerID, since}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.AuditRecord
	for rows.Next() {
		var (
			rec        domain.AuditRecord
			payload    string
			parentID   uuid.NullUUID
			ruleID     uuid.NullUUID
			occurrence sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &rec.OwnerID, &rec.TaskID, &rec.EventType, &payload,
			&parentID, &ruleID, &occurrence, &rec.CreatedAt,
		); err != nil {
			return nil, MapError(err)
		}
		rec.Payload = []byte(payload)
		if parentID.Valid {
			rec.ParentTaskID = &parentID.UUID
		}
		if ruleID.Valid {
			rec.RuleID = &ruleID.UUID
		}
		if occurrence.Valid {
			n := int(occurrence.Int64)
			rec.OccurrenceNumber = &n
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}
