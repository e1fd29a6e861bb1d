package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/store"
)

// AppendAudit implements store.AuditStore. Records are keyed by event id,
// so a redelivered event cannot be recorded twice.
func (b *Backend) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	eventID := rec.EventID
	if eventID == uuid.Nil {
		eventID = rec.ID
	}
	if err := b.create(ctx, auditKey(rec.OwnerID, eventID), rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("audit event %s: %w", eventID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListAudit implements store.AuditStore.
func (b *Backend) ListAudit(ctx context.Context, ownerID uuid.UUID, since time.Time, limit int) ([]*domain.AuditRecord, error) {
	keys, err := b.state.Keys(ctx, auditPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	var out []*domain.AuditRecord
	for _, key := range keys {
		var rec domain.AuditRecord
		if _, err := b.load(ctx, key, &rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !rec.CreatedAt.Before(since) {
			out = append(out, &rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTags(tags []domain.Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
}
