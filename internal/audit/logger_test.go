package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/platform/kvstore"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, *domain.Task) ([]*domain.Reminder, error) {
	return nil, nil
}

func (noopScheduler) Cancel(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type failingAuditStore struct{ store.AuditStore }

func (failingAuditStore) AppendAudit(context.Context, *domain.AuditRecord) error {
	return errors.New("disk full")
}

func countByType(records []*domain.AuditRecord) map[domain.AuditEventType]int {
	out := make(map[domain.AuditEventType]int)
	for _, r := range records {
		out[r.EventType]++
	}
	return out
}

func TestRecordFromEvent(t *testing.T) {
	t.Parallel()
	owner, task, parent, rule := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	ev, err := events.NewEvent(events.TopicRecurrence, events.InstanceCreated, owner, task, map[string]string{"k": "v"})
	require.NoError(t, err)
	ev.WithSeries(&parent, &rule, 2)

	rec, ok := RecordFromEvent(ev)
	require.True(t, ok)
	assert.Equal(t, ev.ID, rec.EventID)
	assert.Equal(t, domain.AuditInstanceCreated, rec.EventType)
	assert.Equal(t, owner, rec.OwnerID)
	assert.Equal(t, &parent, rec.ParentTaskID)
	assert.Equal(t, 2, *rec.OccurrenceNumber)
	assert.JSONEq(t, `{"k":"v"}`, string(rec.Payload))

	fired, err := events.NewEvent(events.TopicNotifications, events.ReminderFired, owner, task, nil)
	require.NoError(t, err)
	_, ok = RecordFromEvent(fired)
	assert.False(t, ok)
}

func TestNewLogger_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewLogger(nil, events.NewMemoryBus(1, nil), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = NewLogger(kvstore.New(kvstore.NewMemoryState(), nil), nil, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLogger_DeduplicatesRedeliveredEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := kvstore.New(kvstore.NewMemoryState(), logger.Discard())
	l, err := NewLogger(backend, events.NewMemoryBus(1, nil), logger.Discard())
	require.NoError(t, err)

	owner := uuid.New()
	ev, err := events.NewEvent(events.TopicLifecycle, events.TaskCreated, owner, uuid.New(), nil)
	require.NoError(t, err)

	require.NoError(t, l.HandleEvent(ctx, ev))
	require.NoError(t, l.HandleEvent(ctx, ev))

	records, err := l.List(ctx, owner, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, Stats{Recorded: 1, Duplicates: 1}, l.Stats())
}

func TestLogger_StoreFailureIsCountedNotReturned(t *testing.T) {
	t.Parallel()
	l, err := NewLogger(failingAuditStore{}, events.NewMemoryBus(1, nil), logger.Discard())
	require.NoError(t, err)

	ev, err := events.NewEvent(events.TopicLifecycle, events.TaskDeleted, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.NoError(t, l.HandleEvent(context.Background(), ev))
	assert.Equal(t, int64(1), l.Stats().Failures)
}

func TestLogger_RecurringSeriesAuditTrail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := events.NewMemoryBus(256, logger.Discard())
	t.Cleanup(func() { _ = bus.Close() })
	backend := kvstore.New(kvstore.NewMemoryState(), logger.Discard())

	l, err := NewLogger(backend, bus, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })

	repo, err := repository.New(repository.Deps{
		Backend:   backend,
		Publisher: events.NewPublisher(bus, logger.Discard()),
		Reminders: noopScheduler{},
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)

	owner := uuid.New()
	limit := 3
	due := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	task, err := repo.Create(ctx, owner, domain.TaskInput{
		Title:      "Weekly review",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyWeekly, Interval: 1, OccurrenceCap: &limit},
	})
	require.NoError(t, err)

	// One more completion than the cap allows occurrences.
	for i := 0; i < 4; i++ {
		res, err := repo.Complete(ctx, owner, task.ID)
		require.NoError(t, err)
		if res.Successor != nil {
			task = res.Successor
		}
	}

	var counts map[domain.AuditEventType]int
	require.Eventually(t, func() bool {
		records, err := l.List(ctx, owner, time.Time{}, 0)
		if err != nil {
			return false
		}
		counts = countByType(records)
		return counts[domain.AuditRecurrenceEnded] == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, counts[domain.AuditTaskCreated])
	assert.Equal(t, 2, counts[domain.AuditInstanceCreated])
	assert.Equal(t, 3, counts[domain.AuditTaskCompleted])
	assert.Zero(t, counts[domain.AuditRecurrenceError])
}
