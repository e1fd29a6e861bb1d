package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/jobs"
	"github.com/phrazzld/cadence-api/internal/platform/kvstore"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) HandleEvent(ctx context.Context, e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// topicFailingBus rejects publishes on one topic.
type topicFailingBus struct {
	events.Bus
	topic string
}

func (b *topicFailingBus) Publish(ctx context.Context, e *events.Event) error {
	if e.Topic == b.topic {
		return errors.New("broker unavailable")
	}
	return b.Bus.Publish(ctx, e)
}

type failingJobStore struct{ jobs.Store }

func (failingJobStore) Put(context.Context, *jobs.Job) error { return errors.New("bucket unavailable") }

type fixture struct {
	backend *kvstore.Backend
	jobs    *jobs.MemoryStore
	sched   *Scheduler
	rec     *recorder
}

func newFixture(t *testing.T, wrap func(events.Bus) events.Bus, jobStore jobs.Store) *fixture {
	t.Helper()
	bus := events.NewMemoryBus(64, logger.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	rec := &recorder{}
	for _, topic := range []string{events.TopicNotifications, events.TopicReminders} {
		_, err := bus.Subscribe(topic, "", rec)
		require.NoError(t, err)
	}

	var pubBus events.Bus = bus
	if wrap != nil {
		pubBus = wrap(bus)
	}

	mem := jobs.NewMemoryStore()
	if jobStore == nil {
		jobStore = mem
	}
	backend := kvstore.New(kvstore.NewMemoryState(), logger.Discard())
	sched, err := NewScheduler(backend, jobStore, events.NewPublisher(pubBus, logger.Discard()),
		jobs.RunnerConfig{SweepInterval: time.Hour, WorkerCount: 2}, logger.Discard())
	require.NoError(t, err)
	sched.now = func() time.Time { return fixedNow }
	t.Cleanup(sched.Stop)

	return &fixture{backend: backend, jobs: mem, sched: sched, rec: rec}
}

func (f *fixture) createTask(t *testing.T, due *time.Time, offsets ...domain.OffsetType) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(uuid.New(), domain.TaskInput{
		Title:           "Review PR",
		DueDate:         due,
		ReminderOffsets: offsets,
	}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, f.backend.CreateTask(context.Background(), task, nil))
	return task
}

func (f *fixture) dueJobs(t *testing.T, at time.Time) []*jobs.Job {
	t.Helper()
	due, err := f.jobs.Due(context.Background(), at)
	require.NoError(t, err)
	return due
}

func TestNewScheduler_RequiresDependencies(t *testing.T) {
	backend := kvstore.New(kvstore.NewMemoryState(), nil)
	pub := events.NewPublisher(events.NewMemoryBus(1, nil), nil)

	_, err := NewScheduler(nil, jobs.NewMemoryStore(), pub, jobs.RunnerConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = NewScheduler(backend, nil, pub, jobs.RunnerConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = NewScheduler(backend, jobs.NewMemoryStore(), nil, jobs.RunnerConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestScheduler_ThirtyMinuteReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset30Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, fixedNow.Add(30*time.Minute), scheduled[0].FireAt)
	assert.Equal(t, domain.ReminderPending, scheduled[0].Status)

	assert.Empty(t, f.dueJobs(t, fixedNow.Add(29*time.Minute)))
	fired := f.dueJobs(t, fixedNow.Add(30*time.Minute))
	require.Len(t, fired, 1)

	require.NoError(t, f.sched.HandleJob(ctx, fired[0]))

	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderFired)) == 1 },
		time.Second, 5*time.Millisecond)
	var n domain.NotificationEvent
	require.NoError(t, f.rec.ofType(events.ReminderFired)[0].UnmarshalPayload(&n))
	assert.Equal(t, task.ID, n.TaskID)
	require.NotNil(t, n.DueDate)
	assert.True(t, due.Equal(*n.DueDate))
	assert.Equal(t, domain.Offset30Minutes, n.OffsetType)
	assert.Contains(t, n.Message, "in 30 minutes")

	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset30Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderSent, got.Status)
	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderSent)) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestScheduler_DuplicateFirePublishesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset5Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	ref := refOf(scheduled[0])

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.sched.Fire(ctx, ref))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderSent)) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, f.rec.ofType(events.ReminderFired), 1)
}

func TestScheduler_RescheduleReplacesPriorJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset15Minutes)

	first, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	moved := due.Add(2 * time.Hour)
	task.DueDate = &moved
	second, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	assert.Equal(t, 1, f.jobs.Len())
	listed, err := f.backend.ListReminders(ctx, task.OwnerID, task.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, second[0].ID, listed[0].ID)
	assert.Equal(t, moved.Add(-15*time.Minute), listed[0].FireAt)

	require.NoError(t, f.sched.Fire(ctx, refOf(first[0])))
	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset15Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderPending, got.Status, "stale job must not fire the replacement")
}

func TestScheduler_RemovedOffsetIsCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset5Minutes, domain.Offset1Hour)

	_, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 2, f.jobs.Len())

	task.ReminderOffsets = []domain.OffsetType{domain.Offset5Minutes}
	_, err = f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	assert.Equal(t, 1, f.jobs.Len())
	hour, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset1Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderCancelled, hour.Status)
}

func TestScheduler_NoDueDateSchedulesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	task := f.createTask(t, nil, domain.Offset5Minutes)

	scheduled, err := f.sched.Schedule(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, scheduled)
	assert.Zero(t, f.jobs.Len())
}

func TestScheduler_FireForDeletedTaskCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset30Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	_, err = f.backend.DeleteTask(ctx, task.OwnerID, task.ID)
	require.NoError(t, err)

	require.NoError(t, f.sched.Fire(ctx, refOf(scheduled[0])))

	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset30Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderCancelled, got.Status)
	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderCancelled)) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Empty(t, f.rec.ofType(events.ReminderFired))
}

func TestScheduler_AtDueIsNotScheduled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.OffsetAtDue, domain.Offset5Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.Offset5Minutes, scheduled[0].OffsetType)

	_, err = f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.OffsetAtDue)
	assert.ErrorIs(t, err, store.ErrReminderNotFound)
	assert.Len(t, f.dueJobs(t, due), 1)
}

func TestScheduler_FireForCompletedTaskCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset15Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	version := task.Version()
	task.Complete(fixedNow.Add(time.Minute))
	require.NoError(t, f.backend.UpdateTask(ctx, task, version))

	require.NoError(t, f.sched.Fire(ctx, refOf(scheduled[0])))
	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset15Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderCancelled, got.Status)
}

func TestScheduler_PublishFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(b events.Bus) events.Bus {
		return &topicFailingBus{Bus: b, topic: events.TopicNotifications}
	}, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset5Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	err = f.sched.Fire(ctx, refOf(scheduled[0]))
	assert.ErrorIs(t, err, events.ErrPublishFailure)

	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset5Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderFailed, got.Status)

	require.NoError(t, f.sched.Fire(ctx, refOf(scheduled[0])), "a failed reminder is not retried")
	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderFailed)) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestScheduler_CancelRevokesJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(24 * time.Hour)
	task := f.createTask(t, &due, domain.Offset1Hour, domain.Offset1Day)

	_, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	require.Equal(t, 2, f.jobs.Len())

	require.NoError(t, f.sched.Cancel(ctx, task.OwnerID, task.ID))
	assert.Zero(t, f.jobs.Len())

	listed, err := f.backend.ListReminders(ctx, task.OwnerID, task.ID)
	require.NoError(t, err)
	for _, r := range listed {
		assert.Equal(t, domain.ReminderCancelled, r.Status)
	}
	require.NoError(t, f.sched.Cancel(ctx, task.OwnerID, task.ID))
}

func TestScheduler_JobStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, failingJobStore{Store: jobs.NewMemoryStore()})
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset5Minutes)

	scheduled, err := f.sched.Schedule(ctx, task)
	assert.ErrorIs(t, err, ErrSchedulingFailure)
	assert.Empty(t, scheduled)

	got, err := f.backend.GetReminder(ctx, task.OwnerID, task.ID, domain.Offset5Minutes)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderFailed, got.Status)
}

func TestScheduler_Recover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	due := fixedNow.Add(time.Hour)
	task := f.createTask(t, &due, domain.Offset5Minutes, domain.Offset15Minutes)

	_, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	fresh := jobs.NewMemoryStore()
	restarted, err := NewScheduler(f.backend, fresh, events.NewPublisher(events.NewMemoryBus(1, nil), nil),
		jobs.RunnerConfig{}, logger.Discard())
	require.NoError(t, err)

	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, fresh.Len())
}

func TestScheduler_OverdueReminderFiresOnceStarted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.sched.now = time.Now
	due := time.Now().Add(2 * time.Minute)
	task := f.createTask(t, &due, domain.Offset1Hour)

	require.NoError(t, f.sched.Start())
	scheduled, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.True(t, scheduled[0].FireAt.Before(time.Now()))

	require.Eventually(t, func() bool { return len(f.rec.ofType(events.ReminderFired)) == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestNewNotification(t *testing.T) {
	due := fixedNow.Add(time.Hour)
	task := &domain.Task{ID: uuid.New(), OwnerID: uuid.New(), Title: "Ship", DueDate: &due, Priority: domain.PriorityHigh}
	r := &domain.Reminder{ID: uuid.New(), OffsetType: domain.OffsetAtDue}

	n := NewNotification(task, r, fixedNow)
	assert.Equal(t, `"Ship" is due now`, n.Message)
	assert.Equal(t, domain.PriorityHigh, n.Priority)
	assert.Equal(t, r.ID, n.ReminderID)
	assert.Equal(t, fixedNow, n.Timestamp)
}
