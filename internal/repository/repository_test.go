package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/domain/recurrence"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/platform/kvstore"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/reminder"
	"github.com/phrazzld/cadence-api/internal/runtime"
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

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t events.Type) *events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i]
		}
	}
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
	cancelled []uuid.UUID
	err       error
}

func (f *fakeScheduler) Schedule(ctx context.Context, task *domain.Task) ([]*domain.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, task.ID)
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, ownerID, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

type fixture struct {
	repo    *repositoryImpl
	backend *kvstore.Backend
	sched   *fakeScheduler
	rec     *recorder
	owner   uuid.UUID
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewMemoryBus(256, logger.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	rec := &recorder{}
	for _, topic := range events.AllTopics {
		_, err := bus.Subscribe(topic, "", rec)
		require.NoError(t, err)
	}

	backend := kvstore.New(kvstore.NewMemoryState(), logger.Discard())
	sched := &fakeScheduler{}
	repo, err := newRepository(Deps{
		Backend:   backend,
		Publisher: events.NewPublisher(bus, logger.Discard()),
		Reminders: sched,
		Mode:      runtime.ModeDegraded,
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)

	f := &fixture{repo: repo, backend: backend, sched: sched, rec: rec, owner: uuid.New(), clock: fixedNow}
	repo.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) waitFor(t *testing.T, eventType events.Type, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return f.rec.count(eventType) == n },
		time.Second, 5*time.Millisecond, "want %d %s events", n, eventType)
}

func ptr[T any](v T) *T { return &v }

func TestNew_RequiresDependencies(t *testing.T) {
	backend := kvstore.New(kvstore.NewMemoryState(), nil)
	pub := events.NewPublisher(events.NewMemoryBus(1, nil), nil)

	tests := []struct {
		name string
		deps Deps
	}{
		{"backend", Deps{Publisher: pub, Reminders: &fakeScheduler{}}},
		{"publisher", Deps{Backend: backend, Reminders: &fakeScheduler{}}},
		{"reminders", Deps{Backend: backend, Publisher: pub}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	repo, err := New(Deps{Backend: backend, Publisher: pub, Reminders: &fakeScheduler{}})
	require.NoError(t, err)
	assert.Equal(t, runtime.ModeDistributed, repo.Mode())
}

func TestCreate_StoresAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(2 * time.Hour)

	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:           "  Pay rent ",
		DueDate:         &due,
		Tags:            []string{"Home", "home"},
		ReminderOffsets: []domain.OffsetType{domain.Offset1Hour},
	})
	require.NoError(t, err)
	assert.Equal(t, "Pay rent", task.Title)
	assert.Equal(t, []string{"home"}, task.Tags)

	stored, err := f.repo.Get(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, stored.ID)

	f.waitFor(t, events.TaskCreated, 1)
	assert.Equal(t, []uuid.UUID{task.ID}, f.sched.scheduled)

	tags, err := f.repo.ListTags(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "home", tags[0].Name)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.repo.Create(context.Background(), f.owner, domain.TaskInput{Title: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.repo.Create(context.Background(), f.owner, domain.TaskInput{
		Title:      "Water plants",
		Recurrence: &domain.RecurrenceInput{Frequency: "hourly"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.rec.count(events.TaskCreated))
}

func TestCreate_SchedulingFailureKeepsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sched.err = fmt.Errorf("%w: bucket unavailable", reminder.ErrSchedulingFailure)
	due := fixedNow.Add(time.Hour)

	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:           "Call dentist",
		DueDate:         &due,
		ReminderOffsets: []domain.OffsetType{domain.Offset15Minutes},
	})
	require.ErrorIs(t, err, reminder.ErrSchedulingFailure)
	require.NotNil(t, task)

	_, err = f.repo.Get(ctx, f.owner, task.ID)
	assert.NoError(t, err)
}

func TestGet_OtherOwnerIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{Title: "Private"})
	require.NoError(t, err)

	_, err = f.repo.Get(ctx, uuid.New(), task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_ReschedulesOnlyWhenTimingChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(time.Hour)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:           "Standup notes",
		DueDate:         &due,
		ReminderOffsets: []domain.OffsetType{domain.Offset5Minutes},
	})
	require.NoError(t, err)

	_, err = f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Title: ptr("Standup prep")})
	require.NoError(t, err)
	assert.Len(t, f.sched.scheduled, 1)

	later := due.Add(time.Hour)
	updated, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{DueDate: &later})
	require.NoError(t, err)
	assert.Equal(t, later, *updated.DueDate)
	assert.Len(t, f.sched.scheduled, 2)

	f.waitFor(t, events.TaskUpdated, 2)
}

func TestUpdate_CompletedPatchAdvancesSeries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(24 * time.Hour)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Take out bins",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyWeekly},
	})
	require.NoError(t, err)

	updated, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{
		Title:     ptr("Take out recycling"),
		Completed: ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Take out recycling", updated.Title)

	f.waitFor(t, events.InstanceCreated, 1)
	open, err := f.repo.List(ctx, f.owner, domain.TaskFilter{Completed: ptr(false)})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, due.AddDate(0, 0, 7), *open[0].DueDate)
}

func TestUpdate_Uncomplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{Title: "File taxes"})
	require.NoError(t, err)
	_, err = f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)

	updated, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Completed: ptr(false)})
	require.NoError(t, err)
	assert.False(t, updated.Completed)
	assert.Nil(t, updated.CompletedAt)
}

func TestUpdate_ReopenThenCompleteKeepsOneSuccessor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(time.Hour)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Feed the cat",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyDaily},
	})
	require.NoError(t, err)

	first, err := f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)
	require.Equal(t, recurrence.OutcomeCreated, first.Outcome)

	reopened, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Completed: ptr(false)})
	require.NoError(t, err)
	require.False(t, reopened.Completed)

	second, err := f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.True(t, second.CompletedNow)
	assert.Equal(t, recurrence.OutcomeNone, second.Outcome)
	assert.Nil(t, second.Successor)

	_, err = f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Completed: ptr(false)})
	require.NoError(t, err)
	third, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Completed: ptr(true)})
	require.NoError(t, err)
	assert.True(t, third.Completed)

	series, err := f.repo.List(ctx, f.owner, domain.TaskFilter{RuleID: task.RuleID})
	require.NoError(t, err)
	assert.Len(t, series, 2)

	rule, err := f.backend.GetRule(ctx, f.owner, *task.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 2, rule.OccurrenceCount)

	f.waitFor(t, events.TaskCompleted, 3)
	assert.Equal(t, 1, f.rec.count(events.InstanceCreated))
}

// interleavedBackend runs between once, right before the first UpdateTask
// reaches the wrapped backend.
type interleavedBackend struct {
	store.Backend
	once    sync.Once
	between func()
	updates int
	err     error
}

func (b *interleavedBackend) UpdateTask(ctx context.Context, task *domain.Task, expected domain.TaskVersion) error {
	b.updates++
	if b.between != nil {
		b.once.Do(b.between)
	}
	if b.err != nil {
		return b.err
	}
	return b.Backend.UpdateTask(ctx, task, expected)
}

func TestUpdate_RetriesAfterConcurrentCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(time.Hour)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Standup",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyDaily},
	})
	require.NoError(t, err)

	wrapped := &interleavedBackend{Backend: f.backend}
	wrapped.between = func() {
		res, err := f.repo.Complete(ctx, f.owner, task.ID)
		require.NoError(t, err)
		require.Equal(t, recurrence.OutcomeCreated, res.Outcome)
	}
	f.repo.backend = wrapped

	updated, err := f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Title: ptr("Daily standup")})
	require.NoError(t, err)
	assert.Equal(t, 2, wrapped.updates)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Daily standup", updated.Title)

	stored, err := f.repo.Get(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.Completed, "a rename must not reopen a completed task")

	again, err := f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.False(t, again.CompletedNow)

	series, err := f.repo.List(ctx, f.owner, domain.TaskFilter{RuleID: task.RuleID})
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestUpdate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{Title: "Contended"})
	require.NoError(t, err)

	wrapped := &interleavedBackend{Backend: f.backend, err: fmt.Errorf("task %s: %w", task.ID, store.ErrConflict)}
	f.repo.backend = wrapped

	_, err = f.repo.Update(ctx, f.owner, task.ID, domain.TaskPatch{Title: ptr("Renamed")})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, maxUpdateAttempts, wrapped.updates)
}

func TestComplete_WeeklySeriesWithCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	first, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Weekly review",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyWeekly, OccurrenceCap: ptr(3)},
	})
	require.NoError(t, err)

	current := first
	var outcomes []recurrence.Outcome
	for i := 0; i < 3; i++ {
		res, err := f.repo.Complete(ctx, f.owner, current.ID)
		require.NoError(t, err)
		require.True(t, res.CompletedNow)
		outcomes = append(outcomes, res.Outcome)
		if res.Successor != nil {
			assert.Equal(t, current.DueDate.AddDate(0, 0, 7), *res.Successor.DueDate)
			assert.Equal(t, current.ID, *res.Successor.ParentTaskID)
			current = res.Successor
		}
	}
	assert.Equal(t, []recurrence.Outcome{
		recurrence.OutcomeCreated, recurrence.OutcomeCreated, recurrence.OutcomeEnded,
	}, outcomes)

	f.waitFor(t, events.TaskCompleted, 3)
	f.waitFor(t, events.InstanceCreated, 2)
	f.waitFor(t, events.RecurrenceEnded, 1)

	created := f.rec.last(events.InstanceCreated)
	require.NotNil(t, created.Occurrence)
	assert.Equal(t, 3, *created.Occurrence)
	assert.Equal(t, first.RuleID, created.RuleID)

	rule, err := f.backend.GetRule(ctx, f.owner, *first.RuleID)
	require.NoError(t, err)
	assert.False(t, rule.Active)
	assert.Equal(t, 3, rule.OccurrenceCount)

	all, err := f.repo.List(ctx, f.owner, domain.TaskFilter{RuleID: first.RuleID})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestComplete_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(time.Hour)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Daily journal",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyDaily},
	})
	require.NoError(t, err)

	res, err := f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.True(t, res.CompletedNow)

	again, err := f.repo.Complete(ctx, f.owner, task.ID)
	require.NoError(t, err)
	assert.False(t, again.CompletedNow)
	assert.Equal(t, recurrence.OutcomeNone, again.Outcome)
	assert.Nil(t, again.Successor)

	f.waitFor(t, events.InstanceCreated, 1)
	f.waitFor(t, events.TaskCompleted, 1)
	assert.Contains(t, f.sched.cancelled, task.ID)
}

func TestComplete_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Complete(context.Background(), f.owner, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_CancelsReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task, err := f.repo.Create(ctx, f.owner, domain.TaskInput{Title: "Renew passport"})
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, f.owner, task.ID))
	assert.Equal(t, []uuid.UUID{task.ID}, f.sched.cancelled)
	f.waitFor(t, events.TaskDeleted, 1)

	assert.ErrorIs(t, f.repo.Delete(ctx, f.owner, task.ID), ErrNotFound)
}

func TestDeleteSeries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := fixedNow.Add(time.Hour)
	first, err := f.repo.Create(ctx, f.owner, domain.TaskInput{
		Title:      "Water plants",
		DueDate:    &due,
		Recurrence: &domain.RecurrenceInput{Frequency: domain.FrequencyDaily},
	})
	require.NoError(t, err)
	res, err := f.repo.Complete(ctx, f.owner, first.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)

	require.NoError(t, f.repo.DeleteSeries(ctx, f.owner, res.Successor.ID))

	rule, err := f.backend.GetRule(ctx, f.owner, *first.RuleID)
	require.NoError(t, err)
	assert.False(t, rule.Active)

	open, err := f.repo.List(ctx, f.owner, domain.TaskFilter{Completed: ptr(false)})
	require.NoError(t, err)
	assert.Empty(t, open)

	// The completed occurrence stays as history.
	_, err = f.repo.Get(ctx, f.owner, first.ID)
	assert.NoError(t, err)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, title := range []string{"Buy milk", "Buy bread", "Call mom"} {
		_, err := f.repo.Create(ctx, f.owner, domain.TaskInput{Title: title})
		require.NoError(t, err)
	}

	tasks, total, err := f.repo.Search(ctx, f.owner, "  BUY ", domain.TaskFilter{}, domain.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, tasks, 1)

	_, _, err = f.repo.Search(ctx, f.owner, string(make([]byte, domain.MaxTitleLength+1)), domain.TaskFilter{}, domain.Page{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRemindersChanged(t *testing.T) {
	due := fixedNow.Add(time.Hour)
	base := &domain.Task{DueDate: &due, ReminderOffsets: []domain.OffsetType{domain.Offset5Minutes}}

	tests := []struct {
		name   string
		mutate func(*domain.Task)
		want   bool
	}{
		{"unchanged", func(*domain.Task) {}, false},
		{"title only", func(t *domain.Task) { t.Title = "x" }, false},
		{"due moved", func(t *domain.Task) { d := due.Add(time.Minute); t.DueDate = &d }, true},
		{"due cleared", func(t *domain.Task) { t.DueDate = nil }, true},
		{"offsets", func(t *domain.Task) { t.ReminderOffsets = nil }, true},
		{"completed", func(t *domain.Task) { t.Completed = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := base.Clone()
			tt.mutate(after)
			assert.Equal(t, tt.want, remindersChanged(base, after))
		})
	}
}
