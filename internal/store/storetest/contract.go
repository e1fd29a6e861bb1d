// Package storetest holds the behavioural contract every store.Backend must
// satisfy. Backend packages call RunBackendContract from their own tests so
// that the distributed and relational backends stay interchangeable.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty backend for one subtest.
type Factory func(t *testing.T) store.Backend

// baseTime is truncated to microseconds, the resolution Postgres stores.
var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// NewTask builds a valid task for owner with the given title and due date.
func NewTask(t *testing.T, owner uuid.UUID, title string, due *time.Time, tags ...string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(owner, domain.TaskInput{
		Title:    title,
		DueDate:  due,
		Tags:     tags,
		Priority: domain.PriorityMedium,
	}, baseTime)
	require.NoError(t, err)
	return task
}

// RunBackendContract runs the contract against backends built by factory.
func RunBackendContract(t *testing.T, factory Factory) {
	t.Run("CreateGetRoundTrip", func(t *testing.T) { testCreateGet(t, factory(t)) })
	t.Run("CrossOwnerIsNotFound", func(t *testing.T) { testCrossOwner(t, factory(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateDelete(t, factory(t)) })
	t.Run("CompleteRunsPlanOnce", func(t *testing.T) { testComplete(t, factory(t)) })
	t.Run("ConcurrentCompleteSingleSuccessor", func(t *testing.T) { testConcurrentComplete(t, factory(t)) })
	t.Run("ReopenedOccurrenceAdvancesOnce", func(t *testing.T) { testReopenComplete(t, factory(t)) })
	t.Run("StaleUpdateConflicts", func(t *testing.T) { testStaleUpdate(t, factory(t)) })
	t.Run("ListFilterAndOrder", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("SearchCaseInsensitivePaged", func(t *testing.T) { testSearch(t, factory(t)) })
	t.Run("TagRegistryOutlivesTasks", func(t *testing.T) { testTags(t, factory(t)) })
	t.Run("ReminderUpsertAndTransition", func(t *testing.T) { testReminders(t, factory(t)) })
	t.Run("AuditDedupAndOrder", func(t *testing.T) { testAudit(t, factory(t)) })
}

func testCreateGet(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	due := baseTime.Add(48 * time.Hour)

	task := NewTask(t, owner, "Pay rent", &due, "Home", "bills")
	task.Description = "before the 5th"
	task.ReminderOffsets = []domain.OffsetType{domain.Offset1Day}

	rule, err := domain.NewRecurrenceRule(owner, domain.RecurrenceInput{
		Frequency:     domain.FrequencyMonthly,
		Interval:      1,
		OccurrenceCap: ptr(12),
	}, baseTime)
	require.NoError(t, err)
	task.RuleID = &rule.ID

	require.NoError(t, b.CreateTask(ctx, task, rule))

	got, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, []string{"bills", "home"}, got.Tags)
	assert.Equal(t, task.Priority, got.Priority)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
	require.NotNil(t, got.RuleID)
	assert.Equal(t, rule.ID, *got.RuleID)
	assert.Equal(t, task.ReminderOffsets, got.ReminderOffsets)
	assert.False(t, got.Completed)

	gotRule, err := b.GetRule(ctx, owner, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyMonthly, gotRule.Frequency)
	assert.Equal(t, 1, gotRule.OccurrenceCount)
	require.NotNil(t, gotRule.OccurrenceCap)
	assert.Equal(t, 12, *gotRule.OccurrenceCap)
	assert.True(t, gotRule.Active)

	err = b.CreateTask(ctx, task, nil)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testCrossOwner(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	task := NewTask(t, owner, "Private", nil)
	require.NoError(t, b.CreateTask(ctx, task, nil))

	_, errForeign := b.GetTask(ctx, other, task.ID)
	_, errUnknown := b.GetTask(ctx, owner, uuid.New())
	assert.ErrorIs(t, errForeign, store.ErrNotFound)
	assert.ErrorIs(t, errUnknown, store.ErrNotFound)
	assert.Equal(t, errForeign.Error(), errUnknown.Error())

	_, err := b.DeleteTask(ctx, other, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = b.CompleteTask(ctx, other, task.ID, baseTime, func(*domain.Task, *domain.RecurrenceRule) store.CompletionPlan {
		t.Fatal("decide must not run for a foreign task")
		return store.CompletionPlan{}
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	tasks, err := b.ListTasks(ctx, other, domain.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func testUpdateDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	task := NewTask(t, owner, "Draft", nil)
	require.NoError(t, b.CreateTask(ctx, task, nil))

	due := baseTime.Add(time.Hour)
	version := task.Version()
	require.NoError(t, task.Apply(domain.TaskPatch{
		Title:   ptr("Final"),
		DueDate: &due,
		Tags:    &[]string{"work"},
	}, baseTime.Add(time.Minute)))
	require.NoError(t, b.UpdateTask(ctx, task, version))

	got, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, []string{"work"}, got.Tags)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))

	missing := NewTask(t, owner, "Ghost", nil)
	assert.ErrorIs(t, b.UpdateTask(ctx, missing, missing.Version()), store.ErrNotFound)

	deleted, err := b.DeleteTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", deleted.Title)

	_, err = b.GetTask(ctx, owner, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.DeleteTask(ctx, owner, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seriesPlan(next time.Time) store.CompletionFunc {
	return func(completed *domain.Task, rule *domain.RecurrenceRule) store.CompletionPlan {
		if rule == nil || !rule.Active {
			return store.CompletionPlan{}
		}
		rule.OccurrenceCount++
		rule.UpdatedAt = baseTime
		return store.CompletionPlan{
			Rule:      rule,
			Successor: completed.Successor(next, baseTime),
		}
	}
}

func testComplete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	due := baseTime.Add(24 * time.Hour)
	task := NewTask(t, owner, "Water plants", &due, "home")
	rule, err := domain.NewRecurrenceRule(owner, domain.RecurrenceInput{Frequency: domain.FrequencyWeekly}, baseTime)
	require.NoError(t, err)
	task.RuleID = &rule.ID
	require.NoError(t, b.CreateTask(ctx, task, rule))

	next := due.AddDate(0, 0, 7)
	var calls int
	decide := seriesPlan(next)
	counting := func(c *domain.Task, r *domain.RecurrenceRule) store.CompletionPlan {
		calls++
		assert.True(t, c.Completed)
		return decide(c, r)
	}

	completed, now, err := b.CompleteTask(ctx, owner, task.ID, baseTime, counting)
	require.NoError(t, err)
	assert.True(t, now)
	assert.True(t, completed.Completed)
	require.NotNil(t, completed.CompletedAt)
	assert.GreaterOrEqual(t, calls, 1)

	gotRule, err := b.GetRule(ctx, owner, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotRule.OccurrenceCount)

	open, err := b.ListTasks(ctx, owner, domain.TaskFilter{Completed: ptr(false)})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, task.ID, *open[0].ParentTaskID)
	assert.True(t, next.Equal(*open[0].DueDate))
	assert.Equal(t, []string{"home"}, open[0].Tags)

	calls = 0
	again, now, err := b.CompleteTask(ctx, owner, task.ID, baseTime, counting)
	require.NoError(t, err)
	assert.False(t, now)
	assert.True(t, again.Completed)
	assert.Zero(t, calls)
}

func testConcurrentComplete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	due := baseTime.Add(24 * time.Hour)
	task := NewTask(t, owner, "Standup", &due)
	rule, err := domain.NewRecurrenceRule(owner, domain.RecurrenceInput{Frequency: domain.FrequencyDaily}, baseTime)
	require.NoError(t, err)
	task.RuleID = &rule.ID
	require.NoError(t, b.CreateTask(ctx, task, rule))

	const workers = 8
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, now, err := b.CompleteTask(ctx, owner, task.ID, baseTime, seriesPlan(due.AddDate(0, 0, 1)))
			if err != nil {
				return
			}
			if now {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())

	all, err := b.ListTasks(ctx, owner, domain.TaskFilter{RuleID: &rule.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gotRule, err := b.GetRule(ctx, owner, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotRule.OccurrenceCount)
}

func testReopenComplete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	due := baseTime.Add(24 * time.Hour)
	task := NewTask(t, owner, "Stretch", &due)
	rule, err := domain.NewRecurrenceRule(owner, domain.RecurrenceInput{Frequency: domain.FrequencyDaily}, baseTime)
	require.NoError(t, err)
	task.RuleID = &rule.ID
	require.NoError(t, b.CreateTask(ctx, task, rule))

	completed, now, err := b.CompleteTask(ctx, owner, task.ID, baseTime, seriesPlan(due.AddDate(0, 0, 1)))
	require.NoError(t, err)
	require.True(t, now)
	assert.True(t, completed.SeriesAdvanced)

	reopened, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.True(t, reopened.SeriesAdvanced)
	version := reopened.Version()
	require.NoError(t, reopened.Apply(domain.TaskPatch{Completed: ptr(false)}, baseTime.Add(time.Minute)))
	require.NoError(t, b.UpdateTask(ctx, reopened, version))

	got, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.True(t, got.SeriesAdvanced, "reopening keeps the series marker")

	completed, now, err = b.CompleteTask(ctx, owner, task.ID, baseTime.Add(2*time.Minute),
		func(*domain.Task, *domain.RecurrenceRule) store.CompletionPlan {
			t.Error("decide must not run twice for one occurrence")
			return store.CompletionPlan{}
		})
	require.NoError(t, err)
	assert.True(t, now)
	assert.True(t, completed.Completed)

	all, err := b.ListTasks(ctx, owner, domain.TaskFilter{RuleID: &rule.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gotRule, err := b.GetRule(ctx, owner, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotRule.OccurrenceCount)
}

func testStaleUpdate(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	task := NewTask(t, owner, "Book dentist", nil)
	require.NoError(t, b.CreateTask(ctx, task, nil))

	stale, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	version := stale.Version()

	_, now, err := b.CompleteTask(ctx, owner, task.ID, baseTime.Add(time.Minute), seriesPlan(baseTime))
	require.NoError(t, err)
	require.True(t, now)

	require.NoError(t, stale.Apply(domain.TaskPatch{Title: ptr("Book dentist for Friday")}, baseTime.Add(2*time.Minute)))
	assert.ErrorIs(t, b.UpdateTask(ctx, stale, version), store.ErrConflict)

	got, err := b.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed, "a stale write must not reopen the task")
	assert.Equal(t, "Book dentist", got.Title)
}

func testList(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	d1 := baseTime.Add(time.Hour)
	d2 := baseTime.Add(2 * time.Hour)

	late := NewTask(t, owner, "late", &d2, "work")
	early := NewTask(t, owner, "early", &d1, "work", "urgent")
	undated := NewTask(t, owner, "undated", nil, "home")
	undated.Priority = domain.PriorityHigh
	for _, task := range []*domain.Task{undated, late, early} {
		require.NoError(t, b.CreateTask(ctx, task, nil))
	}

	all, err := b.ListTasks(ctx, owner, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"early", "late", "undated"}, titles(all))

	work, err := b.ListTasks(ctx, owner, domain.TaskFilter{Tags: []string{"work"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, titles(work))

	both, err := b.ListTasks(ctx, owner, domain.TaskFilter{Tags: []string{"work", "urgent"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, titles(both))

	high, err := b.ListTasks(ctx, owner, domain.TaskFilter{Priority: ptr(domain.PriorityHigh)})
	require.NoError(t, err)
	assert.Equal(t, []string{"undated"}, titles(high))

	before, err := b.ListTasks(ctx, owner, domain.TaskFilter{DueBefore: &d2})
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, titles(before))

	after, err := b.ListTasks(ctx, owner, domain.TaskFilter{DueAfter: &d1})
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, titles(after))
}

func testSearch(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	for i, title := range []string{"Buy MILK", "milkshake recipe", "Call mom", "Oat milk order"} {
		due := baseTime.Add(time.Duration(i) * time.Hour)
		task := NewTask(t, owner, title, &due)
		if title == "Call mom" {
			task.Description = "ask about the Milk Run"
		}
		require.NoError(t, b.CreateTask(ctx, task, nil))
	}
	spaced := baseTime.Add(10 * time.Hour)
	require.NoError(t, b.CreateTask(ctx, NewTask(t, owner, "Pick  up\tparcel", &spaced), nil))
	require.NoError(t, b.CreateTask(ctx, NewTask(t, uuid.New(), "milk for someone else", nil), nil))

	page, total, err := b.SearchTasks(ctx, owner, "milk", domain.TaskFilter{}, domain.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"Buy MILK", "milkshake recipe"}, titles(page))

	page, total, err = b.SearchTasks(ctx, owner, "MILK", domain.TaskFilter{}, domain.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"Call mom", "Oat milk order"}, titles(page))

	page, total, err = b.SearchTasks(ctx, owner, "milk", domain.TaskFilter{}, domain.Page{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, page)

	_, total, err = b.SearchTasks(ctx, owner, "100%", domain.TaskFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)

	page, total, err = b.SearchTasks(ctx, owner, "OAT   milk", domain.TaskFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"Oat milk order"}, titles(page))

	page, total, err = b.SearchTasks(ctx, owner, "pick up parcel", domain.TaskFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"Pick  up\tparcel"}, titles(page))

	_, total, err = b.SearchTasks(ctx, owner, "", domain.TaskFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func testTags(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	task := NewTask(t, owner, "Tagged", nil, "Errands", "home office")
	require.NoError(t, b.CreateTask(ctx, task, nil))
	require.NoError(t, b.CreateTask(ctx, NewTask(t, owner, "Also", nil, "errands"), nil))

	_, err := b.DeleteTask(ctx, owner, task.ID)
	require.NoError(t, err)

	tags, err := b.ListTags(ctx, owner)
	require.NoError(t, err)
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
		assert.Equal(t, owner, tag.OwnerID)
	}
	assert.Equal(t, []string{"errands", "home office"}, names)

	other, err := b.ListTags(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testReminders(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	due := baseTime.Add(time.Hour)
	task := NewTask(t, owner, "Meeting", &due)
	require.NoError(t, b.CreateTask(ctx, task, nil))

	first, err := domain.NewReminder(task, domain.Offset30Minutes, baseTime)
	require.NoError(t, err)
	first.JobHandle = first.ID.String()
	require.NoError(t, b.SaveReminder(ctx, first))

	replacement, err := domain.NewReminder(task, domain.Offset30Minutes, baseTime)
	require.NoError(t, err)
	require.NoError(t, b.SaveReminder(ctx, replacement))

	other, err := domain.NewReminder(task, domain.Offset5Minutes, baseTime)
	require.NoError(t, err)
	require.NoError(t, b.SaveReminder(ctx, other))

	listed, err := b.ListReminders(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	got, err := b.GetReminder(ctx, owner, task.ID, domain.Offset30Minutes)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)
	assert.True(t, due.Add(-30*time.Minute).Equal(got.FireAt))

	ok, err := b.TransitionReminder(ctx, first, domain.ReminderPending, domain.ReminderSent)
	require.NoError(t, err)
	assert.False(t, ok, "a replaced reminder cannot transition")

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := *replacement
			ok, err := b.TransitionReminder(ctx, &r, domain.ReminderPending, domain.ReminderSent)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())

	pending, err := b.ListPendingReminders(ctx)
	require.NoError(t, err)
	var ours []*domain.Reminder
	for _, r := range pending {
		if r.OwnerID == owner {
			ours = append(ours, r)
		}
	}
	require.Len(t, ours, 1)
	assert.Equal(t, other.ID, ours[0].ID)

	_, err = b.GetReminder(ctx, uuid.New(), task.ID, domain.Offset30Minutes)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAudit(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := uuid.New()
	task := uuid.New()

	recs := make([]*domain.AuditRecord, 3)
	for i := range recs {
		recs[i] = &domain.AuditRecord{
			ID:        uuid.New(),
			EventID:   uuid.New(),
			OwnerID:   owner,
			TaskID:    task,
			EventType: domain.AuditInstanceCreated,
			Payload:   []byte(`{"title":"x"}`),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, b.AppendAudit(ctx, recs[i]))
	}

	dup := *recs[0]
	dup.ID = uuid.New()
	assert.ErrorIs(t, b.AppendAudit(ctx, &dup), store.ErrDuplicate)

	all, err := b.ListAudit(ctx, owner, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		assert.Equal(t, recs[i].EventID, rec.EventID)
	}
	assert.JSONEq(t, `{"title":"x"}`, string(all[0].Payload))

	recent, err := b.ListAudit(ctx, owner, baseTime.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, recs[1].EventID, recent[0].EventID)
}

func titles(tasks []*domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}
