package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/domain/recurrence"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/reminder"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleTask(owner uuid.UUID, title string) *domain.Task {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return &domain.Task{
		ID:        uuid.New(),
		OwnerID:   owner,
		Title:     title,
		Priority:  domain.PriorityMedium,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	t.Run("stores the task", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})
		task := sampleTask(env.owner, "Pay rent")

		env.repo.On("Create", mock.Anything, env.owner, mock.MatchedBy(func(in domain.TaskInput) bool {
			return in.Title == "Pay rent" &&
				in.DueDate != nil &&
				len(in.ReminderOffsets) == 1 && in.ReminderOffsets[0] == domain.Offset30Minutes &&
				in.Recurrence != nil && in.Recurrence.Frequency == domain.FrequencyWeekly
		})).Return(task, nil).Once()

		body := `{"title":"Pay rent","due_date":"2026-11-01T09:00:00Z","reminder_offsets":["30m"],
			"recurrence":{"frequency":"weekly","occurrence_cap":3}}`
		rec := serve(env, authorized(httptest.NewRequest(http.MethodPost, "/api/tasks", jsonBody(body))))

		require.Equal(t, http.StatusCreated, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, task.ID.String(), got["id"])
		assert.Equal(t, "Pay rent", got["title"])
		assert.NotContains(t, got, "warning")
		env.repo.AssertExpectations(t)
	})

	t.Run("scheduling failure keeps the task", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})
		task := sampleTask(env.owner, "Call mom")

		env.repo.On("Create", mock.Anything, env.owner, mock.Anything).
			Return(task, fmt.Errorf("%w: job store down", reminder.ErrSchedulingFailure)).Once()

		rec := serve(env, authorized(httptest.NewRequest(http.MethodPost, "/api/tasks", jsonBody(`{"title":"Call mom"}`))))

		require.Equal(t, http.StatusCreated, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, schedulingWarning, got["warning"])
	})

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing title", `{"description":"x"}`, "Invalid Title: required field"},
		{"bad priority", `{"title":"x","priority":"urgent"}`, "Invalid Priority: invalid value"},
		{"bad offset", `{"title":"x","reminder_offsets":["2h"]}`, "Invalid ReminderOffsets[0]: invalid value"},
		{"unknown field", `{"title":"x","owner_id":"abc"}`, "Invalid request format"},
		{"empty body", ``, "Request body is required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, notify.Config{})

			rec := serve(env, authorized(httptest.NewRequest(http.MethodPost, "/api/tasks", jsonBody(tt.body))))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
			env.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTaskRoutesRequireAuthentication(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})

	for _, target := range []string{"/api/tasks", "/api/tags", "/api/tasks/" + uuid.NewString()} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusUnauthorized, serve(env, req).Code, target)

		req = httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer forged")
		assert.Equal(t, http.StatusUnauthorized, serve(env, req).Code, target)
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	task := sampleTask(env.owner, "Water plants")
	missing := uuid.New()

	env.repo.On("Get", mock.Anything, env.owner, task.ID).Return(task, nil).Once()
	env.repo.On("Get", mock.Anything, env.owner, missing).Return(nil, store.ErrTaskNotFound).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks/"+task.ID.String(), nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Water plants")

	rec = serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks/"+missing.String(), nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Task not found")

	rec = serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks/not-a-uuid", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.repo.AssertExpectations(t)
}

func TestUpdateTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	task := sampleTask(env.owner, "Renamed")

	env.repo.On("Update", mock.Anything, env.owner, task.ID, mock.MatchedBy(func(p domain.TaskPatch) bool {
		return p.Title != nil && *p.Title == "Renamed" &&
			p.Priority != nil && *p.Priority == domain.PriorityHigh &&
			p.ReminderOffsets != nil && len(*p.ReminderOffsets) == 0 &&
			p.ClearDueDate && p.Completed == nil
	})).Return(task, nil).Once()

	body := `{"title":"Renamed","priority":"high","reminder_offsets":[],"clear_due_date":true}`
	rec := serve(env, authorized(httptest.NewRequest(http.MethodPut, "/api/tasks/"+task.ID.String(), jsonBody(body))))

	assert.Equal(t, http.StatusOK, rec.Code)
	env.repo.AssertExpectations(t)
}

func TestUpdateTaskConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	id := uuid.New()

	env.repo.On("Update", mock.Anything, env.owner, id, mock.Anything).Return(nil, store.ErrConflict).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodPut, "/api/tasks/"+id.String(), jsonBody(`{"completed":true}`))))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	done := sampleTask(env.owner, "Standup")
	done.Completed = true
	next := sampleTask(env.owner, "Standup")

	env.repo.On("Complete", mock.Anything, env.owner, done.ID).Return(&repository.CompletionResult{
		Task:         done,
		CompletedNow: true,
		Outcome:      recurrence.OutcomeCreated,
		Successor:    next,
	}, nil).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodPost, "/api/tasks/"+done.ID.String()+"/complete", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got CompleteTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.CompletedNow)
	assert.Equal(t, "created", got.Outcome)
	require.NotNil(t, got.Successor)
	assert.Equal(t, next.ID, got.Successor.ID)
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	id := uuid.New()

	env.repo.On("Delete", mock.Anything, env.owner, id).Return(nil).Once()
	env.repo.On("DeleteSeries", mock.Anything, env.owner, id).Return(nil).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id.String(), nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(env, authorized(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id.String()+"?series=true", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(env, authorized(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id.String()+"?series=maybe", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.repo.AssertExpectations(t)
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})

	tasks := make([]*domain.Task, 5)
	for i := range tasks {
		tasks[i] = sampleTask(env.owner, fmt.Sprintf("task %d", i))
	}

	env.repo.On("List", mock.Anything, env.owner, mock.MatchedBy(func(f domain.TaskFilter) bool {
		return f.Completed != nil && !*f.Completed &&
			f.Priority != nil && *f.Priority == domain.PriorityHigh &&
			assert.ObjectsAreEqual([]string{"home", "work"}, f.Tags) &&
			f.DueBefore != nil
	})).Return(tasks, nil).Once()

	target := "/api/tasks?completed=false&priority=HIGH&tag=home,work&due_before=2026-12-01T00:00:00Z&limit=2&offset=2"
	rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, target, nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 5, got.Total)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "task 2", got.Tasks[0].Title)
	assert.Equal(t, "task 3", got.Tasks[1].Title)
	env.repo.AssertExpectations(t)
}

func TestListTasksRejectsBadFilters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})

	for _, query := range []string{"completed=perhaps", "priority=urgent", "due_after=tomorrow", "limit=-1", "rule_id=x"} {
		rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks?"+query, nil)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	env.repo.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchTasks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	hit := sampleTask(env.owner, "Buy groceries")

	env.repo.On("Search", mock.Anything, env.owner, "grocer", domain.TaskFilter{}, domain.Page{Limit: 10, Offset: 0}).
		Return([]*domain.Task{hit}, 1, nil).Once()
	env.repo.On("Search", mock.Anything, env.owner, "nothing", domain.TaskFilter{}, domain.Page{Limit: domain.DefaultPageLimit}).
		Return(nil, 0, nil).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks/search?q=grocer&limit=10", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	var got TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Total)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, hit.ID, got.Tasks[0].ID)

	rec = serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tasks/search?q=nothing", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tasks":[],"total":0,"limit":20,"offset":0}`, rec.Body.String())

	env.repo.AssertExpectations(t)
}

func TestListTags(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})

	env.repo.On("ListTags", mock.Anything, env.owner).Return([]domain.Tag{
		{OwnerID: env.owner, Name: "home"},
		{OwnerID: env.owner, Name: "work"},
	}, nil).Once()

	rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/tags", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got TagListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Tags, 2)
	assert.Equal(t, "home", got.Tags[0].Name)
}
