package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phrazzld/cadence-api/internal/api/shared"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/reminder"
	"github.com/phrazzld/cadence-api/internal/repository"
)

const schedulingWarning = "Task saved but reminders could not be scheduled"

// RepositoryFunc returns the repository bound to the current runtime. It is
// called per request so a runtime swap takes effect without re-routing.
type RepositoryFunc func() repository.Repository

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	repo   RepositoryFunc
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(repo RepositoryFunc, logger *slog.Logger) *TaskHandler {
	if repo == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("repository cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		repo:   repo,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// decodeBody decodes and validates a request body, writing the error
// response on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		HandleAPIError(w, r, err, "")
		return false
	}
	return true
}

// CreateTask handles POST /api/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return
	}

	var req CreateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := h.repo().Create(r.Context(), owner, req.toInput())
	if err != nil && (task == nil || !errors.Is(err, reminder.ErrSchedulingFailure)) {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := TaskResponse{Task: task}
	if err != nil {
		log.Warn("task stored without reminders",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		resp.Warning = schedulingWarning
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndPathUUID(w, r)
	if !ok {
		return
	}

	task, err := h.repo().Get(r.Context(), owner, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskResponse{Task: task})
}

// UpdateTask handles PUT /api/tasks/{id}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	owner, id, ok := ownerAndPathUUID(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := h.repo().Update(r.Context(), owner, id, req.toPatch())
	if err != nil && (task == nil || !errors.Is(err, reminder.ErrSchedulingFailure)) {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := TaskResponse{Task: task}
	if err != nil {
		log.Warn("task updated without reminders",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		resp.Warning = schedulingWarning
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CompleteTask handles POST /api/tasks/{id}/complete.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndPathUUID(w, r)
	if !ok {
		return
	}

	res, err := h.repo().Complete(r.Context(), owner, id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CompleteTaskResponse{
		Task:         res.Task,
		CompletedNow: res.CompletedNow,
		Outcome:      string(res.Outcome),
		Successor:    res.Successor,
	})
}

// DeleteTask handles DELETE /api/tasks/{id}. With series=true the whole
// recurring series is removed.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := ownerAndPathUUID(w, r)
	if !ok {
		return
	}

	series := false
	if v := r.URL.Query().Get("series"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			HandleAPIError(w, r,
				domain.NewValidationError("series", "must be true or false", domain.ErrInvalidFormat), "")
			return
		}
		series = b
	}

	var err error
	if series {
		err = h.repo().DeleteSeries(r.Context(), owner, id)
	} else {
		err = h.repo().Delete(r.Context(), owner, id)
	}
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return
	}

	filter, err := parseTaskFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.repo().List(r.Context(), owner, filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:  paginate(tasks, page),
		Total:  len(tasks),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// SearchTasks handles GET /api/tasks/search.
func (h *TaskHandler) SearchTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return
	}

	filter, err := parseTaskFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, total, err := h.repo().Search(r.Context(), owner, r.URL.Query().Get("q"), filter, page)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// ListTags handles GET /api/tags.
func (h *TaskHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return
	}

	tags, err := h.repo().ListTags(r.Context(), owner)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if tags == nil {
		tags = []domain.Tag{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TagListResponse{Tags: tags})
}

func paginate(tasks []*domain.Task, page domain.Page) []*domain.Task {
	if page.Offset >= len(tasks) {
		return []*domain.Task{}
	}
	end := page.Offset + page.Limit
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[page.Offset:end]
}
