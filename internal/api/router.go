package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/cadence-api/internal/api/middleware"
	"github.com/phrazzld/cadence-api/internal/auth"
	"github.com/phrazzld/cadence-api/internal/notify"
)

// RouterDeps are the collaborators of the HTTP surface.
type RouterDeps struct {
	Tokens        auth.TokenService
	Repository    RepositoryFunc
	Hub           *notify.Hub
	Controller    Controller
	OperatorToken string
	Logger        *slog.Logger
}

// NewRouter builds the chi router with middleware and every route.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(log))

	authMiddleware := middleware.NewAuthMiddleware(deps.Tokens)
	taskHandler := NewTaskHandler(deps.Repository, log)
	streamHandler := NewStreamHandler(deps.Hub, log)
	systemHandler := NewSystemHandler(deps.Controller, log)

	r.Route("/api", func(r chi.Router) {
		r.With(authMiddleware.AuthenticateStream).
			Get("/notifications/stream", streamHandler.Stream)

		r.Get("/system/status", systemHandler.Status)
		r.With(middleware.RequireOperatorToken(deps.OperatorToken)).
			Post("/system/reprobe", systemHandler.Reprobe)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/tasks", taskHandler.CreateTask)
			r.Get("/tasks", taskHandler.ListTasks)
			r.Get("/tasks/search", taskHandler.SearchTasks)
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Put("/tasks/{id}", taskHandler.UpdateTask)
			r.Post("/tasks/{id}/complete", taskHandler.CompleteTask)
			r.Delete("/tasks/{id}", taskHandler.DeleteTask)
			r.Get("/tags", taskHandler.ListTags)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("failed to write health check response", slog.String("error", err.Error()))
		}
	})

	return r
}
