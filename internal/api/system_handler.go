package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/cadence-api/internal/api/shared"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/runtime"
)

// Controller exposes the process runtime to operators.
type Controller interface {
	Mode() runtime.Mode
	StartedAt() time.Time
	Connections() int

	// Reprobe checks the distributed runtime. When it is reachable and the
	// process is degraded, the component graph is rebuilt on it and
	// switched reports true.
	Reprobe(ctx context.Context) (switched bool, err error)
}

// SystemHandler serves the operator endpoints.
type SystemHandler struct {
	controller Controller
	logger     *slog.Logger
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(controller Controller, logger *slog.Logger) *SystemHandler {
	if controller == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("controller cannot be nil for SystemHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SystemHandler")
	}
	return &SystemHandler{
		controller: controller,
		logger:     logger.With(slog.String("component", "system_handler")),
	}
}

// Status handles GET /api/system/status.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, StatusResponse{
		Mode:        string(h.controller.Mode()),
		Connections: int64(h.controller.Connections()),
		StartedAt:   h.controller.StartedAt().UTC(),
	})
}

// Reprobe handles POST /api/system/reprobe. An unreachable runtime is
// reported in the body, not as a failed request.
func (h *SystemHandler) Reprobe(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	switched, err := h.controller.Reprobe(r.Context())
	resp := ReprobeResponse{
		Reachable: err == nil,
		Switched:  switched,
		Mode:      string(h.controller.Mode()),
	}
	if err != nil {
		log.Warn("re-probe failed", slog.String("error", err.Error()))
		resp.Error = GetSafeErrorMessage(err)
	} else {
		log.Info("re-probe succeeded",
			slog.Bool("switched", switched),
			slog.String("mode", resp.Mode))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
