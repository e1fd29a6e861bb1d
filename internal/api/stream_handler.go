package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/cadence-api/internal/api/shared"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
)

// LastEventIDHeader carries the id of the last frame a reconnecting
// EventSource client saw.
const LastEventIDHeader = "Last-Event-ID"

// StreamHandler serves the notification stream.
type StreamHandler struct {
	hub    *notify.Hub
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(hub *notify.Hub, logger *slog.Logger) *StreamHandler {
	if hub == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("hub cannot be nil for StreamHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StreamHandler")
	}
	return &StreamHandler{
		hub:    hub,
		logger: logger.With(slog.String("component", "stream_handler")),
	}
}

// Stream handles GET /api/notifications/stream. It holds the request open
// until the client disconnects or the hub drops the connection.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	owner, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner not authenticated")
		return
	}

	lastEventID := r.Header.Get(LastEventIDHeader)
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("last_event_id")
	}

	conn, err := h.hub.Register(owner, lastEventID)
	if err != nil {
		if errors.Is(err, notify.ErrTooManyConnections) {
			w.Header().Set("Retry-After", "5")
		}
		HandleAPIError(w, r, err, "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug("initial flush failed", slog.String("error", err.Error()))
		h.hub.Unregister(conn)
		return
	}

	log.Info("notification stream opened",
		slog.String("owner_id", owner.String()),
		slog.String("conn_id", conn.ID().String()))

	if err := conn.Serve(r.Context(), w); err != nil {
		log.Info("notification stream write failed",
			slog.String("conn_id", conn.ID().String()),
			slog.String("error", err.Error()))
		return
	}
	log.Info("notification stream closed",
		slog.String("conn_id", conn.ID().String()),
		slog.Int64("dropped_frames", conn.Dropped()))
}
