package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readFrame reads lines up to the blank line that ends an SSE frame.
func readFrame(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	frame := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return frame
		}
		key, value, _ := strings.Cut(line, ": ")
		frame[key] = value
	}
}

func openStream(t *testing.T, srv *httptest.Server, target string, header http.Header) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStreamDeliversOwnerReminders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{HeartbeatInterval: time.Hour})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	resp := openStream(t, srv, "/api/notifications/stream?access_token="+validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return env.hub.Connections() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, env.hub.Publish(domain.NotificationEvent{OwnerID: uuid.New(), Title: "not mine"}))
	assert.Equal(t, 1, env.hub.Publish(domain.NotificationEvent{
		ReminderID: uuid.New(),
		TaskID:     uuid.New(),
		OwnerID:    env.owner,
		Title:      "Pay rent",
		OffsetType: domain.Offset30Minutes,
		Message:    "Pay rent is due in 30 minutes",
	}))

	frame := readFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, notify.EventReminder, frame["event"])
	assert.Equal(t, "2", frame["id"])
	assert.Contains(t, frame["data"], `"title":"Pay rent"`)
	assert.NotContains(t, frame["data"], "not mine")
}

func TestStreamSendsGapNoticeOnReconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{HeartbeatInterval: time.Hour})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+validToken)
	header.Set(LastEventIDHeader, "42")
	resp := openStream(t, srv, "/api/notifications/stream", header)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := readFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, notify.EventError, frame["event"])
	assert.Contains(t, frame["data"], `"type":"events_missed"`)
	assert.Contains(t, frame["data"], `"last_event_id":"42"`)
}

func TestStreamRejections(t *testing.T) {
	t.Parallel()

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})
		rec := serve(env, httptest.NewRequest(http.MethodGet, "/api/notifications/stream?access_token=forged", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, env.hub.Connections())
	})

	t.Run("connection cap", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{MaxConnections: 1})
		_, err := env.hub.Register(uuid.New(), "")
		require.NoError(t, err)

		rec := serve(env, authorized(httptest.NewRequest(http.MethodGet, "/api/notifications/stream", nil)))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("Retry-After"))
		assert.Equal(t, 1, env.hub.Connections())
	})
}
