package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})
	env.controller.conns = 3

	rec := serve(env, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"degraded","connections":3,"started_at":"2026-10-01T08:00:00Z"}`, rec.Body.String())
}

func TestSystemReprobe(t *testing.T) {
	t.Parallel()

	reprobe := func(env *testEnv, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/system/reprobe", nil)
		if token != "" {
			req.Header.Set("X-Operator-Token", token)
		}
		return serve(env, req)
	}

	t.Run("requires operator token", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})

		assert.Equal(t, http.StatusUnauthorized, reprobe(env, "").Code)
		assert.Equal(t, http.StatusUnauthorized, reprobe(env, "wrong").Code)
		assert.Zero(t, env.controller.calls)
	})

	t.Run("switches to distributed", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})
		env.controller.switched = true

		rec := reprobe(env, operatorToken)

		require.Equal(t, http.StatusOK, rec.Code)
		var got ReprobeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, ReprobeResponse{Reachable: true, Switched: true, Mode: "distributed"}, got)
	})

	t.Run("unreachable runtime stays degraded", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, notify.Config{})
		env.controller.err = fmt.Errorf("%w: nats: no servers available", runtime.ErrBackendUnavailable)

		rec := reprobe(env, operatorToken)

		require.Equal(t, http.StatusOK, rec.Code)
		var got ReprobeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.False(t, got.Reachable)
		assert.False(t, got.Switched)
		assert.Equal(t, "degraded", got.Mode)
		assert.Equal(t, "Service unavailable", got.Error)
		assert.NotContains(t, rec.Body.String(), "nats")
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notify.Config{})

	rec := serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
