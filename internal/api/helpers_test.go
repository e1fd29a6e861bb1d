package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/auth"
	"github.com/phrazzld/cadence-api/internal/mocks"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/runtime"
)

const (
	validToken    = "valid-token"
	operatorToken = "operator-secret"
)

type fakeController struct {
	mode      runtime.Mode
	startedAt time.Time
	conns     int
	switched  bool
	err       error
	calls     int
}

func (c *fakeController) Mode() runtime.Mode   { return c.mode }
func (c *fakeController) StartedAt() time.Time { return c.startedAt }
func (c *fakeController) Connections() int     { return c.conns }

func (c *fakeController) Reprobe(ctx context.Context) (bool, error) {
	c.calls++
	if c.err == nil && c.switched {
		c.mode = runtime.ModeDistributed
	}
	return c.switched, c.err
}

type testEnv struct {
	owner      uuid.UUID
	repo       *mocks.MockRepository
	hub        *notify.Hub
	controller *fakeController
	router     http.Handler
}

func newTestEnv(t *testing.T, hubCfg notify.Config) *testEnv {
	t.Helper()

	env := &testEnv{
		owner: uuid.New(),
		repo:  &mocks.MockRepository{},
		hub:   notify.NewHub(hubCfg, logger.Discard()),
		controller: &fakeController{
			mode:      runtime.ModeDegraded,
			startedAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		},
	}
	t.Cleanup(env.hub.Stop)

	tokens := &mocks.MockTokenService{
		ValidateTokenFn: func(_ context.Context, token string) (*auth.Claims, error) {
			if token != validToken {
				return nil, auth.ErrInvalidToken
			}
			return &auth.Claims{OwnerID: env.owner, Subject: env.owner.String()}, nil
		},
	}

	env.router = NewRouter(RouterDeps{
		Tokens:        tokens,
		Repository:    func() repository.Repository { return env.repo },
		Hub:           env.hub,
		Controller:    env.controller,
		OperatorToken: operatorToken,
		Logger:        logger.Discard(),
	})
	return env
}

func authorized(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+validToken)
	return req
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
