package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/cadence-api/internal/api"
	"github.com/phrazzld/cadence-api/internal/auth"
	"github.com/phrazzld/cadence-api/internal/config"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/runtime"
)

// application holds the process-wide dependencies. The runtime-bound
// components live in core and are replaced together on a re-probe.
type application struct {
	config    *config.Config
	logger    *slog.Logger
	selector  *runtime.Selector
	tokens    auth.TokenService
	hub       *notify.Hub
	startedAt time.Time

	core    atomic.Pointer[core]
	swapMu  sync.Mutex
	baseCtx context.Context
}

var _ api.Controller = (*application)(nil)

// newApplication binds a runtime and builds every component. A nil
// selector uses runtime.DefaultFactories.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	selector *runtime.Selector,
) (*application, error) {
	if selector == nil {
		selector = runtime.NewSelector(runtime.DefaultFactories(), logger)
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	app := &application{
		config:    cfg,
		logger:    logger,
		selector:  selector,
		tokens:    tokens,
		hub:       notify.NewHub(notify.ConfigFrom(cfg.Notify), logger),
		startedAt: time.Now().UTC(),
		baseCtx:   ctx,
	}

	binding, err := selector.Select(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := buildCore(cfg, binding, app.hub, logger)
	if err != nil {
		_ = binding.Close()
		return nil, err
	}
	if err := c.start(ctx); err != nil {
		_ = c.stop()
		return nil, err
	}
	app.core.Store(c)
	app.hub.Start(ctx)

	logger.Info("application initialized",
		slog.String("mode", string(binding.Mode)),
		slog.String("backend", binding.Backend.Name()))
	return app, nil
}

// Run serves HTTP until ctx is done, then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// repository returns the repository of the current core.
func (app *application) repository() repository.Repository {
	return app.core.Load().repo
}

// Mode implements api.Controller.
func (app *application) Mode() runtime.Mode {
	return app.core.Load().binding.Mode
}

// StartedAt implements api.Controller.
func (app *application) StartedAt() time.Time {
	return app.startedAt
}

// Connections implements api.Controller.
func (app *application) Connections() int {
	return app.hub.Connections()
}

// Reprobe implements api.Controller. Only a degraded process switches; a
// distributed one just reports reachability.
func (app *application) Reprobe(ctx context.Context) (bool, error) {
	app.swapMu.Lock()
	defer app.swapMu.Unlock()

	if app.Mode() == runtime.ModeDistributed {
		return false, app.selector.Probe(ctx, app.config.Runtime)
	}

	binding, err := app.selector.Distributed(ctx, app.config)
	if err != nil {
		return false, err
	}

	next, err := buildCore(app.config, binding, app.hub, app.logger)
	if err != nil {
		_ = binding.Close()
		return false, err
	}
	if err := next.start(app.baseCtx); err != nil {
		_ = next.stop()
		return false, err
	}

	prev := app.core.Swap(next)
	if err := prev.stop(); err != nil {
		app.logger.Warn("previous runtime did not stop cleanly", slog.String("error", err.Error()))
	}
	app.logger.Info("switched runtime",
		slog.String("from", string(prev.binding.Mode)),
		slog.String("to", string(next.binding.Mode)))
	return true, nil
}

// cleanup stops the stream hub and the current core.
func (app *application) cleanup() {
	app.hub.Stop()
	if c := app.core.Load(); c != nil {
		if err := c.stop(); err != nil {
			app.logger.Error("error stopping components", slog.String("error", err.Error()))
		}
	}
	app.logger.Info("application shutdown completed")
}
