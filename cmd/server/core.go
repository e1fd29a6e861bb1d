package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/cadence-api/internal/audit"
	"github.com/phrazzld/cadence-api/internal/config"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/jobs"
	"github.com/phrazzld/cadence-api/internal/notify"
	"github.com/phrazzld/cadence-api/internal/reminder"
	"github.com/phrazzld/cadence-api/internal/repository"
	"github.com/phrazzld/cadence-api/internal/runtime"
)

// core is every component bound to one runtime binding. A re-probe builds
// a fresh core and swaps it in whole.
type core struct {
	binding   *runtime.Binding
	publisher *events.Publisher
	scheduler *reminder.Scheduler
	repo      repository.Repository
	audit     *audit.Logger
	notifier  *notify.Subscriber
	logger    *slog.Logger
}

// buildCore wires the component graph over binding. Nothing runs until
// start is called.
func buildCore(cfg *config.Config, binding *runtime.Binding, hub *notify.Hub, logger *slog.Logger) (*core, error) {
	c := &core{
		binding:   binding,
		publisher: events.NewPublisher(binding.Bus, logger),
		logger:    logger.With(slog.String("mode", string(binding.Mode))),
	}

	runnerCfg := jobs.DefaultRunnerConfig()
	runnerCfg.SweepInterval = cfg.Scheduler.SweepInterval

	var err error
	c.scheduler, err = reminder.NewScheduler(binding.Backend, binding.Jobs, c.publisher, runnerCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder scheduler: %w", err)
	}

	c.repo, err = repository.New(repository.Deps{
		Backend:   binding.Backend,
		Publisher: c.publisher,
		Reminders: c.scheduler,
		Mode:      binding.Mode,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	c.audit, err = audit.NewLogger(binding.Backend, binding.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	// Events the bus rejected are still written to the audit trail.
	c.publisher.SetErrorSink(func(ctx context.Context, event *events.Event, _ error) {
		_ = c.audit.HandleEvent(ctx, event)
	})

	c.notifier, err = notify.NewSubscriber(hub, binding.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification subscriber: %w", err)
	}
	return c, nil
}

// start subscribes the consumers, re-registers pending reminders when the
// job store is process-local, and begins firing jobs.
func (c *core) start(ctx context.Context) error {
	if err := c.audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit logger: %w", err)
	}
	if err := c.notifier.Start(); err != nil {
		return fmt.Errorf("failed to start notification subscriber: %w", err)
	}

	if c.binding.Mode == runtime.ModeDegraded {
		n, err := c.scheduler.Recover(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "some pending reminders could not be recovered",
				slog.Int("recovered", n),
				slog.String("error", err.Error()))
		}
	}

	if err := c.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}
	c.logger.InfoContext(ctx, "components started",
		slog.String("backend", c.binding.Backend.Name()))
	return nil
}

// stop halts job firing, detaches the consumers and releases the binding.
func (c *core) stop() error {
	c.scheduler.Stop()

	var errs []error
	if err := c.notifier.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("notification subscriber: %w", err))
	}
	if err := c.audit.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("audit logger: %w", err))
	}
	if err := c.binding.Close(); err != nil {
		errs = append(errs, fmt.Errorf("binding: %w", err))
	}

	stats := c.audit.Stats()
	c.logger.Info("components stopped",
		slog.Int64("audit_recorded", stats.Recorded),
		slog.Int64("audit_failures", stats.Failures),
		slog.Int64("publish_failures", c.publisher.Failures()))
	return errors.Join(errs...)
}
