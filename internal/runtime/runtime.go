package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/cadence-api/internal/config"
	"github.com/phrazzld/cadence-api/internal/events"
	"github.com/phrazzld/cadence-api/internal/jobs"
	"github.com/phrazzld/cadence-api/internal/platform/kvstore"
	"github.com/phrazzld/cadence-api/internal/platform/natsrt"
	"github.com/phrazzld/cadence-api/internal/platform/postgres"
	"github.com/phrazzld/cadence-api/internal/store"
)

// Mode reports which binding the process runs on.
type Mode string

// Possible modes
const (
	ModeDistributed Mode = "distributed"
	ModeDegraded    Mode = "degraded"
)

// ErrBackendUnavailable is returned when a backend cannot be reached.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Binding is one consistent set of storage, messaging and job persistence.
type Binding struct {
	Mode    Mode
	Backend store.Backend
	Bus     events.Bus
	Jobs    jobs.Store

	closers []func() error
}

// NewBinding assembles a Binding. closers run in reverse order on Close.
func NewBinding(mode Mode, backend store.Backend, bus events.Bus, jobStore jobs.Store, closers ...func() error) *Binding {
	return &Binding{Mode: mode, Backend: backend, Bus: bus, Jobs: jobStore, closers: closers}
}

// Close releases every resource the binding owns.
func (b *Binding) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Factories builds the pieces Select chooses between. Tests replace them.
type Factories struct {
	Probe       func(ctx context.Context, cfg config.RuntimeConfig) error
	Distributed func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Binding, error)
	Degraded    func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Binding, error)
}

// DefaultFactories binds NATS JetStream and PostgreSQL.
func DefaultFactories() Factories {
	return Factories{
		Probe:       natsrt.Probe,
		Distributed: distributedBinding,
		Degraded:    degradedBinding,
	}
}

// Selector picks a Binding.
type Selector struct {
	factories Factories
	logger    *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(factories Factories, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		factories: factories,
		logger:    logger.With(slog.String("component", "runtime_selector")),
	}
}

// Select probes the distributed runtime and returns a distributed binding
// when it answers within the probe timeout, or a degraded binding
// otherwise. It fails only when neither binding can be built.
func (s *Selector) Select(ctx context.Context, cfg *config.Config) (*Binding, error) {
	binding, err := s.Distributed(ctx, cfg)
	if err == nil {
		return binding, nil
	}

	s.logger.WarnContext(ctx, "distributed runtime unavailable, starting in degraded mode",
		slog.String("error", err.Error()),
		slog.String("nats_url", cfg.Runtime.NATSURL))

	binding, err = s.factories.Degraded(ctx, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback backend: %w", ErrBackendUnavailable, err)
	}
	s.logger.InfoContext(ctx, "bound fallback backend",
		slog.String("mode", string(binding.Mode)),
		slog.String("backend", binding.Backend.Name()))
	return binding, nil
}

// Distributed probes the runtime and builds a distributed binding. It
// never falls back; the re-probe action uses it directly.
func (s *Selector) Distributed(ctx context.Context, cfg *config.Config) (*Binding, error) {
	if err := s.Probe(ctx, cfg.Runtime); err != nil {
		return nil, err
	}
	binding, err := s.factories.Distributed(ctx, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	s.logger.InfoContext(ctx, "bound distributed runtime",
		slog.String("backend", binding.Backend.Name()))
	return binding, nil
}

// Probe reports whether the distributed runtime is reachable within
// cfg.ProbeTimeout. The error wraps ErrBackendUnavailable.
func (s *Selector) Probe(ctx context.Context, cfg config.RuntimeConfig) error {
	if err := s.factories.Probe(ctx, cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// Select is NewSelector(DefaultFactories(), logger).Select.
func Select(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Binding, error) {
	return NewSelector(DefaultFactories(), logger).Select(ctx, cfg)
}

// Probe is NewSelector(DefaultFactories(), nil).Probe.
func Probe(ctx context.Context, cfg config.RuntimeConfig) error {
	return NewSelector(DefaultFactories(), nil).Probe(ctx, cfg)
}

func distributedBinding(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Binding, error) {
	rt, err := natsrt.Connect(ctx, cfg.Runtime, logger)
	if err != nil {
		return nil, err
	}
	return NewBinding(ModeDistributed, kvstore.New(rt.State(), logger), rt.Bus(), rt.Jobs(), rt.Close), nil
}

func degradedBinding(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Binding, error) {
	db, err := postgres.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	backend := postgres.New(db, logger)
	bus := events.NewMemoryBus(events.DefaultBufferSize, logger)
	return NewBinding(ModeDegraded, backend, bus, jobs.NewMemoryStore(), backend.Close, bus.Close), nil
}
