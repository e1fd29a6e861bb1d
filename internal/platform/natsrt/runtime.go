package natsrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/cadence-api/internal/config"
)

// ErrUnreachable is returned when the NATS server or its JetStream
// subsystem cannot be reached.
var ErrUnreachable = errors.New("nats runtime unreachable")

// Runtime is a live connection to the distributed runtime.
type Runtime struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	state  *KVState
	jobs   *JobStore
	bus    *Bus
	logger *slog.Logger
}

func connectOptions(cfg config.RuntimeConfig) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(cfg.ProbeTimeout),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}
	return opts
}

// Probe reports whether the runtime at cfg.NATSURL is reachable with
// JetStream enabled. It never retries.
func Probe(ctx context.Context, cfg config.RuntimeConfig) error {
	if cfg.NATSURL == "" {
		return fmt.Errorf("%w: no url configured", ErrUnreachable)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	conn, err := nats.Connect(cfg.NATSURL, connectOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if _, err := js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("%w: jetstream: %v", ErrUnreachable, err)
	}
	return nil
}

// Connect opens the runtime and ensures the state and jobs buckets exist.
func Connect(ctx context.Context, cfg config.RuntimeConfig, logger *slog.Logger) (*Runtime, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("%w: no url configured", ErrUnreachable)
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.NATSURL, connectOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stateKV, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.StateBucket,
		Description: "cadence task state",
		History:     1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: create state bucket: %v", ErrUnreachable, err)
	}

	jobsKV, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.JobsBucket,
		Description: "cadence scheduled jobs",
		History:     1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: create jobs bucket: %v", ErrUnreachable, err)
	}

	logger = logger.With("component", "nats_runtime")
	logger.Info("connected to distributed runtime",
		"url", conn.ConnectedUrlRedacted(),
		"state_bucket", cfg.StateBucket,
		"jobs_bucket", cfg.JobsBucket)

	return &Runtime{
		conn:   conn,
		js:     js,
		state:  NewKVState(stateKV),
		jobs:   NewJobStore(jobsKV),
		bus:    NewBus(conn, cfg.SubjectPrefix, logger),
		logger: logger,
	}, nil
}

// State returns the keyed state store.
func (r *Runtime) State() *KVState { return r.state }

// Jobs returns the scheduled job store.
func (r *Runtime) Jobs() *JobStore { return r.jobs }

// Bus returns the pub/sub transport.
func (r *Runtime) Bus() *Bus { return r.bus }

// Close drains subscriptions and closes the connection.
func (r *Runtime) Close() error {
	_ = r.bus.Close()
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
