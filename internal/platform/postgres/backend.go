package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/phrazzld/cadence-api/internal/store"
)

// Backend implements store.Backend on PostgreSQL.
type Backend struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Backend over db. The caller owns db unless Close is called.
// It panics if db is nil.
func New(db *sql.DB, logger *slog.Logger) *Backend {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		db:     db,
		logger: logger.With(slog.String("component", "postgres_backend")),
		now:    time.Now,
	}
}

var _ store.Backend = (*Backend)(nil)

// Name implements store.Backend.
func (b *Backend) Name() string { return "postgres" }

// Close implements store.Backend.
func (b *Backend) Close() error { return b.db.Close() }

// DB returns the underlying connection pool.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) inTx(ctx context.Context, fn store.TxFn) error {
	return store.RunInTransaction(ctx, b.db, nil, fn)
}
