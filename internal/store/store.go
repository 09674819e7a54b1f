// Package store owns the relational connection pool, schema migrations, and
// the transactional scope every other service builds on.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Queryer is satisfied identically by *pgxpool.Pool and pgx.Tx, so helpers
// that run a handful of statements can be handed either a pool connection or
// an open transaction without duplicating their SQL.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open creates a pooled Postgres connection and verifies connectivity.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Multi-statement writes that go through this
// helper become visible atomically; not every multi-statement service
// operation uses it (chat.Service.MarkRead, for one, runs its writes
// separately).
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SlowQueryThreshold is the duration past which a query is logged as slow.
const SlowQueryThreshold = 100 * time.Millisecond

// LogSlow logs a completed query if it ran past SlowQueryThreshold.
func LogSlow(ctx context.Context, op string, started time.Time) {
	if d := time.Since(started); d >= SlowQueryThreshold {
		log.Ctx(ctx).Warn().Str("op", op).Dur("duration", d).Msg("slow query")
	}
}
