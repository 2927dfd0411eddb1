// Package pgstore is the direct Postgres queue backend. It calls the same
// claim_next_job / complete_job functions the REST backend reaches through
// PostgREST, so both backends share one schema (see migrations/).
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/migrations"
)

// PoolOptions tunes the connection pool.
type PoolOptions struct {
	MaxConns         int32
	StatementTimeout time.Duration
	ConnectAttempts  int
}

// OpenPool creates a pool and pings it, retrying with linear backoff so the
// worker can start alongside a database that is still booting.
func OpenPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	logger := log.WithComponent("pgstore")
	var (
		pool    *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = pool.Ping(ctx); connErr == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("database not ready, retrying", "attempt", attempt, "error", connErr)

		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("database unavailable after %d attempts: %w", attempts, connErr)
}

// Migrate applies the embedded migrations and returns the resulting schema
// version. An up-to-date schema is not an error.
func Migrate(dsn string) (uint, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return 0, fmt.Errorf("parse database url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return version, nil
}
