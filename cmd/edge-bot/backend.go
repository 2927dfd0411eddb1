package main

import (
	"context"
	"fmt"

	"github.com/acedge123/edge-bot/internal/config"
	"github.com/acedge123/edge-bot/internal/gateway"
	"github.com/acedge123/edge-bot/internal/pgstore"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/storage"
	"github.com/acedge123/edge-bot/internal/supabase"
	"github.com/acedge123/edge-bot/internal/writeback"
)

type getter interface {
	Get(ctx context.Context, jobID string) (*queue.Record, error)
}

// backend is the job store plus the write-back sink living beside it.
// Enqueuer and Getter are nil for the hosted REST backend.
type backend struct {
	Client   queue.Client
	Recorder writeback.Recorder
	Enqueuer queue.Enqueuer
	Getter   getter
	close    func()
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	q := cfg.Queue
	switch q.Backend {
	case config.BackendREST:
		c := supabase.New(supabase.Config{
			URL:            q.Supabase.URL,
			Key:            q.Supabase.Key(),
			WorkerID:       cfg.Worker.ID,
			WritebackTable: q.WritebackTable,
			Timeout:        q.Supabase.Timeout,
		})
		return &backend{Client: c, Recorder: c}, nil

	case config.BackendPostgres:
		pool, err := pgstore.OpenPool(ctx, q.Postgres.URL, pgstore.PoolOptions{
			MaxConns:         q.Postgres.MaxConns,
			StatementTimeout: q.Postgres.StatementTimeout,
			ConnectAttempts:  q.Postgres.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		s := pgstore.New(pool, cfg.Worker.ID)
		return &backend{Client: s, Recorder: s, Enqueuer: s, Getter: s, close: pool.Close}, nil

	case config.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, q.SQLite.Path)
		if err != nil {
			return nil, err
		}
		s := queue.NewSQLite(db, cfg.Worker.ID)
		return &backend{
			Client:   s,
			Recorder: writeback.NewSQLite(db),
			Enqueuer: s,
			Getter:   s,
			close:    func() { _ = db.Close() },
		}, nil

	default:
		return nil, &config.ConfigError{Field: "queue.backend", Err: fmt.Errorf("unknown backend %q", q.Backend)}
	}
}

func newAgent(cfg *config.Config) gateway.Agent {
	g := cfg.Gateway
	if g.Transport == config.TransportCLI {
		return gateway.NewCLIClient(gateway.CLIConfig{
			Path:        g.CLIPath,
			URL:         g.URL,
			Token:       g.Token,
			Timeout:     g.Timeout,
			GracePeriod: g.GracePeriod,
		})
	}
	return gateway.NewHTTPClient(g.URL, g.Token, g.Timeout, nil)
}
