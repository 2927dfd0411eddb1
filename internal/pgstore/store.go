package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/writeback"
)

// SQLSTATE raised by complete_job for an unknown id.
const codeNoDataFound = "P0002"

// Store implements queue.Client, queue.Enqueuer and writeback.Recorder.
type Store struct {
	pool     *pgxpool.Pool
	workerID string
}

func New(pool *pgxpool.Pool, workerID string) *Store {
	return &Store{pool: pool, workerID: workerID}
}

func (s *Store) Claim(ctx context.Context) (*queue.Job, error) {
	var job queue.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, payload, created_at FROM claim_next_job($1)`,
		s.workerID,
	).Scan(&job.ID, &job.Payload, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &queue.QueueError{Op: "claim", Err: err}
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	return &job, nil
}

func (s *Store) Acknowledge(ctx context.Context, jobID string, outcome queue.Outcome, detail string) error {
	if !outcome.Valid() {
		return &queue.QueueError{Op: "acknowledge", Err: fmt.Errorf("invalid outcome %q", outcome)}
	}
	var errArg *string
	if detail != "" {
		errArg = &detail
	}
	_, err := s.pool.Exec(ctx, `SELECT complete_job($1::uuid, $2, $3)`, jobID, string(outcome), errArg)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeNoDataFound {
		return &queue.QueueError{Op: "acknowledge", Err: fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)}
	}
	return &queue.QueueError{Op: "acknowledge", Err: err}
}

// Enqueue inserts a queued job and returns its id.
func (s *Store) Enqueue(ctx context.Context, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	var id string
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (payload) VALUES ($1) RETURNING id::text`, payload,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Get returns the stored view of a job.
func (s *Store) Get(ctx context.Context, jobID string) (*queue.Record, error) {
	var (
		rec    queue.Record
		status string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id::text, status, payload, coalesce(worker_id, ''), coalesce(last_error, ''),
       created_at, claimed_at, completed_at
FROM jobs WHERE id = $1::uuid`, jobID,
	).Scan(&rec.ID, &status, &rec.Payload, &rec.WorkerID, &rec.LastError,
		&rec.CreatedAt, &rec.ClaimedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	rec.Status = queue.Status(status)
	return &rec, nil
}

func (s *Store) Record(ctx context.Context, e writeback.Entry) error {
	if e.Kind != writeback.KindProgress && e.Kind != writeback.KindResponse {
		return fmt.Errorf("invalid write-back kind %q", e.Kind)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_writebacks (kind, content, job_id, conversation_id, user_id)
VALUES ($1, $2, $3, $4, $5)`,
		string(e.Kind), e.Text, e.JobID, e.ConversationID, e.UserID)
	if err != nil {
		return fmt.Errorf("insert writeback: %w", err)
	}
	return nil
}
