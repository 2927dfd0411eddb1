package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the stored view of a job, including its terminal state.
type Record struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Payload     map[string]any `json:"payload"`
	WorkerID    string         `json:"worker_id,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// SQLite is a single-host queue backend on the local job_queue table.
// Open the database with storage.OpenSQLite.
type SQLite struct {
	db       *sql.DB
	workerID string
}

func NewSQLite(db *sql.DB, workerID string) *SQLite {
	return &SQLite{db: db, workerID: workerID}
}

// Enqueue inserts a queued job and returns its id.
func (q *SQLite) Enqueue(ctx context.Context, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = q.db.ExecContext(ctx, `
INSERT INTO job_queue(id, payload, status, created_at)
VALUES(?, ?, ?, ?);
`, id, string(raw), StatusQueued, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Claim marks the oldest queued job running for this worker and returns it.
// Returns (nil, nil) if the queue is empty.
func (q *SQLite) Claim(ctx context.Context) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM job_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE job_queue
SET status = ?, worker_id = ?, claimed_at = ?
WHERE id IN (SELECT id FROM next) AND status = ?
RETURNING id, payload, created_at;
`, StatusQueued, StatusRunning, q.workerID, now, StatusQueued)

	var (
		j          Job
		payload    sql.NullString
		createdAtS string
	)
	err := row.Scan(&j.ID, &payload, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &QueueError{Op: "claim", Err: err}
	}

	j.Payload, err = decodePayload(payload)
	if err != nil {
		return nil, &QueueError{Op: "claim", Err: fmt.Errorf("job %s: %w", j.ID, err)}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	return &j, nil
}

// Acknowledge records the terminal outcome. Repeating the same outcome is a
// no-op; switching a terminal job to the other outcome is an error.
func (q *SQLite) Acknowledge(ctx context.Context, jobID string, outcome Outcome, detail string) error {
	if jobID == "" {
		return &QueueError{Op: "acknowledge", Err: errors.New("job id is empty")}
	}
	if !outcome.Valid() {
		return &QueueError{Op: "acknowledge", Err: fmt.Errorf("invalid outcome %q", outcome)}
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return &QueueError{Op: "acknowledge", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM job_queue WHERE id = ?;`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &QueueError{Op: "acknowledge", Err: fmt.Errorf("%w: %s", ErrJobNotFound, jobID)}
	}
	if err != nil {
		return &QueueError{Op: "acknowledge", Err: err}
	}

	switch Status(current) {
	case Status(outcome):
		return nil
	case StatusDone, StatusFailed:
		return &QueueError{Op: "acknowledge", Err: fmt.Errorf("job %s already acknowledged as %s", jobID, current)}
	}

	var lastError any
	if detail != "" {
		lastError = detail
	}
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
UPDATE job_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, Status(outcome), completedAt, lastError, jobID); err != nil {
		return &QueueError{Op: "acknowledge", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &QueueError{Op: "acknowledge", Err: fmt.Errorf("commit tx: %w", err)}
	}
	return nil
}

// Get loads a job by id regardless of its state.
func (q *SQLite) Get(ctx context.Context, jobID string) (*Record, error) {
	var (
		r            Record
		status       string
		payload      sql.NullString
		workerID     sql.NullString
		lastError    sql.NullString
		createdAtS   string
		claimedAtS   sql.NullString
		completedAtS sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
SELECT id, status, payload, worker_id, last_error, created_at, claimed_at, completed_at
FROM job_queue
WHERE id = ?;
`, jobID).Scan(&r.ID, &status, &payload, &workerID, &lastError, &createdAtS, &claimedAtS, &completedAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	r.Status = Status(status)
	r.WorkerID = workerID.String
	r.LastError = lastError.String
	if r.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	r.ClaimedAt = parseNullTime(claimedAtS)
	r.CompletedAt = parseNullTime(completedAtS)
	return &r, nil
}

func decodePayload(raw sql.NullString) (map[string]any, error) {
	out := map[string]any{}
	if !raw.Valid || raw.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
