// Package writeback records session output (progress notes and final
// answers) in the store the chat front end reads from.
package writeback

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Kind separates heartbeat notes from the final answer.
type Kind string

const (
	KindProgress Kind = "progress"
	KindResponse Kind = "response"
)

// Entry is one write-back row.
type Entry struct {
	Kind           Kind
	Text           string
	JobID          string
	ConversationID string
	UserID         string
}

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/acedge123/edge-bot/internal/writeback Recorder

// Recorder persists write-back entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// SQLite records entries in the local writebacks table.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	if e.Kind != KindProgress && e.Kind != KindResponse {
		return fmt.Errorf("invalid write-back kind %q", e.Kind)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO writebacks(kind, content, job_id, conversation_id, user_id, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, e.Kind, e.Text, e.JobID, e.ConversationID, e.UserID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert writeback: %w", err)
	}
	return nil
}

// List returns the entries recorded for a job, oldest first.
func (s *SQLite) List(ctx context.Context, jobID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, content, job_id, conversation_id, user_id
FROM writebacks
WHERE job_id = ?
ORDER BY id ASC;
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list writebacks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			kind           string
			conversationID sql.NullString
			userID         sql.NullString
		)
		if err := rows.Scan(&kind, &e.Text, &e.JobID, &conversationID, &userID); err != nil {
			return nil, fmt.Errorf("scan writeback: %w", err)
		}
		e.Kind = Kind(kind)
		e.ConversationID = conversationID.String
		e.UserID = userID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
