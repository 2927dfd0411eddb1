package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a job as stored by a backend.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Outcome is the terminal result reported by Acknowledge.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// Valid reports whether o is one of the two terminal outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeDone || o == OutcomeFailed
}

// Job is one claimed unit of work. Payload is whatever the producer wrote;
// the worker does not validate it beyond what each handler needs.
type Job struct {
	ID        string
	Payload   map[string]any
	CreatedAt time.Time
}

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/acedge123/edge-bot/internal/queue Client

// Client claims and acknowledges jobs against a queue backend.
//
// Claim returns (nil, nil) when no job is pending. Backends must guarantee
// that a job is handed to at most one caller.
type Client interface {
	Claim(ctx context.Context) (*Job, error)
	Acknowledge(ctx context.Context, jobID string, outcome Outcome, detail string) error
}

// Enqueuer is implemented by backends that can also produce jobs (local
// sqlite and direct postgres). Used by the job enqueue command and tests.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload map[string]any) (string, error)
}

var ErrJobNotFound = errors.New("job not found")

// maxBodyBytes caps the backend response body carried by a QueueError.
const maxBodyBytes = 200

// QueueError is returned for any non-success backend response or transport
// failure during claim/acknowledge.
type QueueError struct {
	Op     string // "claim" or "acknowledge"
	Status int    // backend status code; 0 for transport or driver errors
	Body   string // truncated response body
	Err    error
}

// NewStatusError builds a QueueError from a non-success HTTP-style response.
func NewStatusError(op string, status int, body []byte) *QueueError {
	return &QueueError{Op: op, Status: status, Body: TruncateBody(body)}
}

// NewDecodeError is a success response whose body could not be understood.
func NewDecodeError(op string, status int, body []byte, err error) *QueueError {
	return &QueueError{Op: op, Status: status, Body: TruncateBody(body), Err: err}
}

func (e *QueueError) Error() string {
	msg := "queue " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Status == 0 && e.Err == nil && e.Body == "" {
		msg += " failed"
	}
	return msg
}

func (e *QueueError) Unwrap() error { return e.Err }

// TruncateBody caps a backend response body at maxBodyBytes without
// splitting a UTF-8 sequence.
func TruncateBody(body []byte) string {
	s := string(body)
	n := maxBodyBytes
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
