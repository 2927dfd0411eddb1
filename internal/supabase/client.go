// Package supabase talks to the hosted queue through PostgREST: the
// claim_next_job and complete_job RPCs for the queue, and a plain table
// insert for write-backs.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/writeback"
)

const (
	claimPath    = "/rest/v1/rpc/claim_next_job"
	completePath = "/rest/v1/rpc/complete_job"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	URL            string
	Key            string
	WorkerID       string
	WritebackTable string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client implements queue.Client and writeback.Recorder over PostgREST.
type Client struct {
	base     string
	key      string
	workerID string
	table    string
	http     *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	table := cfg.WritebackTable
	if table == "" {
		table = "chat_writebacks"
	}
	return &Client{
		base:     strings.TrimRight(cfg.URL, "/"),
		key:      cfg.Key,
		workerID: cfg.WorkerID,
		table:    table,
		http:     hc,
	}
}

type claimedRow struct {
	ID        json.RawMessage `json:"id"`
	Payload   map[string]any  `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Claim calls claim_next_job. The RPC may answer with null, an empty array,
// a single row, or a one-element array; all but a row with an id mean
// "nothing pending".
func (c *Client) Claim(ctx context.Context) (*queue.Job, error) {
	status, body, err := c.post(ctx, claimPath, map[string]any{"p_worker_id": c.workerID}, "")
	if err != nil {
		return nil, &queue.QueueError{Op: "claim", Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, queue.NewStatusError("claim", status, body)
	}

	row, err := decodeClaim(body)
	if err != nil {
		return nil, queue.NewDecodeError("claim", status, body, err)
	}
	if row == nil {
		return nil, nil
	}
	id := rawID(row.ID)
	if id == "" {
		return nil, nil
	}
	payload := row.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return &queue.Job{ID: id, Payload: payload, CreatedAt: row.CreatedAt}, nil
}

func decodeClaim(body []byte) (*claimedRow, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var rows []claimedRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decode claim rows: %w", err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &rows[0], nil
	}
	var row claimedRow
	if err := json.Unmarshal(trimmed, &row); err != nil {
		return nil, fmt.Errorf("decode claim row: %w", err)
	}
	return &row, nil
}

// rawID accepts both uuid/text and bigint ids.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

// Acknowledge calls complete_job with the terminal status.
func (c *Client) Acknowledge(ctx context.Context, jobID string, outcome queue.Outcome, detail string) error {
	if !outcome.Valid() {
		return &queue.QueueError{Op: "acknowledge", Err: fmt.Errorf("invalid outcome %q", outcome)}
	}
	var errField any
	if detail != "" {
		errField = detail
	}
	status, body, err := c.post(ctx, completePath, map[string]any{
		"p_job_id": jobID,
		"p_status": string(outcome),
		"p_error":  errField,
	}, "")
	if err != nil {
		return &queue.QueueError{Op: "acknowledge", Err: err}
	}
	if status < 200 || status >= 300 {
		return queue.NewStatusError("acknowledge", status, body)
	}
	return nil
}

// Record inserts a write-back row.
func (c *Client) Record(ctx context.Context, e writeback.Entry) error {
	status, body, err := c.post(ctx, "/rest/v1/"+c.table, map[string]any{
		"kind":            string(e.Kind),
		"content":         e.Text,
		"job_id":          e.JobID,
		"conversation_id": e.ConversationID,
		"user_id":         e.UserID,
	}, "return=minimal")
	if err != nil {
		return fmt.Errorf("record writeback: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("record writeback: status %d: %s", status, queue.TruncateBody(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, prefer string) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
