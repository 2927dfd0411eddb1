// Package gateway is the worker's view of the OpenClaw gateway: submit a
// message into a session, read session history, and post system events.
// Two transports implement Agent: a typed HTTP client and a wrapper around
// the openclaw CLI.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Mode controls when a system event is delivered.
type Mode string

const (
	ModeNow           Mode = "now"
	ModeNextHeartbeat Mode = "next-heartbeat"
)

const RoleAssistant = "assistant"

// SubmitRequest is one message for a session. With Deliver false the agent
// keeps its reply in session history instead of sending it to a channel.
type SubmitRequest struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
	Deliver        bool   `json:"deliver"`
}

// Fragment is one piece of message content.
type Fragment struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one history entry. Timestamp is epoch milliseconds.
type Message struct {
	Role      string     `json:"role"`
	Timestamp int64      `json:"timestamp"`
	Content   []Fragment `json:"content"`
}

// Text concatenates the text fragments and trims the result.
func (m Message) Text() string {
	var b strings.Builder
	for _, f := range m.Content {
		if f.Type == "text" {
			b.WriteString(f.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// UnmarshalJSON accepts numeric or RFC 3339 timestamps and either a plain
// string or a fragment list as content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string          `json:"role"`
		Timestamp json.RawMessage `json:"timestamp"`
		Content   json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	content, err := parseContent(raw.Content)
	if err != nil {
		return err
	}
	*m = Message{Role: raw.Role, Timestamp: ts, Content: content}
	return nil
}

func parseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %s: %w", raw, err)
	}
	return int64(f), nil
}

func parseContent(raw json.RawMessage) ([]Fragment, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []Fragment{{Type: "text", Text: s}}, nil
	}
	var frags []Fragment
	if err := json.Unmarshal(raw, &frags); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return frags, nil
}

// decodeHistory accepts {"messages": [...]} or a bare array.
func decodeHistory(body []byte) ([]Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return msgs, nil
	}
	var wrapped struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return wrapped.Messages, nil
}

//go:generate mockgen -destination=mocks/mock_agent.go -package=mocks github.com/acedge123/edge-bot/internal/gateway Agent

// Agent is the gateway surface the worker depends on.
type Agent interface {
	Submit(ctx context.Context, req SubmitRequest) error
	History(ctx context.Context, sessionKey string, limit int) ([]Message, error)
	Notify(ctx context.Context, text string, mode Mode) error
}

// StatusError is a non-success gateway response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.Status, e.Body)
}

// truncate keeps at most n leading bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tail keeps at most n trailing bytes on a rune boundary, where CLI error
// output usually ends up.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
