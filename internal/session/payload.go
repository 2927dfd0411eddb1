// Package session runs interactive chat jobs: submit the user's message
// into a per-user gateway session, wait for the agent's reply to show up in
// session history, and write it back. Jobs run one at a time through Gate.
package session

import (
	"fmt"
	"strings"
	"time"
)

const DefaultKeyPrefix = "edge-chat"

// Payload is the decoded shape of a session-class job.
type Payload struct {
	Source         string `mapstructure:"source"`
	UserID         string `mapstructure:"user_id"`
	ConversationID string `mapstructure:"conversation_id"`
	Message        string `mapstructure:"message"`
	JobID          string `mapstructure:"job_id"`
}

// Validate reports the first missing required field.
func (p Payload) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"user_id", p.UserID},
		{"conversation_id", p.ConversationID},
		{"message", p.Message},
		{"job_id", p.JobID},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name}
		}
	}
	return nil
}

// Key derives the gateway session key for a user.
func Key(prefix, userID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + userID
}

// ValidationError means the payload cannot be submitted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid session payload: missing %s", e.Field)
}

// SubmissionError means the gateway did not accept the message.
type SubmissionError struct {
	SessionKey string
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit to session %s: %v", e.SessionKey, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TimeoutError means no new reply appeared before the deadline.
type TimeoutError struct {
	SessionKey string
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for a reply in session %s", e.After, e.SessionKey)
}
