// Package notify handles generic jobs: build one line of text from the
// payload and post it to the gateway as an immediate system event.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/acedge123/edge-bot/internal/gateway"
)

const (
	// Placeholder is sent when a payload carries nothing usable.
	Placeholder = "new job queued"

	separator      = " — "
	learningPrefix = 80
)

// Payload is the decoded shape of a generic job.
type Payload struct {
	Text        string `mapstructure:"text"`
	TriggerName string `mapstructure:"trigger_name"`
	LearningID  string `mapstructure:"learning_id"`
	Learning    string `mapstructure:"learning"`
}

// TextFor picks the notification text: the explicit text field, else the
// trigger metadata joined by " — ", else Placeholder. It never returns "".
func TextFor(p Payload) string {
	if s := strings.TrimSpace(p.Text); s != "" {
		return p.Text
	}

	var parts []string
	if s := strings.TrimSpace(p.TriggerName); s != "" {
		parts = append(parts, "Trigger: "+s)
	}
	if s := strings.TrimSpace(p.LearningID); s != "" {
		parts = append(parts, "learning_id="+s)
	}
	if s := strings.TrimSpace(p.Learning); s != "" {
		parts = append(parts, preview(s, learningPrefix))
	}
	if len(parts) == 0 {
		return Placeholder
	}
	return strings.Join(parts, separator)
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// NotifyError wraps a failed delivery.
type NotifyError struct {
	Text string
	Err  error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Notifier posts text to the gateway with mode "now".
type Notifier struct {
	agent   gateway.Agent
	timeout time.Duration
}

// New returns a Notifier. A zero timeout leaves the caller's deadline alone.
func New(agent gateway.Agent, timeout time.Duration) *Notifier {
	return &Notifier{agent: agent, timeout: timeout}
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := n.agent.Notify(ctx, text, gateway.ModeNow); err != nil {
		return &NotifyError{Text: text, Err: err}
	}
	return nil
}
