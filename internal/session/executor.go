package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acedge123/edge-bot/internal/gateway"
	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/writeback"
)

// State is where a session job is in its lifecycle.
type State string

const (
	StateSubmitted State = "submitted"
	StateWaiting   State = "waiting_for_reply"
	StateResolved  State = "resolved"
	StateTimedOut  State = "timed_out"
	StateError     State = "error"
)

// Config tunes an Executor. Zero values take the defaults; a negative
// Heartbeat.First turns progress notes off.
type Config struct {
	KeyPrefix     string
	SubmitTimeout time.Duration
	PollInterval  time.Duration
	ReplyTimeout  time.Duration
	HistoryLimit  int
	Heartbeat     Schedule
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 750 * time.Millisecond
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 5 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	def := DefaultSchedule()
	if c.Heartbeat.First == 0 && c.Heartbeat.Second == 0 && c.Heartbeat.Every == 0 {
		c.Heartbeat.First, c.Heartbeat.Second, c.Heartbeat.Every = def.First, def.Second, def.Every
	}
	if len(c.Heartbeat.Messages) == 0 {
		c.Heartbeat.Messages = def.Messages
	}
}

// Hooks observe a job as it runs. Either may be nil.
type Hooks struct {
	State    func(p Payload, s State)
	Progress func(p Payload, text string)
}

// Executor drives one session job from submission to write-back.
type Executor struct {
	agent    gateway.Agent
	recorder writeback.Recorder
	cfg      Config
	hooks    Hooks
	logger   *slog.Logger
}

func NewExecutor(agent gateway.Agent, recorder writeback.Recorder, cfg Config, hooks Hooks) *Executor {
	cfg.applyDefaults()
	return &Executor{
		agent:    agent,
		recorder: recorder,
		cfg:      cfg,
		hooks:    hooks,
		logger:   log.WithComponent("session"),
	}
}

// Execute validates p, submits its message, waits for a reply newer than
// anything already in the session and records it. It returns the reply text.
// Progress notes run from validation until the outcome is known.
func (e *Executor) Execute(ctx context.Context, p Payload) (string, error) {
	if err := p.Validate(); err != nil {
		e.transition(p, StateError)
		return "", err
	}
	key := Key(e.cfg.KeyPrefix, p.UserID)
	logger := e.logger.With("job_id", p.JobID, "session_key", key)

	hb := StartHeartbeat(ctx, e.cfg.Heartbeat, func(ctx context.Context, n int, msg string) {
		e.progress(ctx, logger, p, n, msg)
	})
	defer hb.Stop()

	reply, err := e.exchange(ctx, logger, key, p)
	hb.Stop()
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			e.transition(p, StateTimedOut)
		} else {
			e.transition(p, StateError)
		}
		return "", err
	}

	if err := e.recorder.Record(ctx, writeback.Entry{
		Kind:           writeback.KindResponse,
		Text:           reply,
		JobID:          p.JobID,
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
	}); err != nil {
		e.transition(p, StateError)
		return "", fmt.Errorf("write back response: %w", err)
	}
	e.transition(p, StateResolved)
	logger.Info("session reply recorded", "chars", len(reply))
	return reply, nil
}

func (e *Executor) exchange(ctx context.Context, logger *slog.Logger, key string, p Payload) (string, error) {
	baseline, err := e.baseline(ctx, key)
	if err != nil {
		return "", err
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	err = e.agent.Submit(submitCtx, gateway.SubmitRequest{
		SessionKey:     key,
		Message:        p.Message,
		IdempotencyKey: p.JobID,
		Deliver:        false,
	})
	cancel()
	if err != nil {
		return "", &SubmissionError{SessionKey: key, Err: err}
	}
	e.transition(p, StateSubmitted)
	logger.Debug("message submitted", "baseline", baseline)

	e.transition(p, StateWaiting)
	return e.await(ctx, logger, key, baseline)
}

// baseline is the newest assistant timestamp already in the session, or 0.
func (e *Executor) baseline(ctx context.Context, key string) (int64, error) {
	msgs, err := e.agent.History(ctx, key, e.cfg.HistoryLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch baseline history for %s: %w", key, err)
	}
	var newest int64
	for _, m := range msgs {
		if m.Role == gateway.RoleAssistant && m.Timestamp > newest {
			newest = m.Timestamp
		}
	}
	return newest, nil
}

// await polls history until an assistant message newer than baseline has
// text. History errors while polling are logged and retried.
func (e *Executor) await(ctx context.Context, logger *slog.Logger, key string, baseline int64) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.ReplyTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &TimeoutError{SessionKey: key, After: e.cfg.ReplyTimeout}
		case <-ticker.C:
		}

		msgs, err := e.agent.History(pollCtx, key, e.cfg.HistoryLimit)
		if err != nil {
			if pollCtx.Err() == nil {
				logger.Warn("history poll failed", "error", err)
			}
			continue
		}
		if reply, ok := newestReply(msgs, baseline); ok {
			return reply, nil
		}
	}
}

// newestReply picks the latest assistant message after baseline with text.
func newestReply(msgs []gateway.Message, baseline int64) (string, bool) {
	var (
		best   string
		bestTS int64
		found  bool
	)
	for _, m := range msgs {
		if m.Role != gateway.RoleAssistant || m.Timestamp <= baseline {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		if !found || m.Timestamp >= bestTS {
			best, bestTS, found = text, m.Timestamp, true
		}
	}
	return best, found
}

func (e *Executor) progress(ctx context.Context, logger *slog.Logger, p Payload, n int, msg string) {
	err := e.recorder.Record(ctx, writeback.Entry{
		Kind:           writeback.KindProgress,
		Text:           msg,
		JobID:          p.JobID,
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("progress write-back failed", "fire", n, "error", err)
		}
		return
	}
	if e.hooks.Progress != nil {
		e.hooks.Progress(p, msg)
	}
}

func (e *Executor) transition(p Payload, s State) {
	if e.hooks.State != nil {
		e.hooks.State(p, s)
	}
}
