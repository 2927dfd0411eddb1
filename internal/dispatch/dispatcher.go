// Package dispatch is the worker's main loop: claim a job, classify it, and
// either notify and acknowledge inline or hand it to the session gate, which
// acknowledges when the session job finishes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/acedge123/edge-bot/internal/events"
	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/metrics"
	"github.com/acedge123/edge-bot/internal/notify"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/session"
)

const (
	// maxErrorBytes caps the error text sent with a failed acknowledgement.
	maxErrorBytes = 500

	// ackTimeout bounds an acknowledgement, which outlives shutdown.
	ackTimeout = 10 * time.Second
)

// Config tunes the loop. Zero values take the defaults.
type Config struct {
	PollInterval   time.Duration
	MaxBackoff     time.Duration
	NotifyCooldown time.Duration
	SessionSources []string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 4 * time.Second
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = 60 * time.Second
		if c.MaxBackoff < c.PollInterval {
			c.MaxBackoff = c.PollInterval
		}
	}
	if c.NotifyCooldown < 0 {
		c.NotifyCooldown = 0
	}
}

// Notifier delivers generic job text.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SessionExecutor runs one session job to its outcome.
type SessionExecutor interface {
	Execute(ctx context.Context, p session.Payload) (string, error)
}

// Options carries optional observers.
type Options struct {
	Events  *events.Hub
	Metrics *metrics.Metrics
}

type Dispatcher struct {
	queue      queue.Client
	notifier   Notifier
	executor   SessionExecutor
	classifier *Classifier
	gate       *session.Gate
	cfg        Config
	events     *events.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger
	lastClaim  atomic.Int64
}

func New(q queue.Client, n Notifier, x SessionExecutor, cfg Config, opts Options) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		queue:      q,
		notifier:   n,
		executor:   x,
		classifier: NewClassifier(cfg.SessionSources),
		cfg:        cfg,
		events:     opts.Events,
		metrics:    opts.Metrics,
		logger:     log.WithComponent("dispatch"),
	}
	d.gate = session.NewGate(d.runSession)
	d.metrics.RegisterGate(d.gate.Depth, d.gate.Busy)
	return d
}

// Start runs the claim loop and the session gate until ctx is cancelled.
// In-flight work is abandoned on cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "poll_interval", d.cfg.PollInterval, "notify_cooldown", d.cfg.NotifyCooldown)
	defer d.logger.Info("dispatch loop stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.gate.Run(ctx) })
	g.Go(func() error { return d.loop(ctx) })
	return g.Wait()
}

// Status is a point-in-time view for health checks.
type Status struct {
	LastClaim    time.Time
	SessionDepth int
	SessionBusy  bool
}

func (d *Dispatcher) Status() Status {
	var last time.Time
	if ns := d.lastClaim.Load(); ns != 0 {
		last = time.Unix(0, ns).UTC()
	}
	return Status{LastClaim: last, SessionDepth: d.gate.Depth(), SessionBusy: d.gate.Busy()}
}

func (d *Dispatcher) loop(ctx context.Context) error {
	var backoff time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pause, claimFailed := d.iterate(ctx)
		if claimFailed {
			backoff = nextBackoff(backoff, d.cfg.PollInterval, d.cfg.MaxBackoff)
			pause = backoff
		} else {
			backoff = 0
		}
		if !sleep(ctx, pause) {
			return ctx.Err()
		}
	}
}

// nextBackoff starts at base and doubles up to limit.
func nextBackoff(cur, base, limit time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > limit {
		return limit
	}
	return cur
}

// iterate claims and routes one job and returns how long to pause before
// the next claim.
func (d *Dispatcher) iterate(ctx context.Context) (pause time.Duration, claimFailed bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch iteration panicked", "panic", r)
			pause, claimFailed = d.cfg.PollInterval, false
		}
	}()

	job, err := d.queue.Claim(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		d.metrics.Claim("error")
		d.logger.Error("claim failed", "error", err)
		return 0, true
	}
	if job == nil {
		d.metrics.Claim("empty")
		return d.cfg.PollInterval, false
	}
	d.metrics.Claim("job")
	d.lastClaim.Store(time.Now().UnixNano())

	work, err := d.classifier.Classify(job)
	d.events.Publish(events.JobClaimed, events.ClaimedData{JobID: job.ID, Class: string(work.class())})
	if err != nil {
		d.logger.Warn("unusable job payload", "job_id", job.ID, "error", err)
		d.complete(ctx, job, work.class(), queue.OutcomeFailed, err.Error())
		return 0, false
	}

	switch w := work.(type) {
	case NotifyWork:
		d.runNotify(ctx, w)
		return d.cfg.NotifyCooldown, false
	case SessionWork:
		if err := d.gate.Enqueue(ctx, session.Entry{Job: w.Job, Payload: w.Payload}); err != nil {
			return 0, false
		}
		log.WithJob(job.ID).Info("session job queued", "depth", d.gate.Depth())
		return 0, false
	default:
		panic(fmt.Sprintf("unhandled work type %T", work))
	}
}

func (d *Dispatcher) runNotify(ctx context.Context, w NotifyWork) {
	logger := log.WithJob(w.Job.ID)
	outcome, detail := queue.OutcomeDone, ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notify handler panicked", "panic", r)
			outcome, detail = queue.OutcomeFailed, fmt.Sprintf("panic: %v", r)
		}
		if outcome == queue.OutcomeFailed && ctx.Err() != nil {
			logger.Warn("shutting down, abandoning interrupted notify job")
			return
		}
		d.complete(ctx, w.Job, ClassNotify, outcome, detail)
	}()

	text := notify.TextFor(w.Payload)
	if err := d.notifier.Notify(ctx, text); err != nil {
		logger.Warn("notify failed", "error", err)
		outcome, detail = queue.OutcomeFailed, err.Error()
		return
	}
	logger.Info("notification sent", "text", text)
}

// runSession is the gate's runner. It acknowledges exactly once unless the
// worker is shutting down, in which case the job is abandoned.
func (d *Dispatcher) runSession(ctx context.Context, e session.Entry) {
	logger := log.WithJob(e.Job.ID)
	start := time.Now()
	outcome, detail, state := queue.OutcomeDone, "", session.StateResolved
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session handler panicked", "panic", r)
			outcome, detail, state = queue.OutcomeFailed, fmt.Sprintf("panic: %v", r), session.StateError
		}
		if ctx.Err() != nil {
			logger.Warn("shutting down, abandoning session job")
			return
		}
		d.metrics.SessionDone(string(state), time.Since(start))
		d.complete(ctx, e.Job, ClassSession, outcome, detail)
	}()

	if _, err := d.executor.Execute(ctx, e.Payload); err != nil {
		outcome, detail, state = queue.OutcomeFailed, err.Error(), session.StateError
		var te *session.TimeoutError
		if errors.As(err, &te) {
			state = session.StateTimedOut
		}
		logger.Warn("session job failed", "error", err)
	}
}

// complete acknowledges a job. The ack is detached from ctx cancellation so
// work that finished as shutdown began is still recorded. Failures are
// logged; there is nowhere else to report them.
func (d *Dispatcher) complete(ctx context.Context, job *queue.Job, class Class, outcome queue.Outcome, detail string) {
	detail = truncate(detail, maxErrorBytes)
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := d.queue.Acknowledge(ackCtx, job.ID, outcome, detail); err != nil {
		d.metrics.AckError()
		d.logger.Error("failed to acknowledge job", "job_id", job.ID, "outcome", outcome, "error", err)
		return
	}
	d.metrics.Ack(string(class), string(outcome))
	d.events.Publish(events.JobAcked, events.AckedData{
		JobID: job.ID, Class: string(class), Outcome: string(outcome), Error: detail,
	})
	d.logger.Debug("job acknowledged", "job_id", job.ID, "outcome", outcome)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
