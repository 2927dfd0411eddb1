package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/queue"
)

// Entry is a session job waiting for its turn.
type Entry struct {
	Job     *queue.Job
	Payload Payload
}

// Runner executes one entry to completion, acknowledgement included.
type Runner func(ctx context.Context, e Entry)

// Gate runs session entries one at a time in arrival order. A single
// goroutine (Run) owns the FIFO and the busy flag; Enqueue hands entries to
// it and a finished entry sends a freed event back.
type Gate struct {
	run    Runner
	in     chan Entry
	freed  chan struct{}
	depth  atomic.Int64
	busy   atomic.Bool
	logger *slog.Logger
}

func NewGate(run Runner) *Gate {
	return &Gate{
		run:    run,
		in:     make(chan Entry),
		freed:  make(chan struct{}),
		logger: log.WithComponent("session-gate"),
	}
}

// Run owns the queue until ctx ends. Entries still queued at that point are
// dropped and an active entry is left to observe the cancelled context.
func (g *Gate) Run(ctx context.Context) error {
	var (
		fifo []Entry
		busy bool
	)
	for {
		select {
		case <-ctx.Done():
			if len(fifo) > 0 {
				g.logger.Warn("dropping queued session jobs on shutdown", "count", len(fifo))
			}
			return ctx.Err()
		case e := <-g.in:
			fifo = append(fifo, e)
		case <-g.freed:
			busy = false
		}

		if !busy && len(fifo) > 0 {
			next := fifo[0]
			fifo[0] = Entry{}
			fifo = fifo[1:]
			busy = true
			go g.execute(ctx, next)
		}
		g.depth.Store(int64(len(fifo)))
		g.busy.Store(busy)
	}
}

func (g *Gate) execute(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("session runner panicked", "job_id", e.Payload.JobID, "panic", r)
		}
		select {
		case g.freed <- struct{}{}:
		case <-ctx.Done():
		}
	}()
	g.run(ctx, e)
}

// Enqueue hands e to the gate. It only waits for the gate goroutine to take
// the entry, never for earlier entries to finish.
func (g *Gate) Enqueue(ctx context.Context, e Entry) error {
	select {
	case g.in <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth is the number of entries waiting behind the active one.
func (g *Gate) Depth() int { return int(g.depth.Load()) }

// Busy reports whether an entry is executing.
func (g *Gate) Busy() bool { return g.busy.Load() }
