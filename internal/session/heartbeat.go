package session

import (
	"context"
	"sync"
	"time"
)

// Schedule controls progress notes: the first after First, the second after
// a further Second, then one every Every. Messages are used in order and the
// last one repeats.
type Schedule struct {
	First    time.Duration
	Second   time.Duration
	Every    time.Duration
	Messages []string
}

// DefaultSchedule fires at 20s, 65s, then every minute.
func DefaultSchedule() Schedule {
	return Schedule{
		First:  20 * time.Second,
		Second: 45 * time.Second,
		Every:  60 * time.Second,
		Messages: []string{
			"Working on it...",
			"Still working on this one, it is taking a little longer than usual.",
			"Still on it. The answer will appear here as soon as it is ready.",
		},
	}
}

func (s Schedule) delay(n int) time.Duration {
	switch n {
	case 0:
		return s.First
	case 1:
		return s.Second
	default:
		return s.Every
	}
}

func (s Schedule) message(n int) string {
	if len(s.Messages) == 0 {
		return "Still working..."
	}
	if n >= len(s.Messages) {
		n = len(s.Messages) - 1
	}
	return s.Messages[n]
}

// Heartbeat is a running progress schedule for one job.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartHeartbeat calls fire on the schedule until Stop is called or ctx ends.
// fire runs on the heartbeat goroutine with a context that Stop cancels.
// A non-positive delay disables the schedule from that point on.
func StartHeartbeat(ctx context.Context, s Schedule, fire func(ctx context.Context, n int, msg string)) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		for n := 0; ; n++ {
			d := s.delay(n)
			if d <= 0 {
				return
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if ctx.Err() != nil {
				return
			}
			fire(ctx, n, s.message(n))
		}
	}()
	return h
}

// Stop cancels pending fires and waits for one in progress to return.
// After Stop returns fire is never called again. Safe to call repeatedly.
func (h *Heartbeat) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}
