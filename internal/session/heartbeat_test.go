package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireLog struct {
	mu    sync.Mutex
	msgs  []string
	count int
}

func (f *fireLog) fire(_ context.Context, _ int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	f.count++
}

func (f *fireLog) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func TestHeartbeatFiresInOrderAndRepeatsLastMessage(t *testing.T) {
	var fl fireLog
	h := StartHeartbeat(context.Background(), Schedule{
		First: 5 * time.Millisecond, Second: 5 * time.Millisecond, Every: 5 * time.Millisecond,
		Messages: []string{"a", "b"},
	}, fl.fire)

	require.Eventually(t, func() bool { return len(fl.snapshot()) >= 4 }, 2*time.Second, time.Millisecond)
	h.Stop()

	msgs := fl.snapshot()
	assert.Equal(t, []string{"a", "b", "b", "b"}, msgs[:4])
}

func TestHeartbeatStopPreventsFurtherFires(t *testing.T) {
	var fl fireLog
	h := StartHeartbeat(context.Background(), Schedule{
		First: 2 * time.Millisecond, Second: 2 * time.Millisecond, Every: 2 * time.Millisecond,
	}, fl.fire)

	require.Eventually(t, func() bool { return len(fl.snapshot()) >= 1 }, 2*time.Second, time.Millisecond)
	h.Stop()
	after := len(fl.snapshot())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, len(fl.snapshot()))

	h.Stop()
}

func TestHeartbeatStopBeforeFirstFire(t *testing.T) {
	var fl fireLog
	h := StartHeartbeat(context.Background(), Schedule{First: time.Hour, Second: time.Hour, Every: time.Hour}, fl.fire)
	h.Stop()
	assert.Empty(t, fl.snapshot())
}

func TestHeartbeatStopWaitsForInFlightFire(t *testing.T) {
	started := make(chan struct{})
	var finished bool
	h := StartHeartbeat(context.Background(), Schedule{First: time.Millisecond, Second: time.Hour, Every: time.Hour},
		func(ctx context.Context, _ int, _ string) {
			close(started)
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished = true
		})

	<-started
	h.Stop()
	assert.True(t, finished)
}

func TestHeartbeatParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var fl fireLog
	h := StartHeartbeat(ctx, Schedule{First: time.Hour}, fl.fire)
	cancel()
	h.Stop()
	assert.Empty(t, fl.snapshot())
}

func TestHeartbeatNonPositiveDelayDisables(t *testing.T) {
	var fl fireLog
	h := StartHeartbeat(context.Background(), Schedule{First: -1}, fl.fire)
	h.Stop()
	assert.Empty(t, fl.snapshot())
}

func TestScheduleMessageFallback(t *testing.T) {
	assert.NotEmpty(t, Schedule{}.message(0))
	def := DefaultSchedule()
	assert.Equal(t, 20*time.Second, def.delay(0))
	assert.Equal(t, 45*time.Second, def.delay(1))
	assert.Equal(t, 60*time.Second, def.delay(7))
	assert.Equal(t, def.Messages[len(def.Messages)-1], def.message(99))
}
