package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedge123/edge-bot/internal/gateway"
	"github.com/acedge123/edge-bot/internal/writeback"
)

// fakeAgent is an in-memory session history.
type fakeAgent struct {
	mu         sync.Mutex
	history    []gateway.Message
	submits    []gateway.SubmitRequest
	historyN   int
	submitErr  error
	historyErr error
	onSubmit   func(a *fakeAgent)
}

func (a *fakeAgent) Submit(_ context.Context, req gateway.SubmitRequest) error {
	a.mu.Lock()
	a.submits = append(a.submits, req)
	err := a.submitErr
	hook := a.onSubmit
	a.mu.Unlock()
	if err == nil && hook != nil {
		hook(a)
	}
	return err
}

func (a *fakeAgent) History(_ context.Context, _ string, limit int) ([]gateway.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.historyN++
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	msgs := a.history
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]gateway.Message(nil), msgs...), nil
}

func (a *fakeAgent) Notify(context.Context, string, gateway.Mode) error { return nil }

func (a *fakeAgent) add(m gateway.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, m)
}

func (a *fakeAgent) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits)
}

type recorded struct {
	entry writeback.Entry
	at    time.Time
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recorded
	failOn  writeback.Kind
}

func (r *fakeRecorder) Record(_ context.Context, e writeback.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && e.Kind == r.failOn {
		return errors.New("store unavailable")
	}
	r.entries = append(r.entries, recorded{entry: e, at: time.Now()})
	return nil
}

func (r *fakeRecorder) byKind(k writeback.Kind) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.entries {
		if e.entry.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func assistant(ts int64, text string) gateway.Message {
	return gateway.Message{Role: gateway.RoleAssistant, Timestamp: ts, Content: []gateway.Fragment{{Type: "text", Text: text}}}
}

func fastConfig() Config {
	return Config{
		PollInterval: 2 * time.Millisecond,
		ReplyTimeout: 2 * time.Second,
		Heartbeat:    Schedule{First: -1},
	}
}

func replyAfter(d time.Duration, m gateway.Message) func(*fakeAgent) {
	return func(a *fakeAgent) {
		go func() {
			time.Sleep(d)
			a.add(m)
		}()
	}
}

func TestExecuteResolvesWithNewReply(t *testing.T) {
	agent := &fakeAgent{history: []gateway.Message{assistant(100, "previous answer")}}
	agent.onSubmit = replyAfter(10*time.Millisecond, assistant(200, " new answer "))
	rec := &fakeRecorder{}

	var states []State
	exec := NewExecutor(agent, rec, fastConfig(), Hooks{State: func(_ Payload, s State) { states = append(states, s) }})

	reply, err := exec.Execute(context.Background(), validPayload())
	require.NoError(t, err)
	assert.Equal(t, "new answer", reply)

	require.Len(t, agent.submits, 1)
	assert.Equal(t, gateway.SubmitRequest{
		SessionKey: "edge-chat:u1", Message: "hello", IdempotencyKey: "j1", Deliver: false,
	}, agent.submits[0])

	responses := rec.byKind(writeback.KindResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, writeback.Entry{
		Kind: writeback.KindResponse, Text: "new answer", JobID: "j1", ConversationID: "c1", UserID: "u1",
	}, responses[0].entry)

	assert.Equal(t, []State{StateSubmitted, StateWaiting, StateResolved}, states)
}

func TestExecuteIgnoresRepliesAtOrBeforeBaseline(t *testing.T) {
	agent := &fakeAgent{history: []gateway.Message{assistant(100, "same text")}}
	// Same timestamp and identical text must not count as new.
	agent.onSubmit = replyAfter(time.Millisecond, assistant(100, "same text"))
	rec := &fakeRecorder{}

	cfg := fastConfig()
	cfg.ReplyTimeout = 50 * time.Millisecond
	_, err := NewExecutor(agent, rec, cfg, Hooks{}).Execute(context.Background(), validPayload())

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "edge-chat:u1", te.SessionKey)
	assert.Contains(t, err.Error(), "timed out")
	assert.Empty(t, rec.byKind(writeback.KindResponse))
}

func TestExecuteDetectsIdenticalTextWithNewerTimestamp(t *testing.T) {
	agent := &fakeAgent{history: []gateway.Message{assistant(100, "ok")}}
	agent.onSubmit = replyAfter(time.Millisecond, assistant(101, "ok"))
	rec := &fakeRecorder{}

	reply, err := NewExecutor(agent, rec, fastConfig(), Hooks{}).Execute(context.Background(), validPayload())
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}

func TestExecuteValidationMakesNoGatewayCalls(t *testing.T) {
	agent := &fakeAgent{}
	rec := &fakeRecorder{}
	p := validPayload()
	p.UserID = ""

	var states []State
	_, err := NewExecutor(agent, rec, fastConfig(), Hooks{State: func(_ Payload, s State) { states = append(states, s) }}).
		Execute(context.Background(), p)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "user_id", ve.Field)
	assert.Zero(t, agent.submitCount())
	assert.Zero(t, agent.historyN)
	assert.Equal(t, []State{StateError}, states)
}

func TestExecuteSubmissionFailure(t *testing.T) {
	agent := &fakeAgent{submitErr: errors.New("503 from gateway")}
	rec := &fakeRecorder{}

	_, err := NewExecutor(agent, rec, fastConfig(), Hooks{}).Execute(context.Background(), validPayload())
	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "503 from gateway")
	assert.Equal(t, 1, agent.historyN, "only the baseline fetch")
	assert.Empty(t, rec.byKind(writeback.KindResponse))
}

func TestExecuteBaselineFailureSkipsSubmission(t *testing.T) {
	agent := &fakeAgent{historyErr: errors.New("history down")}

	_, err := NewExecutor(agent, &fakeRecorder{}, fastConfig(), Hooks{}).Execute(context.Background(), validPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")
	assert.Zero(t, agent.submitCount())
}

func TestExecuteResponseWriteBackFailure(t *testing.T) {
	agent := &fakeAgent{}
	agent.onSubmit = replyAfter(time.Millisecond, assistant(5, "hi"))
	rec := &fakeRecorder{failOn: writeback.KindResponse}

	_, err := NewExecutor(agent, rec, fastConfig(), Hooks{}).Execute(context.Background(), validPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write back response")
}

func TestExecuteNoProgressAfterResolution(t *testing.T) {
	agent := &fakeAgent{}
	agent.onSubmit = replyAfter(60*time.Millisecond, assistant(5, "done"))
	rec := &fakeRecorder{}

	cfg := fastConfig()
	cfg.Heartbeat = Schedule{First: 5 * time.Millisecond, Second: 5 * time.Millisecond, Every: 5 * time.Millisecond, Messages: []string{"still working"}}
	var progressed int
	var mu sync.Mutex
	hooks := Hooks{Progress: func(Payload, string) { mu.Lock(); progressed++; mu.Unlock() }}

	_, err := NewExecutor(agent, rec, cfg, hooks).Execute(context.Background(), validPayload())
	require.NoError(t, err)

	progress := rec.byKind(writeback.KindProgress)
	responses := rec.byKind(writeback.KindResponse)
	require.NotEmpty(t, progress)
	require.Len(t, responses, 1)
	for _, p := range progress {
		assert.False(t, p.at.After(responses[0].at))
		assert.Equal(t, "still working", p.entry.Text)
	}

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.byKind(writeback.KindProgress), len(progress))
	mu.Lock()
	assert.Equal(t, len(progress), progressed)
	mu.Unlock()
}

func TestExecuteTimeoutStopsHeartbeat(t *testing.T) {
	agent := &fakeAgent{}
	rec := &fakeRecorder{}
	cfg := fastConfig()
	cfg.ReplyTimeout = 40 * time.Millisecond
	cfg.Heartbeat = Schedule{First: 5 * time.Millisecond, Second: 5 * time.Millisecond, Every: 5 * time.Millisecond}

	_, err := NewExecutor(agent, rec, cfg, Hooks{}).Execute(context.Background(), validPayload())
	var te *TimeoutError
	require.True(t, errors.As(err, &te))

	n := len(rec.byKind(writeback.KindProgress))
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.byKind(writeback.KindProgress), n)
}

func TestExecuteProgressFailureDoesNotFailJob(t *testing.T) {
	agent := &fakeAgent{}
	agent.onSubmit = replyAfter(30*time.Millisecond, assistant(5, "done"))
	rec := &fakeRecorder{failOn: writeback.KindProgress}
	cfg := fastConfig()
	cfg.Heartbeat = Schedule{First: 2 * time.Millisecond, Second: 2 * time.Millisecond, Every: 2 * time.Millisecond}

	reply, err := NewExecutor(agent, rec, cfg, Hooks{}).Execute(context.Background(), validPayload())
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
}

func TestExecuteToleratesPollErrors(t *testing.T) {
	agent := &fakeAgent{}
	agent.onSubmit = func(a *fakeAgent) {
		a.mu.Lock()
		a.historyErr = errors.New("flaky")
		a.mu.Unlock()
		go func() {
			time.Sleep(10 * time.Millisecond)
			a.mu.Lock()
			a.historyErr = nil
			a.history = append(a.history, assistant(9, "recovered"))
			a.mu.Unlock()
		}()
	}

	reply, err := NewExecutor(agent, &fakeRecorder{}, fastConfig(), Hooks{}).Execute(context.Background(), validPayload())
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
}

func TestExecuteParentCancellation(t *testing.T) {
	agent := &fakeAgent{}
	ctx, cancel := context.WithCancel(context.Background())
	agent.onSubmit = func(*fakeAgent) { cancel() }

	_, err := NewExecutor(agent, &fakeRecorder{}, fastConfig(), Hooks{}).Execute(ctx, validPayload())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewestReply(t *testing.T) {
	msgs := []gateway.Message{
		assistant(10, "old"),
		{Role: "user", Timestamp: 30, Content: []gateway.Fragment{{Type: "text", Text: "question"}}},
		assistant(20, "   "),
		assistant(25, "first"),
		assistant(28, "second"),
	}
	got, ok := newestReply(msgs, 10)
	require.True(t, ok)
	assert.Equal(t, "second", got)

	_, ok = newestReply(msgs, 28)
	assert.False(t, ok)
}
