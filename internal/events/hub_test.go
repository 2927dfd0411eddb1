package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingKeepsMostRecent(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(JobClaimed, ClaimedData{JobID: string(rune('a' + i))})
	}

	evs := h.Since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{evs[0].ID, evs[1].ID, evs[2].ID})

	evs = h.Since(4)
	require.Len(t, evs, 1)
	var data ClaimedData
	require.NoError(t, json.Unmarshal(evs[0].Data, &data))
	assert.Equal(t, "e", data.JobID)
}

func TestHubSubscribeReceivesLiveEvents(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(JobAcked, AckedData{JobID: "j1", Outcome: "done"})
	select {
	case ev := <-ch:
		assert.Equal(t, JobAcked, ev.Type)
		assert.JSONEq(t, `{"job_id":"j1","class":"","outcome":"done"}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
}

func TestHubNilIsNoop(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(SessionState, nil) })
}

func TestHubUnmarshalableDataFallsBackToEmptyObject(t *testing.T) {
	h := NewHub(1)
	h.Publish("x", make(chan int))
	evs := h.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, "{}", string(evs[0].Data))
}
