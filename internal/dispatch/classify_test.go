package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedge123/edge-bot/internal/queue"
)

func TestClassifySessionJob(t *testing.T) {
	job := &queue.Job{ID: "q-1", Payload: map[string]any{
		"source":          "edge-chat",
		"user_id":         123,
		"conversation_id": "c-9",
		"message":         "what's up",
		"extra":           map[string]any{"ignored": true},
	}}

	w, err := NewClassifier(nil).Classify(job)
	require.NoError(t, err)
	sw, ok := w.(SessionWork)
	require.True(t, ok)
	assert.Same(t, job, sw.Job)
	assert.Equal(t, "123", sw.Payload.UserID)
	assert.Equal(t, "c-9", sw.Payload.ConversationID)
	assert.Equal(t, "what's up", sw.Payload.Message)
	assert.Equal(t, "q-1", sw.Payload.JobID, "falls back to the queue id")
}

func TestClassifyKeepsPayloadJobID(t *testing.T) {
	w, err := NewClassifier(nil).Classify(&queue.Job{ID: "q-1", Payload: map[string]any{
		"source": "edge-chat", "job_id": "chat-7",
	}})
	require.NoError(t, err)
	assert.Equal(t, "chat-7", w.(SessionWork).Payload.JobID)
}

func TestClassifyGenericJob(t *testing.T) {
	w, err := NewClassifier(nil).Classify(&queue.Job{ID: "q-2", Payload: map[string]any{
		"source":       "gmail",
		"trigger_name": "inbox",
		"learning_id":  42,
	}})
	require.NoError(t, err)
	nw, ok := w.(NotifyWork)
	require.True(t, ok)
	assert.Equal(t, "inbox", nw.Payload.TriggerName)
	assert.Equal(t, "42", nw.Payload.LearningID)
	assert.Equal(t, ClassNotify, w.class())
}

func TestClassifyGenericToleratesOddFields(t *testing.T) {
	w, err := NewClassifier(nil).Classify(&queue.Job{ID: "q-3", Payload: map[string]any{
		"text":         map[string]any{"nested": 1},
		"trigger_name": "X",
	}})
	require.NoError(t, err)
	nw := w.(NotifyWork)
	assert.Empty(t, nw.Payload.Text)
	assert.Equal(t, "X", nw.Payload.TriggerName)
}

func TestClassifyBadSessionPayload(t *testing.T) {
	w, err := NewClassifier(nil).Classify(&queue.Job{ID: "q-4", Payload: map[string]any{
		"source":  "edge-chat",
		"message": []any{"not", "a", "string"},
	}})
	require.Error(t, err)
	assert.Equal(t, ClassSession, w.class())
	assert.Equal(t, "q-4", w.job().ID)
}

func TestClassifyCustomSources(t *testing.T) {
	c := NewClassifier([]string{"lab-chat"})
	w, err := c.Classify(&queue.Job{ID: "a", Payload: map[string]any{"source": "lab-chat"}})
	require.NoError(t, err)
	assert.Equal(t, ClassSession, w.class())

	w, err = c.Classify(&queue.Job{ID: "b", Payload: map[string]any{"source": "edge-chat"}})
	require.NoError(t, err)
	assert.Equal(t, ClassNotify, w.class())
}

func TestClassifyNilPayload(t *testing.T) {
	w, err := NewClassifier(nil).Classify(&queue.Job{ID: "n"})
	require.NoError(t, err)
	assert.Equal(t, ClassNotify, w.class())
}
