// Package events is the worker's in-process event stream. The dispatcher
// and session runner publish; the ops server replays and streams over SSE.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	JobClaimed      = "job.claimed"
	JobAcked        = "job.acked"
	SessionState    = "session.state"
	SessionProgress = "session.progress"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// ClaimedData accompanies JobClaimed.
type ClaimedData struct {
	JobID string `json:"job_id"`
	Class string `json:"class"`
}

// AckedData accompanies JobAcked.
type AckedData struct {
	JobID   string `json:"job_id"`
	Class   string `json:"class"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// SessionData accompanies SessionState and SessionProgress.
type SessionData struct {
	JobID          string `json:"job_id"`
	ConversationID string `json:"conversation_id"`
	State          string `json:"state,omitempty"`
	Text           string `json:"text,omitempty"`
}

// Hub fans events out to subscribers and keeps the most recent ones for
// clients that connect late. A nil *Hub drops everything.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than stall the worker.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a live channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) push(ev Event) {
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % len(h.ring)
}
