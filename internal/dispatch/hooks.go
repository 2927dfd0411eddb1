package dispatch

import (
	"github.com/acedge123/edge-bot/internal/events"
	"github.com/acedge123/edge-bot/internal/metrics"
	"github.com/acedge123/edge-bot/internal/session"
)

// SessionHooks publishes session transitions and progress notes and counts
// the notes. Either argument may be nil.
func SessionHooks(hub *events.Hub, m *metrics.Metrics) session.Hooks {
	return session.Hooks{
		State: func(p session.Payload, s session.State) {
			hub.Publish(events.SessionState, events.SessionData{
				JobID: p.JobID, ConversationID: p.ConversationID, State: string(s),
			})
		},
		Progress: func(p session.Payload, text string) {
			m.Progress()
			hub.Publish(events.SessionProgress, events.SessionData{
				JobID: p.JobID, ConversationID: p.ConversationID, Text: text,
			})
		},
	}
}
