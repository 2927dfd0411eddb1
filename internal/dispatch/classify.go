package dispatch

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/acedge123/edge-bot/internal/log"
	"github.com/acedge123/edge-bot/internal/notify"
	"github.com/acedge123/edge-bot/internal/queue"
	"github.com/acedge123/edge-bot/internal/session"
)

// Class names the two kinds of work.
type Class string

const (
	ClassNotify  Class = "notify"
	ClassSession Class = "session"
)

// DefaultSessionSource is the payload source of chat jobs.
const DefaultSessionSource = "edge-chat"

// Work is a classified job: either NotifyWork or SessionWork.
type Work interface {
	class() Class
	job() *queue.Job
}

type NotifyWork struct {
	Job     *queue.Job
	Payload notify.Payload
}

type SessionWork struct {
	Job     *queue.Job
	Payload session.Payload
}

func (w NotifyWork) class() Class     { return ClassNotify }
func (w NotifyWork) job() *queue.Job  { return w.Job }
func (w SessionWork) class() Class    { return ClassSession }
func (w SessionWork) job() *queue.Job { return w.Job }

// Classifier routes jobs by their payload source.
type Classifier struct {
	sources map[string]struct{}
}

// NewClassifier treats jobs whose source is in sources as session work.
// An empty list means DefaultSessionSource.
func NewClassifier(sources []string) *Classifier {
	if len(sources) == 0 {
		sources = []string{DefaultSessionSource}
	}
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	return &Classifier{sources: set}
}

// Classify decodes the raw payload once. Session payloads that cannot be
// decoded are an error; generic payloads decode best effort since any text
// will do.
func (c *Classifier) Classify(job *queue.Job) (Work, error) {
	var head struct {
		Source string `mapstructure:"source"`
	}
	_ = decode(job.Payload, &head)

	if _, ok := c.sources[head.Source]; ok {
		var p session.Payload
		if err := decode(job.Payload, &p); err != nil {
			return SessionWork{Job: job}, fmt.Errorf("decode session payload: %w", err)
		}
		if p.JobID == "" {
			p.JobID = job.ID
		}
		return SessionWork{Job: job, Payload: p}, nil
	}

	var p notify.Payload
	if err := decode(job.Payload, &p); err != nil {
		log.WithJob(job.ID).Warn("partial notify payload", "error", err)
	}
	return NotifyWork{Job: job, Payload: p}, nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
