// Package agent defines the handler contract and the built-in handlers.
package agent

import (
	"context"
	"time"

	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/session"
)

// Request is everything a handler gets for one delivered observation.
type Request struct {
	Obs          *observation.Observation
	Decision     gate.Decision
	SessionState *session.State
	Now          time.Time
	Hint         gate.Hint
}

// Result is what a handler produces. Emit observations are republished onto
// the input bus by the worker.
type Result struct {
	Emit []*observation.Observation
}

// Agent handles delivered observations. Implementations may block on
// external RPCs; the call runs on the session's own worker goroutine, so it
// holds up only that session. The hint's time budget arrives in the request;
// enforcing it is up to the implementation.
type Agent interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// SourceName returns the canonical agent source name for a handler id. The
// "agent:" prefix is the self-loop guard: events carrying it are delivered
// outward but never fed back to a handler.
func SourceName(id string) string {
	return observation.AgentSourcePrefix + id
}

// NewReply builds an agent-sourced MESSAGE addressed at the request's
// session. It is the only way handlers should construct replies.
func NewReply(handlerID string, req *Request, text string) *observation.Observation {
	obs := observation.New(observation.TypeMessage, SourceName(handlerID), observation.SourceInternal)
	obs.SessionKey = req.Obs.SessionKey
	obs.Actor = observation.Actor{ActorID: "agent", ActorType: observation.ActorAgent}
	obs.Payload.Message = &observation.MessagePayload{
		Text:    text,
		ReplyTo: req.Obs.ObsID,
	}
	obs.Evidence = observation.EvidenceRef{RawEventID: req.Obs.ObsID}
	return obs
}
