package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/murphys7017/mk2/internal/agent"
	"github.com/murphys7017/mk2/internal/egress"
	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/session"
)

// sessionLoop is the only writer of its session's state. Each observation is
// fully processed, including emit/ingest bookkeeping and, on DELIVER, the
// agent call, before the next one is dequeued.
func (c *Core) sessionLoop(ctx context.Context, sessionKey string, w *worker) {
	defer close(w.done)

	inbox := c.Router.GetInbox(sessionKey)
	state := c.State(sessionKey)

	for {
		obs, err := inbox.Get(ctx)
		if err != nil {
			slog.Debug("Worker stopped", "session", sessionKey, "reason", err)
			return
		}
		c.processObservation(ctx, sessionKey, obs, state)
	}
}

func (c *Core) processObservation(ctx context.Context, sessionKey string, obs *observation.Observation, state *session.State) {
	state.Record(obs)
	c.Metrics.incProcessed(sessionKey)

	if egress.ShouldEgress(obs) {
		select {
		case c.egressCh <- obs:
		default:
			c.Metrics.incEgressDropped()
			slog.Warn("Egress queue full, dropped deliverable", "session", sessionKey, "obs_id", obs.ObsID)
		}
	}

	c.Provider.ReloadIfChanged()

	gctx := &gate.Context{
		Now:              time.Now().UTC(),
		Config:           c.Provider.Snapshot(),
		SystemSessionKey: c.opts.SystemSessionKey,
		Metrics:          c.Gate.Metrics,
		SessionState:     state,
	}
	outcome := c.Gate.Handle(obs, gctx)

	for _, emit := range outcome.Emit {
		if res := c.Bus.PublishNowait(emit); !res.OK {
			slog.Warn("Emit publish dropped", "reason", res.Reason, "obs_id", emit.ObsID)
		}
	}
	for _, ing := range outcome.Ingest {
		c.Gate.Ingest(ing, outcome.Decision)
	}

	c.appendToMemory(obs)

	if outcome.Decision.Action != gate.ActionDeliver {
		return
	}
	c.handleDelivered(ctx, sessionKey, obs, state, outcome.Decision)
}

// appendToMemory records a gated non-system observation. Fail-open: the id
// is written back into metadata on success, errors only log.
func (c *Core) appendToMemory(obs *observation.Observation) {
	if c.Memory == nil || obs.SessionKey == c.opts.SystemSessionKey {
		return
	}
	eventID, err := c.Memory.AppendEvent(obs)
	if err != nil {
		slog.Warn("Memory append failed", "obs_id", obs.ObsID, "error", err)
		return
	}
	obs.Metadata["memory_event_id"] = eventID
}

func (c *Core) handleDelivered(ctx context.Context, sessionKey string, obs *observation.Observation, state *session.State, decision gate.Decision) {
	if sessionKey == c.opts.SystemSessionKey {
		c.handleSystemObservation(obs)
		return
	}

	// Self-loop guard: agent-emitted events are never handed back to the
	// agent, regardless of gate outcome.
	if obs.AgentSourced() {
		return
	}
	if c.Agent == nil || obs.Type != observation.TypeMessage {
		return
	}

	turnID := c.startTurn(obs, decision)

	req := &agent.Request{
		Obs:          obs,
		Decision:     decision,
		SessionState: state,
		Now:          time.Now().UTC(),
		Hint:         decision.Hint,
	}
	result, err := c.Agent.Handle(ctx, req)
	if err != nil {
		state.RecordError()
		c.Metrics.incError(sessionKey)
		c.finishTurn(turnID, "", err)
		slog.Warn("Agent failed", "session", sessionKey, "obs_id", obs.ObsID, "error", err)
		return
	}

	finalObsID := ""
	for _, emit := range result.Emit {
		if res := c.Bus.PublishNowait(emit); !res.OK {
			slog.Warn("Agent emit dropped", "reason", res.Reason, "obs_id", emit.ObsID)
			continue
		}
		finalObsID = emit.ObsID
	}
	c.finishTurn(turnID, finalObsID, nil)
}

// startTurn opens a memory turn for a delivered message whose event was
// recorded. Fail-open.
func (c *Core) startTurn(obs *observation.Observation, decision gate.Decision) string {
	if c.Memory == nil || decision.Action != gate.ActionDeliver || obs.Type != observation.TypeMessage {
		return ""
	}
	eventID, _ := obs.Metadata["memory_event_id"].(string)
	if eventID == "" {
		return ""
	}
	turnID, err := c.Memory.StartTurn(obs.SessionKey, eventID, "")
	if err != nil {
		slog.Warn("Memory start_turn failed", "obs_id", obs.ObsID, "error", err)
		return ""
	}
	return turnID
}

func (c *Core) finishTurn(turnID, finalObsID string, agentErr error) {
	if c.Memory == nil || turnID == "" {
		return
	}
	status := "ok"
	errMsg := ""
	if agentErr != nil {
		status = "error"
		errMsg = agentErr.Error()
	}
	if err := c.Memory.FinishTurn(turnID, status, errMsg, finalObsID); err != nil {
		slog.Warn("Memory finish_turn failed", "turn_id", turnID, "error", err)
	}
}

// egressLoop is the single consumer of the egress queue. Dispatch failures
// and timeouts log and continue.
func (c *Core) egressLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-c.egressCh:
			dctx, cancel := context.WithTimeout(ctx, c.opts.EgressTimeout)
			if err := c.Egress.Dispatch(dctx, obs); err != nil {
				slog.Warn("Egress dispatch failed", "obs_id", obs.ObsID, "error", err)
			}
			cancel()
		}
	}
}
