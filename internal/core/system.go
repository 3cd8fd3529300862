package core

import (
	"log/slog"
	"strings"
	"time"

	"github.com/murphys7017/mk2/internal/nociception"
	"github.com/murphys7017/mk2/internal/observation"
)

// handleSystemObservation dispatches system-session events: ALERT to pain
// aggregation, CONTROL to the reflex controller, SCHEDULE to overload and
// fan-out maintenance. TTL evaluation runs on every one of them.
func (c *Core) handleSystemObservation(obs *observation.Observation) {
	now := time.Now().UTC()
	switch obs.Type {
	case observation.TypeAlert:
		c.onSystemPain(obs, now)
		c.publishEmits(c.Reflex.EvaluateTTL(now))
	case observation.TypeControl:
		c.publishEmits(c.Reflex.HandleObservation(obs, now))
	case observation.TypeSchedule:
		c.onSystemTick(obs, now)
		c.publishEmits(c.Reflex.EvaluateTTL(now))
	default:
		slog.Info("System observation",
			"obs_type", obs.Type, "source", obs.SourceName, "actor", obs.Actor.ActorID)
	}
}

func (c *Core) publishEmits(emits []*observation.Observation) {
	for _, emit := range emits {
		if res := c.Bus.PublishNowait(emit); !res.OK {
			slog.Warn("System emit dropped", "reason", res.Reason, "obs_id", emit.ObsID)
		}
	}
}

// onSystemPain aggregates pain alerts per "source_kind:source_id" in a
// sliding window. An adapter bursting past the threshold is cooled down and
// fan-out is suppressed.
func (c *Core) onSystemPain(obs *observation.Observation, now time.Time) {
	sourceKey := nociception.ExtractPainKey(obs)
	severity := nociception.ExtractPainSeverity(obs)
	c.Metrics.incPain(sourceKey, severity)

	c.mu.Lock()
	timestamps := append(c.painTimestamps[sourceKey], now)
	cutoff := now.Add(-nociception.PainWindow)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.painTimestamps[sourceKey] = kept
	burst := len(kept) >= nociception.PainBurstThreshold
	c.mu.Unlock()

	slog.Info("Pain recorded", "source", sourceKey, "severity", severity, "window_count", len(kept))

	if !burst {
		return
	}

	sourceKind, sourceID, _ := strings.Cut(sourceKey, ":")
	if sourceKind == "adapter" {
		c.mu.Lock()
		c.adapterCooldown[sourceID] = now.Add(nociception.AdapterCooldown)
		c.fanoutSuppress = now.Add(nociception.FanoutSuppressSpan)
		c.mu.Unlock()
		c.Metrics.incAdapterCooldown()
		slog.Warn("Adapter cooldown triggered", "adapter", sourceID, "until", now.Add(nociception.AdapterCooldown))

		pain := nociception.MakePainAlert("system", "adapter_burst", observation.SeverityHigh, nociception.PainOpts{
			Message:    "adapter pain burst, cooling down",
			SessionKey: c.opts.SystemSessionKey,
			Data:       map[string]any{"adapter": sourceID},
		})
		if res := c.Bus.PublishNowait(pain); !res.OK {
			slog.Warn("Pain publish dropped", "reason", res.Reason)
		}
	}
}

// onSystemTick samples the bus drop counter and maintains fan-out. A drop
// spike between ticks raises a system pain alert and suppresses fan-out.
func (c *Core) onSystemTick(obs *observation.Observation, now time.Time) {
	dropsNow := c.Bus.DroppedTotal() + c.Router.DroppedTotal()
	c.mu.Lock()
	delta := dropsNow - c.dropsLast
	c.dropsLast = dropsNow
	c.mu.Unlock()

	if delta >= nociception.DropBurstThreshold {
		c.mu.Lock()
		c.fanoutSuppress = now.Add(nociception.FanoutSuppressSpan)
		c.mu.Unlock()
		c.Metrics.incDropsOverload()
		slog.Warn("Drop overload detected", "drops_delta", delta)

		pain := nociception.MakePainAlert("system", "drop_overload", observation.SeverityHigh, nociception.PainOpts{
			Message:    "drop overload in last window",
			SessionKey: c.opts.SystemSessionKey,
			Data:       map[string]any{"drops_delta": delta},
		})
		if res := c.Bus.PublishNowait(pain); !res.OK {
			slog.Warn("Pain publish dropped", "reason", res.Reason)
		}
	}

	if c.opts.EnableFanout {
		c.fanoutTick(obs, now)
	}
}

// fanoutTick forwards a lightweight tick to every active non-system session,
// unless suppression is active.
func (c *Core) fanoutTick(origin *observation.Observation, now time.Time) {
	c.mu.Lock()
	suppressed := now.Before(c.fanoutSuppress)
	c.mu.Unlock()
	if suppressed {
		c.Metrics.incFanoutSkipped()
		return
	}

	for _, sessionKey := range c.Router.ListActiveSessions() {
		if sessionKey == c.opts.SystemSessionKey {
			continue
		}
		tick := observation.New(observation.TypeSystem, "core:fanout", observation.SourceInternal)
		tick.SessionKey = sessionKey
		tick.Actor = observation.Actor{ActorID: "system", ActorType: observation.ActorSystem}
		tick.Payload.System = &observation.SystemPayload{
			Kind: "tick",
			Data: map[string]any{"fanout_from": origin.ObsID},
		}
		if res := c.Bus.PublishNowait(tick); !res.OK {
			slog.Warn("Fanout tick dropped", "session", sessionKey, "reason", res.Reason)
		}
	}
}
