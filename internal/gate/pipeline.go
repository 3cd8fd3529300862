package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/murphys7017/mk2/internal/nociception"
	"github.com/murphys7017/mk2/internal/observation"
)

// sceneInference maps an observation to a scene.
type sceneInference struct{}

func (sceneInference) Name() string { return "scene" }

func (sceneInference) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	switch {
	case obs.Type == observation.TypeAlert:
		w.scene = SceneAlert
	case obs.SessionKey == ctx.SystemSessionKey:
		w.scene = SceneSystem
	case obs.Type == observation.TypeMessage && obs.Actor.ActorType == observation.ActorUser:
		if obs.Payload.Message != nil && len(obs.Payload.Message.Mentions) > 0 {
			w.scene = SceneGroup
		} else {
			w.scene = SceneDialogue
		}
	case strings.Contains(obs.SourceName, "tool"):
		if obs.Type == observation.TypeWorldData || strings.Contains(obs.SourceName, "tool_result") {
			w.scene = SceneToolResult
		} else {
			w.scene = SceneToolCall
		}
	default:
		w.scene = SceneUnknown
	}
}

// dropMonitor tracks DROP decisions in a sliding window plus a consecutive
// counter. An ALERT passing the gate resets the consecutive count.
type dropMonitor struct {
	mu          sync.Mutex
	timestamps  []time.Time
	consecutive int
}

func (m *dropMonitor) recordDrop(now time.Time, cfg DropEscalation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps = append(m.timestamps, now)
	m.consecutive++
	cutoff := now.Add(-time.Duration(cfg.BurstWindowSec * float64(time.Second)))
	kept := m.timestamps[:0]
	for _, ts := range m.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.timestamps = kept
	return len(m.timestamps) >= cfg.BurstCountThreshold || m.consecutive >= cfg.ConsecutiveThreshold
}

func (m *dropMonitor) resetConsecutive() {
	m.mu.Lock()
	m.consecutive = 0
	m.mu.Unlock()
}

// hardBypass short-circuits overloaded systems and empty messages, and
// escalates drop bursts as pain.
type hardBypass struct {
	monitor dropMonitor
}

func (*hardBypass) Name() string { return "hard_bypass" }

func (h *hardBypass) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	cfg := ctx.Config.DropEscalation

	if ctx.SystemHealth != nil && ctx.SystemHealth.Overload {
		w.action = ActionDrop
		w.reason("system_overload")
		w.emit = append(w.emit, nociception.MakePainAlert("system", "gate_overload", observation.SeverityHigh, nociception.PainOpts{
			Message:    "gate overload, dropping input",
			SessionKey: ctx.SystemSessionKey,
			Data:       map[string]any{"cooldown_seconds": cfg.CooldownSuggestSec},
		}))
		return
	}

	if obs.Type == observation.TypeAlert {
		h.monitor.resetConsecutive()
		return
	}

	if obs.Type == observation.TypeMessage && obs.Payload.Message != nil && obs.Payload.Message.Empty() {
		w.action = ActionDrop
		w.reason("empty_content")
	}

	if w.action == ActionDrop {
		if h.monitor.recordDrop(ctx.Now, cfg) {
			w.tags["drop_burst"] = "true"
			w.emit = append(w.emit, nociception.MakePainAlert("gate", "drop_burst", observation.SeverityHigh, nociception.PainOpts{
				Message:    "drop burst detected",
				SessionKey: ctx.SystemSessionKey,
				Data: map[string]any{
					"burst_window_sec":      cfg.BurstWindowSec,
					"burst_count_threshold": cfg.BurstCountThreshold,
					"consecutive_threshold": cfg.ConsecutiveThreshold,
					"cooldown_seconds":      cfg.CooldownSuggestSec,
				},
			}))
		}
	} else {
		h.monitor.resetConsecutive()
	}
}

// featureExtraction gathers the signals scoring runs on.
type featureExtraction struct{}

func (featureExtraction) Name() string { return "feature" }

func (featureExtraction) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	w.features["obs_type"] = string(obs.Type)
	w.features["source_name"] = obs.SourceName
	w.features["actor_id"] = obs.Actor.ActorID
	if ctx.SessionState != nil {
		w.features["recent_len"] = len(ctx.SessionState.Recent())
	}

	if obs.Type == observation.TypeMessage && obs.Payload.Message != nil {
		text := obs.Text()
		w.features["text_len"] = len(text)
		w.features["has_mention"] = len(obs.Payload.Message.Mentions) > 0 || strings.Contains(text, "@")
		w.features["has_question"] = strings.Contains(text, "?")
		w.features["attachments"] = len(obs.Payload.Message.Attachments)
		w.features["mentions"] = len(obs.Payload.Message.Mentions)
	}
	if obs.Type == observation.TypeAlert && obs.Payload.Alert != nil {
		w.features["alert_severity"] = string(obs.Payload.Alert.Severity)
	}
}

// scoring computes the per-scene weighted sum, clamped to [0,1].
type scoring struct{}

func (scoring) Name() string { return "scoring" }

func (scoring) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	score := 0.0
	rules := ctx.Config.SceneRules(w.scene)
	weight := func(k string, fallback float64) float64 {
		if v, ok := rules.Weights[k]; ok {
			return v
		}
		return fallback
	}

	switch w.scene {
	case SceneDialogue:
		score += weight("base", 0.10)
		if b, _ := w.features["has_mention"].(bool); b {
			score += weight("mention", 0.40)
		}
		if b, _ := w.features["has_question"].(bool); b {
			score += weight("question_mark", 0.15)
		}
		textLen, _ := w.features["text_len"].(int)
		longLen := rules.LongTextLen
		if longLen <= 0 {
			longLen = 300
		}
		if textLen >= longLen {
			score += weight("long_text", 0.10)
		}
		text := strings.ToLower(obs.Text())
		for kw, kwWeight := range rules.Keywords {
			if strings.Contains(text, kw) {
				score += kwWeight
			}
		}
	case SceneGroup:
		score += weight("base", 0.05)
		if b, _ := w.features["has_mention"].(bool); b {
			score += weight("mention", 0.60)
		}
		if actorID, _ := w.features["actor_id"].(string); actorID != "" && containsString(rules.WhitelistActors, actorID) {
			score += weight("whitelist_actor", 0.25)
		}
	case SceneAlert:
		score += 0.6
	case SceneSystem:
		score += weight("base", 0.0)
	case SceneToolCall:
		score += 0.7
	case SceneToolResult:
		score += 0.5
	}

	if textLen, _ := w.features["text_len"].(int); textLen > 0 {
		bump := float64(textLen) / 200.0
		if bump > 0.2 {
			bump = 0.2
		}
		score += bump
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	w.score = score
}

// dedup marks repeats inside the scene's window as SINK, keeping an earlier
// DROP. ALERT and SYSTEM scenes are never deduplicated.
type dedup struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newDedup() *dedup {
	return &dedup{lastSeen: map[string]time.Time{}}
}

func (*dedup) Name() string { return "dedup" }

// Fingerprint is a stable hash over normalized text, scene, actor, session,
// and obs type.
func fingerprint(obs *observation.Observation, scene Scene) string {
	parts := []string{
		strings.ToLower(obs.Text()),
		string(scene),
		obs.Actor.ActorID,
		obs.SessionKey,
		string(obs.Type),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (d *dedup) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	fp := fingerprint(obs, w.scene)
	w.fingerprint = fp

	// ALERT is never deduplicated; SYSTEM carries the controller's tick and
	// control traffic, which must keep flowing.
	if w.scene == SceneAlert || w.scene == SceneSystem {
		return
	}
	window := time.Duration(ctx.Config.ScenePolicy(w.scene).DedupWindowSec * float64(time.Second))

	key := obs.SessionKey + "|" + fp
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeen[key]; ok && ctx.Now.Sub(last) <= window {
		w.tags["dedup"] = "hit"
		if w.action == "" {
			// A hard-bypass DROP outranks the dedup SINK.
			w.action = ActionSink
		}
		w.reason("dedup_hit")
	}
	d.lastSeen[key] = ctx.Now

	// Keep the map bounded; windows are short.
	if len(d.lastSeen) > 4096 {
		cutoff := ctx.Now.Add(-window)
		for k, ts := range d.lastSeen {
			if ts.Before(cutoff) {
				delete(d.lastSeen, k)
			}
		}
	}
}

// policyMapper applies the override and threshold policy in strict priority
// order and always attaches a hint before finalize.
type policyMapper struct{}

func (policyMapper) Name() string { return "policy" }

func (policyMapper) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	policy := ctx.Config.ScenePolicy(w.scene)
	overrides := ctx.Config.Overrides
	agentSourced := obs.AgentSourced()

	defer func() {
		if w.hint == nil {
			w.hint = buildHint(ctx, w, policy)
		}
	}()

	// 1. Emergency mode wins over everything.
	if overrides.EmergencyMode {
		w.action = ActionSink
		w.modelTier = TierLow
		w.responsePolicy = policy.DefaultResponsePolicy
		w.reason("override=emergency")
		return
	}

	// 2-3. Hard drop lists.
	if containsString(overrides.DropSessions, obs.SessionKey) {
		w.action = ActionDrop
		w.reason("override=drop_session")
		return
	}
	if obs.Actor.ActorID != "" && containsString(overrides.DropActors, obs.Actor.ActorID) {
		w.action = ActionDrop
		w.reason("override=drop_actor")
		return
	}

	// 4. A prior stage's verdict sticks: hard-bypass DROP and dedup SINK are
	// both earlier in the pipeline than any deliver override.
	if w.action != "" {
		w.reason("action_hint")
		w.modelTier = policy.DefaultModelTier
		w.responsePolicy = policy.DefaultResponsePolicy
		return
	}

	// 5. User dialogue safety valve: a real user message that was not
	// short-circuited earlier is always delivered.
	if obs.Type == observation.TypeMessage &&
		obs.Actor.ActorType == observation.ActorUser &&
		!agentSourced {
		w.action = ActionDeliver
		w.modelTier = policy.DefaultModelTier
		w.responsePolicy = policy.DefaultResponsePolicy
		w.reason("user_dialogue_safe_valve")
		if overrides.ForceLowModel {
			w.modelTier = TierLow
			w.reason("override=force_low_model")
		}
		return
	}

	// 6-7. Deliver lists, excluding agent-sourced events.
	if !agentSourced && containsString(overrides.DeliverSessions, obs.SessionKey) {
		w.action = ActionDeliver
		w.modelTier = policy.DefaultModelTier
		w.responsePolicy = policy.DefaultResponsePolicy
		w.reason("override=deliver_session")
	} else if !agentSourced && obs.Actor.ActorID != "" && containsString(overrides.DeliverActors, obs.Actor.ActorID) {
		w.action = ActionDeliver
		w.modelTier = policy.DefaultModelTier
		w.responsePolicy = policy.DefaultResponsePolicy
		w.reason("override=deliver_actor")
	} else if w.action == "" {
		// 8. Standard threshold policy.
		switch {
		case obs.Type == observation.TypeMessage:
			w.action = ActionDeliver
		case w.score >= policy.DeliverThreshold:
			w.action = ActionDeliver
		case w.score >= policy.SinkThreshold:
			w.action = ActionSink
		default:
			w.action = policy.DefaultAction
		}
		w.modelTier = policy.DefaultModelTier
		w.responsePolicy = policy.DefaultResponsePolicy
	}

	// 9. Low-model clamp on delivery.
	if w.action == ActionDeliver && overrides.ForceLowModel {
		w.modelTier = TierLow
		w.reason("override=force_low_model")
	}
}

func buildHint(ctx *Context, w *wip, policy ScenePolicy) *Hint {
	budget := ctx.Config.SelectBudget(w.score, w.scene)
	tier := w.modelTier
	if tier == "" {
		tier = policy.DefaultModelTier
	}
	if tier == "" {
		tier = TierLow
	}
	resp := w.responsePolicy
	if resp == "" {
		resp = policy.DefaultResponsePolicy
	}
	if resp == "" {
		resp = RespondNow
	}
	tags := make([]string, len(w.reasons))
	copy(tags, w.reasons)
	return &Hint{
		ModelTier:      tier,
		ResponsePolicy: resp,
		Budget:         budget,
		ReasonTags:     tags,
		Debug:          map[string]any{"score": w.score, "scene": string(w.scene)},
	}
}

// finalize assembles the decision and outcome and updates metrics.
type finalize struct{}

func (finalize) Name() string { return "finalize" }

func (finalize) Apply(obs *observation.Observation, ctx *Context, w *wip) {
	scene := w.scene
	if scene == "" {
		scene = SceneUnknown
	}
	action := w.action
	if action == "" {
		action = ActionSink
	}
	if w.fingerprint == "" {
		w.fingerprint = fingerprint(obs, scene)
	}

	policy := ctx.Config.ScenePolicy(scene)
	reasons := w.reasons
	if policy.MaxReasons > 0 && len(reasons) > policy.MaxReasons {
		reasons = reasons[:policy.MaxReasons]
	}

	var hint Hint
	if w.hint != nil {
		hint = *w.hint
	} else {
		hint = *buildHint(ctx, w, policy)
	}

	targetWorker := ""
	if scene == SceneSystem {
		targetWorker = ctx.SystemSessionKey
	}

	decision := Decision{
		Action:       action,
		Scene:        scene,
		SessionKey:   obs.SessionKey,
		TargetWorker: targetWorker,
		Score:        w.score,
		Reasons:      reasons,
		Tags:         w.tags,
		Fingerprint:  w.fingerprint,
		Hint:         hint,
	}

	ingest := w.ingest
	if len(ingest) == 0 {
		if action == ActionDrop || action == ActionSink || scene == SceneToolResult {
			ingest = append(ingest, obs)
		}
	}

	w.outcome = &Outcome{Decision: decision, Emit: w.emit, Ingest: ingest}

	if ctx.Metrics != nil {
		ctx.Metrics.record(scene, action)
	}
}

// pipeline runs the stages in fixed order. A panicking stage is recovered,
// reason-tagged, and the run continues; a decision is always produced.
type pipeline struct {
	stages []stage
}

func newPipeline() *pipeline {
	return &pipeline{stages: []stage{
		sceneInference{},
		&hardBypass{},
		featureExtraction{},
		scoring{},
		newDedup(),
		policyMapper{},
		finalize{},
	}}
}

func (p *pipeline) run(obs *observation.Observation, ctx *Context, w *wip) {
	for _, s := range p.stages {
		applyStage(s, obs, ctx, w)
	}
}

func applyStage(s stage, obs *observation.Observation, ctx *Context, w *wip) {
	defer func() {
		if r := recover(); r != nil {
			w.reason(fmt.Sprintf("%s_error:%v", s.Name(), r))
		}
	}()
	s.Apply(obs, ctx, w)
	if ctx.Trace != nil {
		ctx.Trace(s.Name(), w.action)
	}
}
