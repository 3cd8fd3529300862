// Package reflex translates CONTROL tuning suggestions into whitelisted,
// TTL-bounded gate overrides with cooldown and automatic revert.
package reflex

import (
	"log/slog"
	"time"

	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
)

// Control kinds consumed and emitted by the controller.
const (
	KindTuningSuggestion  = "tuning_suggestion"
	KindTuningApplied     = "tuning_applied"
	KindSystemModeChanged = "system_mode_changed"
	KindTuningReverted    = "tuning_reverted"
)

// TTLCap is the hard upper bound on suggestion TTLs.
const TTLCap = 3600 * time.Second

// Config tunes the controller.
type Config struct {
	AllowAgentSuggestions bool
	Whitelist             []string
	SuggestionTTL         time.Duration
	SuggestionCooldown    time.Duration
}

// DefaultConfig returns the shipped reflex policy. emergency_mode is
// deliberately not whitelisted.
func DefaultConfig() Config {
	return Config{
		AllowAgentSuggestions: true,
		Whitelist:             []string{"force_low_model"},
		SuggestionTTL:         60 * time.Second,
		SuggestionCooldown:    30 * time.Second,
	}
}

// overrideState tracks one applied override key until its TTL expires.
type overrideState struct {
	value         any
	activeUntil   time.Time
	lastAppliedAt time.Time
	appliedReason string
}

// Controller owns the suggestion lifecycle. It is driven exclusively by the
// system-session worker, so its state needs no locking.
type Controller struct {
	provider *gate.ConfigProvider
	cfg      Config

	sessionKey string
	active     map[string]*overrideState
	lastApply  map[string]time.Time
}

// New creates a controller bound to the gate config provider.
func New(provider *gate.ConfigProvider, cfg Config, systemSessionKey string) *Controller {
	return &Controller{
		provider:   provider,
		cfg:        cfg,
		sessionKey: systemSessionKey,
		active:     map[string]*overrideState{},
		lastApply:  map[string]time.Time{},
	}
}

// HandleObservation processes one system-session observation. CONTROL
// tuning suggestions are applied; TTLs are evaluated on every call.
func (c *Controller) HandleObservation(obs *observation.Observation, now time.Time) []*observation.Observation {
	var emits []*observation.Observation
	if obs.Type == observation.TypeControl && obs.Payload.Control != nil &&
		obs.Payload.Control.Kind == KindTuningSuggestion {
		emits = append(emits, c.handleSuggestion(obs, now)...)
	}
	emits = append(emits, c.EvaluateTTL(now)...)
	return emits
}

func (c *Controller) handleSuggestion(obs *observation.Observation, now time.Time) []*observation.Observation {
	data := obs.Payload.Control.Data

	if !c.cfg.AllowAgentSuggestions {
		return []*observation.Observation{c.emitApplied(nil, map[string]string{}, 0, now, "agent_suggestion_disabled")}
	}

	suggested, ok := data["suggested_overrides"].(map[string]any)
	if !ok || len(suggested) == 0 {
		return []*observation.Observation{c.emitApplied(nil, map[string]string{}, 0, now, "invalid_payload")}
	}

	ttl := c.cfg.SuggestionTTL
	switch v := data["ttl_sec"].(type) {
	case int:
		ttl = time.Duration(v) * time.Second
	case float64:
		ttl = time.Duration(v * float64(time.Second))
	}
	if ttl <= 0 {
		ttl = c.cfg.SuggestionTTL
	}
	if ttl > TTLCap {
		ttl = TTLCap
	}

	approved := map[string]any{}
	denied := map[string]string{}
	for key, value := range suggested {
		if !c.whitelisted(key) {
			denied[key] = "not_whitelisted"
			continue
		}
		if last, ok := c.lastApply[key]; ok && now.Sub(last) < c.cfg.SuggestionCooldown {
			denied[key] = "cooldown"
			continue
		}
		approved[key] = value
	}

	if len(approved) == 0 {
		reason := "no_allowed_overrides"
		if allDenied(denied, "cooldown") {
			reason = "cooldown"
		}
		return []*observation.Observation{c.emitApplied(nil, denied, ttl, now, reason)}
	}

	changed := c.provider.UpdateOverrides(c.buildPatch(approved))
	until := now.Add(ttl)
	for key, value := range approved {
		c.active[key] = &overrideState{
			value:         value,
			activeUntil:   until,
			lastAppliedAt: now,
			appliedReason: "agent_suggestion",
		}
		c.lastApply[key] = now
	}

	slog.Info("Tuning suggestion applied",
		"approved", approved, "denied", denied, "ttl", ttl, "changed", changed)

	emits := []*observation.Observation{c.emitApplied(approved, denied, ttl, now, "agent_suggestion")}
	if changed {
		emits = append(emits, c.emitModeChanged("agent_suggestion"))
	}
	return emits
}

// EvaluateTTL reverts every override whose TTL has expired.
func (c *Controller) EvaluateTTL(now time.Time) []*observation.Observation {
	var expired []string
	for key, st := range c.active {
		if !now.Before(st.activeUntil) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	reverted := map[string]any{}
	for _, key := range expired {
		reverted[key] = revertValue(key)
		delete(c.active, key)
	}
	changed := c.provider.UpdateOverrides(c.buildPatch(reverted))

	slog.Info("Tuning overrides reverted", "keys", expired, "changed", changed)

	emits := []*observation.Observation{
		observation.NewControl("system_reflex", c.sessionKey, KindTuningReverted, map[string]any{
			"reverted_overrides": reverted,
			"reason":             "ttl_expired",
		}),
	}
	if changed {
		emits = append(emits, c.emitModeChanged("ttl_expired"))
	}
	return emits
}

// ActiveOverrides returns the currently applied override keys and deadlines.
func (c *Controller) ActiveOverrides() map[string]time.Time {
	out := map[string]time.Time{}
	for key, st := range c.active {
		out[key] = st.activeUntil
	}
	return out
}

func (c *Controller) whitelisted(key string) bool {
	for _, k := range c.cfg.Whitelist {
		if k == key {
			return true
		}
	}
	return false
}

func allDenied(denied map[string]string, reason string) bool {
	if len(denied) == 0 {
		return false
	}
	for _, r := range denied {
		if r != reason {
			return false
		}
	}
	return true
}

// buildPatch converts approved key/values into a typed override patch. Only
// boolean switches are expressible today.
func (c *Controller) buildPatch(values map[string]any) gate.OverridePatch {
	var patch gate.OverridePatch
	for key, value := range values {
		b, _ := value.(bool)
		switch key {
		case "force_low_model":
			v := b
			patch.ForceLowModel = &v
		case "emergency_mode":
			v := b
			patch.EmergencyMode = &v
		}
	}
	return patch
}

// revertValue is the value a key returns to when its TTL expires.
func revertValue(key string) any {
	switch key {
	case "force_low_model", "emergency_mode":
		return false
	default:
		return nil
	}
}

func (c *Controller) emitApplied(approved map[string]any, denied map[string]string, ttl time.Duration, now time.Time, reason string) *observation.Observation {
	if approved == nil {
		approved = map[string]any{}
	}
	deniedAny := map[string]any{}
	for k, v := range denied {
		deniedAny[k] = v
	}
	data := map[string]any{
		"approved": approved,
		"denied":   deniedAny,
		"reason":   reason,
	}
	if len(approved) > 0 {
		data["ttl_sec"] = int(ttl / time.Second)
		data["until_ts"] = now.Add(ttl).Unix()
	}
	return observation.NewControl("system_reflex", c.sessionKey, KindTuningApplied, data)
}

func (c *Controller) emitModeChanged(reason string) *observation.Observation {
	overrides := c.provider.Snapshot().Overrides
	return observation.NewControl("system_reflex", c.sessionKey, KindSystemModeChanged, map[string]any{
		"changed_overrides": map[string]any{
			"emergency_mode":  overrides.EmergencyMode,
			"force_low_model": overrides.ForceLowModel,
		},
		"reason": reason,
	})
}
