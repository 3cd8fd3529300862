package reflex

import (
	"testing"
	"time"

	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
)

func suggestion(overrides map[string]any, ttlSec int) *observation.Observation {
	data := map[string]any{"suggested_overrides": overrides}
	if ttlSec > 0 {
		data["ttl_sec"] = ttlSec
	}
	return observation.NewControl("agent:planner", "system", KindTuningSuggestion, data)
}

func findControl(emits []*observation.Observation, kind string) *observation.Observation {
	for _, e := range emits {
		if e.Payload.Control != nil && e.Payload.Control.Kind == kind {
			return e
		}
	}
	return nil
}

func TestApplyWhitelistedWithDenied(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	emits := c.HandleObservation(suggestion(map[string]any{
		"force_low_model": true,
		"emergency_mode":  true,
	}, 60), now)

	applied := findControl(emits, KindTuningApplied)
	if applied == nil {
		t.Fatal("expected tuning_applied emit")
	}
	approved := applied.Payload.Control.Data["approved"].(map[string]any)
	denied := applied.Payload.Control.Data["denied"].(map[string]any)
	if approved["force_low_model"] != true {
		t.Errorf("approved = %v", approved)
	}
	if denied["emergency_mode"] != "not_whitelisted" {
		t.Errorf("denied = %v", denied)
	}

	if findControl(emits, KindSystemModeChanged) == nil {
		t.Error("expected system_mode_changed emit")
	}
	if !provider.Snapshot().Overrides.ForceLowModel {
		t.Error("force_low_model not applied to snapshot")
	}
	if provider.Snapshot().Overrides.EmergencyMode {
		t.Error("emergency_mode must never be applied by the controller")
	}
}

func TestTTLRevert(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	c.HandleObservation(suggestion(map[string]any{"force_low_model": true}, 60), now)
	if !provider.Snapshot().Overrides.ForceLowModel {
		t.Fatal("override not applied")
	}

	// Before the TTL, nothing reverts.
	if emits := c.EvaluateTTL(now.Add(59 * time.Second)); len(emits) != 0 {
		t.Fatalf("premature revert: %v", emits)
	}

	emits := c.EvaluateTTL(now.Add(61 * time.Second))
	reverted := findControl(emits, KindTuningReverted)
	if reverted == nil {
		t.Fatal("expected tuning_reverted emit")
	}
	if provider.Snapshot().Overrides.ForceLowModel {
		t.Error("override still active after TTL")
	}
	if len(c.ActiveOverrides()) != 0 {
		t.Errorf("active overrides = %v, want empty", c.ActiveOverrides())
	}
}

func TestCooldownDeniesReapply(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	c.HandleObservation(suggestion(map[string]any{"force_low_model": true}, 60), now)
	emits := c.HandleObservation(suggestion(map[string]any{"force_low_model": true}, 60), now.Add(5*time.Second))

	applied := findControl(emits, KindTuningApplied)
	if applied == nil {
		t.Fatal("expected tuning_applied emit")
	}
	if reason := applied.Payload.Control.Data["reason"]; reason != "cooldown" {
		t.Errorf("reason = %v, want cooldown", reason)
	}
}

func TestInvalidPayloadDenied(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Now().UTC()

	obs := observation.NewControl("agent:planner", "system", KindTuningSuggestion, map[string]any{})
	emits := c.HandleObservation(obs, now)
	applied := findControl(emits, KindTuningApplied)
	if applied == nil {
		t.Fatal("expected tuning_applied emit")
	}
	if reason := applied.Payload.Control.Data["reason"]; reason != "invalid_payload" {
		t.Errorf("reason = %v, want invalid_payload", reason)
	}
	if provider.Snapshot().Overrides.ForceLowModel {
		t.Error("invalid payload must not change state")
	}
}

func TestTTLClampedToCap(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)

	c.HandleObservation(suggestion(map[string]any{"force_low_model": true}, 100000), now)
	active := c.ActiveOverrides()
	until, ok := active["force_low_model"]
	if !ok {
		t.Fatal("override not active")
	}
	if until.After(now.Add(TTLCap)) {
		t.Errorf("TTL %v exceeds cap", until.Sub(now))
	}
}

func TestNonSuggestionControlOnlyEvaluatesTTL(t *testing.T) {
	provider := gate.NewConfigProvider("")
	c := New(provider, DefaultConfig(), "system")
	now := time.Now().UTC()

	obs := observation.NewControl("system_reflex", "system", KindTuningApplied, nil)
	if emits := c.HandleObservation(obs, now); len(emits) != 0 {
		t.Errorf("unexpected emits: %v", emits)
	}
}
