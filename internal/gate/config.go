package gate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DropEscalation configures the drop-burst monitor in the hard-bypass stage.
type DropEscalation struct {
	BurstWindowSec       float64 `yaml:"burst_window_sec"`
	BurstCountThreshold  int     `yaml:"burst_count_threshold"`
	ConsecutiveThreshold int     `yaml:"consecutive_threshold"`
	CooldownSuggestSec   float64 `yaml:"cooldown_suggest_sec"`
}

// Overrides are the runtime-mutable policy switches. They are replaced as a
// whole when a new snapshot is published.
type Overrides struct {
	EmergencyMode   bool     `yaml:"emergency_mode"`
	ForceLowModel   bool     `yaml:"force_low_model"`
	DropSessions    []string `yaml:"drop_sessions"`
	DeliverSessions []string `yaml:"deliver_sessions"`
	DropActors      []string `yaml:"drop_actors"`
	DeliverActors   []string `yaml:"deliver_actors"`
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ScenePolicy holds thresholds and defaults for one scene.
type ScenePolicy struct {
	DeliverThreshold      float64 `yaml:"deliver_threshold"`
	SinkThreshold         float64 `yaml:"sink_threshold"`
	DefaultAction         Action  `yaml:"default_action"`
	DefaultModelTier      string  `yaml:"default_model_tier"`
	DefaultResponsePolicy string  `yaml:"default_response_policy"`
	DedupWindowSec        float64 `yaml:"dedup_window_sec"`
	MaxReasons            int     `yaml:"max_reasons"`
}

// SceneRules holds per-scene scoring weights and keyword lists.
type SceneRules struct {
	Weights         map[string]float64 `yaml:"weights"`
	Keywords        map[string]float64 `yaml:"keywords"`
	LongTextLen     int                `yaml:"long_text_len"`
	WhitelistActors []string           `yaml:"whitelist_actors"`
}

// BudgetThresholds map scores to budget profiles.
type BudgetThresholds struct {
	HighScore   float64 `yaml:"high_score"`
	MediumScore float64 `yaml:"medium_score"`
}

// Config is an immutable gate policy snapshot. Mutation always produces a new
// value; readers capture the pointer once per observation.
type Config struct {
	Version          int                    `yaml:"version"`
	ScenePolicies    map[Scene]ScenePolicy  `yaml:"scene_policies"`
	Rules            map[Scene]SceneRules   `yaml:"rules"`
	DropEscalation   DropEscalation         `yaml:"drop_escalation"`
	Overrides        Overrides              `yaml:"overrides"`
	BudgetThresholds BudgetThresholds       `yaml:"budget_thresholds"`
	BudgetProfiles   map[string]BudgetSpec  `yaml:"budget_profiles"`
}

func defaultBudgetProfiles() map[string]BudgetSpec {
	return map[string]BudgetSpec{
		"tiny": {
			Level: "tiny", TimeMs: 800, MaxTokens: 256, MaxParallel: 1,
			EvidenceAllowed: false, MaxToolCalls: 0, CanSearchKB: true,
			CanCallTools: true, AutoClarify: true,
		},
		"normal": {
			Level: "normal", TimeMs: 1500, MaxTokens: 512, MaxParallel: 2,
			EvidenceAllowed: true, MaxToolCalls: 1, CanSearchKB: true,
			CanCallTools: true,
		},
		"deep": {
			Level: "deep", TimeMs: 3000, MaxTokens: 1024, MaxParallel: 4,
			EvidenceAllowed: true, MaxToolCalls: 3, CanSearchKB: true,
			CanCallTools: true,
		},
	}
}

// DefaultConfig returns the built-in policy set. The scoring weights and
// keyword lists are tunable configuration, not contract.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		ScenePolicies: map[Scene]ScenePolicy{
			SceneDialogue: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionSink, DefaultModelTier: TierLow,
				DefaultResponsePolicy: RespondNow, DedupWindowSec: 30, MaxReasons: 6,
			},
			SceneGroup: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionSink, DefaultModelTier: TierLow,
				DefaultResponsePolicy: RespondNow, DedupWindowSec: 30, MaxReasons: 6,
			},
			SceneAlert: {
				DeliverThreshold: 0, SinkThreshold: 0,
				DefaultAction: ActionDeliver, DedupWindowSec: 30, MaxReasons: 6,
			},
			// System-session events must reach the system handler, which only
			// runs on DELIVER.
			SceneSystem: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionDeliver, DedupWindowSec: 30, MaxReasons: 6,
			},
			SceneToolCall: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionDeliver, DedupWindowSec: 30, MaxReasons: 6,
			},
			SceneToolResult: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionSink, DedupWindowSec: 30, MaxReasons: 6,
			},
			SceneUnknown: {
				DeliverThreshold: 0.7, SinkThreshold: 0.3,
				DefaultAction: ActionSink, DefaultModelTier: TierLow,
				DefaultResponsePolicy: RespondNow, DedupWindowSec: 30, MaxReasons: 6,
			},
		},
		Rules: map[Scene]SceneRules{
			SceneDialogue: {
				Weights: map[string]float64{
					"base": 0.10, "mention": 0.40, "question_mark": 0.15, "long_text": 0.10,
				},
				Keywords:    map[string]float64{"urgent": 0.30, "error": 0.25, "help": 0.15},
				LongTextLen: 300,
			},
			SceneGroup: {
				Weights: map[string]float64{
					"base": 0.05, "mention": 0.60, "whitelist_actor": 0.25,
				},
			},
			SceneSystem: {
				Weights: map[string]float64{"base": 0.0},
			},
		},
		DropEscalation: DropEscalation{
			BurstWindowSec:       60,
			BurstCountThreshold:  5,
			ConsecutiveThreshold: 8,
			CooldownSuggestSec:   300,
		},
		BudgetThresholds: BudgetThresholds{HighScore: 0.75, MediumScore: 0.50},
		BudgetProfiles:   defaultBudgetProfiles(),
	}
}

// ScenePolicy returns the policy for a scene, falling back to built-ins.
func (c *Config) ScenePolicy(scene Scene) ScenePolicy {
	if p, ok := c.ScenePolicies[scene]; ok {
		return p
	}
	if p, ok := DefaultConfig().ScenePolicies[scene]; ok {
		return p
	}
	return ScenePolicy{
		DeliverThreshold: 0.7, SinkThreshold: 0.3,
		DefaultAction: ActionSink, DedupWindowSec: 30, MaxReasons: 6,
	}
}

// SceneRules returns the scoring rules for a scene (zero value if absent).
func (c *Config) SceneRules(scene Scene) SceneRules {
	return c.Rules[scene]
}

// BudgetProfile returns a named budget profile, falling back to "normal".
func (c *Config) BudgetProfile(level string) BudgetSpec {
	if b, ok := c.BudgetProfiles[level]; ok {
		return b
	}
	if b, ok := defaultBudgetProfiles()[level]; ok {
		return b
	}
	return defaultBudgetProfiles()["normal"]
}

// SelectBudget picks the budget profile for a scene and score, applying
// scene-specific clamps.
func (c *Config) SelectBudget(score float64, scene Scene) BudgetSpec {
	var level string
	switch scene {
	case SceneAlert:
		level = "deep"
	case SceneToolCall:
		level = "normal"
	case SceneToolResult:
		level = "tiny"
	default:
		switch {
		case score >= c.BudgetThresholds.HighScore:
			level = "deep"
		case score >= c.BudgetThresholds.MediumScore:
			level = "normal"
		default:
			level = "tiny"
		}
	}

	budget := c.BudgetProfile(level)

	if scene == SceneToolResult {
		budget.CanSearchKB = false
		budget.CanCallTools = false
		budget.EvidenceAllowed = false
		budget.MaxToolCalls = 0
	}
	if scene == SceneDialogue && budget.Level == "tiny" {
		budget.AutoClarify = true
	}
	return budget
}

// OverridePatch is a partial update to Overrides; nil fields are untouched.
type OverridePatch struct {
	EmergencyMode   *bool
	ForceLowModel   *bool
	DropSessions    []string
	DeliverSessions []string
	DropActors      []string
	DeliverActors   []string
}

// WithOverrides returns a copy of the config with the patch applied, or the
// receiver itself when nothing changed.
func (c *Config) WithOverrides(patch OverridePatch) *Config {
	next := c.Overrides
	if patch.EmergencyMode != nil {
		next.EmergencyMode = *patch.EmergencyMode
	}
	if patch.ForceLowModel != nil {
		next.ForceLowModel = *patch.ForceLowModel
	}
	if patch.DropSessions != nil {
		next.DropSessions = patch.DropSessions
	}
	if patch.DeliverSessions != nil {
		next.DeliverSessions = patch.DeliverSessions
	}
	if patch.DropActors != nil {
		next.DropActors = patch.DropActors
	}
	if patch.DeliverActors != nil {
		next.DeliverActors = patch.DeliverActors
	}
	if overridesEqual(next, c.Overrides) {
		return c
	}
	cp := *c
	cp.Overrides = next
	return &cp
}

func overridesEqual(a, b Overrides) bool {
	return a.EmergencyMode == b.EmergencyMode &&
		a.ForceLowModel == b.ForceLowModel &&
		stringSlicesEqual(a.DropSessions, b.DropSessions) &&
		stringSlicesEqual(a.DeliverSessions, b.DeliverSessions) &&
		stringSlicesEqual(a.DropActors, b.DropActors) &&
		stringSlicesEqual(a.DeliverActors, b.DeliverActors)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParseYAML decodes a gate policy file, layering it over the defaults.
func ParseYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gate config: %w", err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported gate config version: %d", cfg.Version)
	}
	if cfg.BudgetThresholds.MediumScore > cfg.BudgetThresholds.HighScore {
		cfg.BudgetThresholds.MediumScore = cfg.BudgetThresholds.HighScore
	}
	for scene, p := range cfg.ScenePolicies {
		switch p.DefaultAction {
		case ActionDrop, ActionSink, ActionDeliver:
		default:
			p.DefaultAction = ActionSink
		}
		if p.MaxReasons <= 0 {
			p.MaxReasons = 6
		}
		if p.DedupWindowSec <= 0 {
			p.DedupWindowSec = 30
		}
		cfg.ScenePolicies[scene] = p
	}
	return cfg, nil
}

// LoadYAML reads and parses a gate policy file.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate config: %w", err)
	}
	return ParseYAML(data)
}
