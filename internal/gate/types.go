// Package gate implements the deterministic pre-processing pipeline that
// classifies, scores, deduplicates, budgets, and routes observations.
package gate

import (
	"time"

	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/session"
)

// Action is the gate's verdict for one observation.
type Action string

const (
	ActionDrop    Action = "drop"
	ActionSink    Action = "sink"
	ActionDeliver Action = "deliver"
)

// Scene is the gate-inferred classification of an observation.
type Scene string

const (
	SceneDialogue   Scene = "dialogue"
	SceneGroup      Scene = "group"
	SceneSystem     Scene = "system"
	SceneToolCall   Scene = "tool_call"
	SceneToolResult Scene = "tool_result"
	SceneAlert      Scene = "alert"
	SceneUnknown    Scene = "unknown"
)

// Model tiers and response policies surfaced through GateHint.
const (
	TierLow  = "low"
	TierHigh = "high"

	RespondNow = "respond_now"
	Clarify    = "clarify"
	Ack        = "ack"
)

// BudgetSpec is the execution budget handed to the handler. Enforcement is
// the handler's responsibility; the gate only supplies it.
type BudgetSpec struct {
	Level string `yaml:"budget_level" json:"budget_level"`

	TimeMs      int `yaml:"time_ms" json:"time_ms"`
	MaxTokens   int `yaml:"max_tokens" json:"max_tokens"`
	MaxParallel int `yaml:"max_parallel" json:"max_parallel"`

	EvidenceAllowed bool `yaml:"evidence_allowed" json:"evidence_allowed"`
	MaxToolCalls    int  `yaml:"max_tool_calls" json:"max_tool_calls"`
	CanSearchKB     bool `yaml:"can_search_kb" json:"can_search_kb"`
	CanCallTools    bool `yaml:"can_call_tools" json:"can_call_tools"`

	AutoClarify  bool `yaml:"auto_clarify" json:"auto_clarify"`
	FallbackMode bool `yaml:"fallback_mode" json:"fallback_mode"`
}

// Hint carries budget and risk advice from the gate to the handler.
type Hint struct {
	ModelTier      string
	ResponsePolicy string
	Budget         BudgetSpec
	ReasonTags     []string
	Debug          map[string]any
}

// Decision is the gate's product for one observation.
type Decision struct {
	Action       Action
	Scene        Scene
	SessionKey   string
	TargetWorker string
	Score        float64
	Reasons      []string
	Tags         map[string]string
	Fingerprint  string
	Hint         Hint
}

// Outcome bundles the decision with its side-effect lists: emit goes back
// onto the bus, ingest goes into the gate pools.
type Outcome struct {
	Decision Decision
	Emit     []*observation.Observation
	Ingest   []*observation.Observation
}

// SystemHealth is an optional live snapshot fed into the pipeline.
type SystemHealth struct {
	Overload bool
}

// Context carries everything a pipeline run needs beyond the observation.
type Context struct {
	Now              time.Time
	Config           *Config
	SystemSessionKey string
	Metrics          *Metrics
	SessionState     *session.State
	SystemHealth     *SystemHealth
	Trace            func(stage string, note any)
}

// wip is the work-in-progress record the stages mutate in order.
type wip struct {
	scene    Scene
	features map[string]any
	score    float64
	reasons  []string
	tags     map[string]string

	fingerprint    string
	action         Action
	modelTier      string
	responsePolicy string
	hint           *Hint

	emit   []*observation.Observation
	ingest []*observation.Observation

	outcome *Outcome
}

func newWip() *wip {
	return &wip{
		features: map[string]any{},
		tags:     map[string]string{},
	}
}

func (w *wip) reason(r string) {
	w.reasons = append(w.reasons, r)
}

type stage interface {
	Name() string
	Apply(obs *observation.Observation, ctx *Context, w *wip)
}
