package gate

import (
	"github.com/murphys7017/mk2/internal/observation"
)

// Gate wraps the pipeline with its pools and metrics.
type Gate struct {
	Metrics *Metrics

	pipeline *pipeline

	SinkPool *Pool
	DropPool *Pool
	ToolPool *Pool
}

// New creates a gate with fresh pipeline state and pools.
func New() *Gate {
	return &Gate{
		Metrics:  NewMetrics(),
		pipeline: newPipeline(),
		SinkPool: NewPool("sink"),
		DropPool: NewPool("drop"),
		ToolPool: NewPool("tool"),
	}
}

// Handle runs the pipeline and always returns an outcome; stage failures are
// reason-tagged, never raised. An indeterminate action finalizes as SINK.
func (g *Gate) Handle(obs *observation.Observation, ctx *Context) *Outcome {
	if ctx.Metrics == nil {
		ctx.Metrics = g.Metrics
	}
	w := newWip()
	g.pipeline.run(obs, ctx, w)

	if w.outcome != nil {
		return w.outcome
	}

	// Finalize itself failed; synthesize the fallback decision.
	action := w.action
	if action == "" {
		action = ActionSink
	}
	scene := w.scene
	if scene == "" {
		scene = SceneUnknown
	}
	return &Outcome{
		Decision: Decision{
			Action:      action,
			Scene:       scene,
			SessionKey:  obs.SessionKey,
			Score:       w.score,
			Reasons:     w.reasons,
			Tags:        w.tags,
			Fingerprint: w.fingerprint,
		},
		Emit:   w.emit,
		Ingest: w.ingest,
	}
}

// Ingest routes a decided observation into the matching pool. Tool scenes go
// to the tool pool regardless of action.
func (g *Gate) Ingest(obs *observation.Observation, decision Decision) {
	if decision.Scene == SceneToolCall || decision.Scene == SceneToolResult {
		g.ToolPool.Ingest(obs)
		return
	}
	switch decision.Action {
	case ActionDrop:
		g.DropPool.Ingest(obs)
	case ActionSink:
		g.SinkPool.Ingest(obs)
	}
}
