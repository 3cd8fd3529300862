// Package egress routes delivered observations to output adapters.
package egress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/murphys7017/mk2/internal/observation"
)

// OutputAdapter delivers observations to an external channel.
type OutputAdapter interface {
	Name() string
	Send(ctx context.Context, obs *observation.Observation) error
}

// Hub selects an output adapter per observation: the session-specific one if
// registered, otherwise the default.
type Hub struct {
	mu             sync.RWMutex
	defaultAdapter OutputAdapter
	bySession      map[string]OutputAdapter

	droppedTotal atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{bySession: map[string]OutputAdapter{}}
}

// RegisterDefault sets the fallback adapter.
func (h *Hub) RegisterDefault(adapter OutputAdapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultAdapter = adapter
}

// RegisterSession binds an adapter to one session key.
func (h *Hub) RegisterSession(sessionKey string, adapter OutputAdapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bySession[sessionKey] = adapter
}

// ShouldEgress reports whether an observation is an outward deliverable:
// agent-emitted messages, plus system mode-change notifications.
func ShouldEgress(obs *observation.Observation) bool {
	if obs.Type == observation.TypeMessage && obs.AgentSourced() {
		return true
	}
	if obs.Type == observation.TypeControl && obs.Payload.Control != nil &&
		obs.Payload.Control.Kind == "system_mode_changed" {
		return true
	}
	return false
}

// Dispatch sends the observation through the resolved adapter. With no
// adapter registered the observation is dropped and counted.
func (h *Hub) Dispatch(ctx context.Context, obs *observation.Observation) error {
	h.mu.RLock()
	adapter, ok := h.bySession[obs.SessionKey]
	if !ok {
		adapter = h.defaultAdapter
	}
	h.mu.RUnlock()

	if adapter == nil {
		h.droppedTotal.Add(1)
		return nil
	}
	return adapter.Send(ctx, obs)
}

// DroppedTotal counts dispatches that found no adapter.
func (h *Hub) DroppedTotal() int64 { return h.droppedTotal.Load() }
