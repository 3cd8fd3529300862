package gate

import "sync"

// Metrics counts gate outcomes. Increments happen inside session workers;
// the mutex keeps cross-worker reads consistent.
type Metrics struct {
	mu sync.Mutex

	ProcessedTotal int64
	DroppedTotal   int64
	SunkTotal      int64
	DeliveredTotal int64

	byScene  map[Scene]int64
	byAction map[Action]int64
}

// NewMetrics creates empty gate metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		byScene:  map[Scene]int64{},
		byAction: map[Action]int64{},
	}
}

func (m *Metrics) record(scene Scene, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedTotal++
	m.byScene[scene]++
	m.byAction[action]++
	switch action {
	case ActionDrop:
		m.DroppedTotal++
	case ActionSink:
		m.SunkTotal++
	case ActionDeliver:
		m.DeliveredTotal++
	}
}

// ByScene returns a snapshot of per-scene counts.
func (m *Metrics) ByScene() map[Scene]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Scene]int64, len(m.byScene))
	for k, v := range m.byScene {
		out[k] = v
	}
	return out
}

// ByAction returns a snapshot of per-action counts.
func (m *Metrics) ByAction() map[Action]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Action]int64, len(m.byAction))
	for k, v := range m.byAction {
		out[k] = v
	}
	return out
}

// Snapshot returns the headline counters.
func (m *Metrics) Snapshot() (processed, dropped, sunk, delivered int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ProcessedTotal, m.DroppedTotal, m.SunkTotal, m.DeliveredTotal
}
