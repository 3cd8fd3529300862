package core

import "sync"

// Metrics counts core-level activity. The controller and tests read these;
// workers and the system handler write them.
type Metrics struct {
	mu sync.Mutex

	ProcessedTotal     int64
	ErrorsTotal        int64
	SessionsGCTotal    int64
	PainTotal          int64
	DropsOverloadTotal int64
	AdapterCooldowns   int64
	FanoutSkipped      int64
	EgressDropped      int64

	processedBySession map[string]int64
	errorsBySession    map[string]int64
	painBySource       map[string]int64
	painBySeverity     map[string]int64
	gcByReason         map[string]int64
}

// NewMetrics creates empty core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		processedBySession: map[string]int64{},
		errorsBySession:    map[string]int64{},
		painBySource:       map[string]int64{},
		painBySeverity:     map[string]int64{},
		gcByReason:         map[string]int64{},
	}
}

func (m *Metrics) incProcessed(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedTotal++
	m.processedBySession[sessionKey]++
}

func (m *Metrics) incError(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorsTotal++
	m.errorsBySession[sessionKey]++
}

func (m *Metrics) incGC(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsGCTotal++
	m.gcByReason[reason]++
}

func (m *Metrics) incEgressDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EgressDropped++
}

func (m *Metrics) incAdapterCooldown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AdapterCooldowns++
}

func (m *Metrics) incDropsOverload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DropsOverloadTotal++
}

func (m *Metrics) incFanoutSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FanoutSkipped++
}

func (m *Metrics) incPain(sourceKey, severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PainTotal++
	m.painBySource[sourceKey]++
	m.painBySeverity[severity]++
}

// GCTotal returns the number of collected sessions.
func (m *Metrics) GCTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SessionsGCTotal
}

// DropsOverload returns the number of drop-overload episodes.
func (m *Metrics) DropsOverload() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DropsOverloadTotal
}

// ProcessedBySession returns a snapshot of per-session processed counts.
func (m *Metrics) ProcessedBySession() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.processedBySession))
	for k, v := range m.processedBySession {
		out[k] = v
	}
	return out
}

// PainBySource returns a snapshot of pain counts per aggregation key.
func (m *Metrics) PainBySource() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.painBySource))
	for k, v := range m.painBySource {
		out[k] = v
	}
	return out
}
