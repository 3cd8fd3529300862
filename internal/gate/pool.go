package gate

import (
	"sync"

	"github.com/murphys7017/mk2/internal/observation"
)

// PoolCapacity bounds each gate pool.
const PoolCapacity = 1000

// Pool is a fixed-capacity ring buffer of ingested observations, kept for
// post-mortem and test inspection. Nothing in it survives a restart.
//
// Every session worker ingests into the same pools; the mutex serializes
// those writers and the snapshot readers.
type Pool struct {
	name string

	mu    sync.Mutex
	buf   []*observation.Observation
	next  int
	count int
}

// NewPool creates a pool with the default capacity.
func NewPool(name string) *Pool {
	return &Pool{name: name, buf: make([]*observation.Observation, PoolCapacity)}
}

// Name returns the pool's label.
func (p *Pool) Name() string { return p.name }

// Ingest appends an observation, evicting the oldest when full.
func (p *Pool) Ingest(obs *observation.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf[p.next] = obs
	p.next = (p.next + 1) % len(p.buf)
	if p.count < len(p.buf) {
		p.count++
	}
}

// Len returns the number of retained observations.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Items returns retained observations, oldest first.
func (p *Pool) Items() []*observation.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*observation.Observation, 0, p.count)
	start := p.next - p.count
	if start < 0 {
		start += len(p.buf)
	}
	for i := 0; i < p.count; i++ {
		out = append(out, p.buf[(start+i)%len(p.buf)])
	}
	return out
}
