// Package core runs the dispatch loop: router, per-session workers, session
// GC, and the asynchronous egress path.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/murphys7017/mk2/internal/agent"
	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/egress"
	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/memory"
	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/reflex"
	"github.com/murphys7017/mk2/internal/router"
	"github.com/murphys7017/mk2/internal/session"
)

// Options tune the orchestrator. Zero numeric and string values select the
// defaults; the boolean switches are used as given (false turns them off).
type Options struct {
	BusCapacity      int
	InboxCapacity    int
	SystemSessionKey string

	EnableSessionGC bool
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	MinSessionsToGC int

	WatcherInterval time.Duration
	EgressCapacity  int
	EgressTimeout   time.Duration
	ShutdownTimeout time.Duration

	EnableFanout bool
}

// DefaultOptions returns the shipped tuning.
func DefaultOptions() Options {
	return Options{
		BusCapacity:      1000,
		InboxCapacity:    256,
		SystemSessionKey: "system",
		EnableSessionGC:  true,
		IdleTTL:          600 * time.Second,
		SweepInterval:    30 * time.Second,
		MinSessionsToGC:  1,
		WatcherInterval:  50 * time.Millisecond,
		EgressCapacity:   256,
		EgressTimeout:    5 * time.Second,
		ShutdownTimeout:  1500 * time.Millisecond,
	}
}

// worker is one session's serial processing task.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Core wires the bus, router, gate, reflex controller, memory hooks, egress
// hub, and agent into the running dispatch engine.
type Core struct {
	opts Options

	Bus      *bus.InputBus
	Router   *router.SessionRouter
	Gate     *gate.Gate
	Provider *gate.ConfigProvider
	Reflex   *reflex.Controller
	Egress   *egress.Hub
	Memory   *memory.Service
	Agent    agent.Agent
	Metrics  *Metrics

	mu      sync.Mutex
	states  map[string]*session.State
	workers map[string]*worker

	egressCh chan *observation.Observation

	// Nociception state, owned by the system worker.
	painTimestamps  map[string][]time.Time
	adapterCooldown map[string]time.Time
	fanoutSuppress  time.Time
	dropsLast       int64

	runCtx    context.Context
	runCancel context.CancelFunc
	loopsDone sync.WaitGroup
	closing   bool
}

// New creates a core around the given collaborators. Memory and agent may be
// nil; the matching hooks become no-ops.
func New(opts Options, provider *gate.ConfigProvider, ag agent.Agent, mem *memory.Service) *Core {
	def := DefaultOptions()
	if opts.BusCapacity <= 0 {
		opts.BusCapacity = def.BusCapacity
	}
	if opts.InboxCapacity <= 0 {
		opts.InboxCapacity = def.InboxCapacity
	}
	if opts.SystemSessionKey == "" {
		opts.SystemSessionKey = def.SystemSessionKey
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = def.IdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.MinSessionsToGC <= 0 {
		opts.MinSessionsToGC = def.MinSessionsToGC
	}
	if opts.WatcherInterval <= 0 {
		opts.WatcherInterval = def.WatcherInterval
	}
	if opts.EgressCapacity <= 0 {
		opts.EgressCapacity = def.EgressCapacity
	}
	if opts.EgressTimeout <= 0 {
		opts.EgressTimeout = def.EgressTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}

	b := bus.NewInputBus(opts.BusCapacity)
	c := &Core{
		opts:            opts,
		Bus:             b,
		Router:          router.New(b, opts.InboxCapacity, opts.SystemSessionKey),
		Gate:            gate.New(),
		Provider:        provider,
		Egress:          egress.NewHub(),
		Memory:          mem,
		Agent:           ag,
		Metrics:         NewMetrics(),
		states:          map[string]*session.State{},
		workers:         map[string]*worker{},
		egressCh:        make(chan *observation.Observation, opts.EgressCapacity),
		painTimestamps:  map[string][]time.Time{},
		adapterCooldown: map[string]time.Time{},
	}
	c.Reflex = reflex.New(provider, reflex.DefaultConfig(), opts.SystemSessionKey)
	return c
}

// State returns (creating if needed) the session's state.
func (c *Core) State(sessionKey string) *session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[sessionKey]
	if !ok {
		st = session.NewState(sessionKey)
		c.states[sessionKey] = st
	}
	return st
}

// ActiveSessions returns the router's current session snapshot.
func (c *Core) ActiveSessions() []string {
	return c.Router.ListActiveSessions()
}

// Run starts every background loop and blocks until the context ends, then
// shuts down within the configured deadline.
func (c *Core) Run(ctx context.Context) error {
	c.runCtx, c.runCancel = context.WithCancel(context.Background())

	slog.Info("Core starting",
		"bus_cap", c.opts.BusCapacity,
		"inbox_cap", c.opts.InboxCapacity,
		"system_session", c.opts.SystemSessionKey)

	c.loopsDone.Add(1)
	go func() {
		defer c.loopsDone.Done()
		if err := c.Router.Run(c.runCtx); err != nil && c.runCtx.Err() == nil {
			slog.Error("Router loop failed", "error", err)
		}
	}()

	c.loopsDone.Add(1)
	go func() {
		defer c.loopsDone.Done()
		c.watcherLoop(c.runCtx)
	}()

	if c.opts.EnableSessionGC {
		c.loopsDone.Add(1)
		go func() {
			defer c.loopsDone.Done()
			c.gcLoop(c.runCtx)
		}()
	}

	c.loopsDone.Add(1)
	go func() {
		defer c.loopsDone.Done()
		c.egressLoop(c.runCtx)
	}()

	<-ctx.Done()
	c.Shutdown()
	return nil
}

// Shutdown closes the bus, cancels every loop and worker, and waits up to
// the shutdown deadline. Remaining work is discarded.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	workers := make([]*worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	slog.Info("Core shutting down")
	c.Bus.Close()
	for _, w := range workers {
		w.cancel()
	}
	if c.runCancel != nil {
		c.runCancel()
	}

	done := make(chan struct{})
	go func() {
		c.loopsDone.Wait()
		for _, w := range workers {
			<-w.done
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.ShutdownTimeout):
		slog.Warn("Shutdown deadline exceeded, abandoning remaining tasks")
	}

	if c.Memory != nil {
		if err := c.Memory.Close(); err != nil {
			slog.Warn("Memory close failed", "error", err)
		}
	}
	slog.Info("Core shutdown complete")
}

// watcherLoop ensures a worker exists for every active session. It scans the
// router's full session set so a GC'd session that receives a new event is
// revived within one tick.
func (c *Core) watcherLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.WatcherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range c.Router.ListActiveSessions() {
				c.ensureWorker(key)
			}
		}
	}
}

// ensureWorker starts a worker for the session unless a live one exists.
func (c *Core) ensureWorker(sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	if w, ok := c.workers[sessionKey]; ok {
		select {
		case <-w.done:
			// Completed worker; replace it below.
		default:
			return
		}
	}
	wctx, cancel := context.WithCancel(c.runCtx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	c.workers[sessionKey] = w
	go c.sessionLoop(wctx, sessionKey, w)
	slog.Debug("Worker started", "session", sessionKey)
}

// gcLoop sweeps idle sessions. The system session is never collected.
func (c *Core) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepIdleSessions()
		}
	}
}

func (c *Core) sweepIdleSessions() {
	c.mu.Lock()
	if len(c.states) < c.opts.MinSessionsToGC {
		c.mu.Unlock()
		return
	}
	var candidates []string
	for key, st := range c.states {
		if key == c.opts.SystemSessionKey {
			continue
		}
		if idle := st.IdleSeconds(); idle >= 0 && idle >= c.opts.IdleTTL.Seconds() {
			candidates = append(candidates, key)
		}
	}
	c.mu.Unlock()

	for _, key := range candidates {
		c.gcSession(key, "idle")
	}
}

// gcSession cancels a worker (bounded 1s wait, abandoned on timeout) and
// removes the session's state and inbox. A later event re-creates both.
func (c *Core) gcSession(sessionKey, reason string) {
	c.mu.Lock()
	w := c.workers[sessionKey]
	c.mu.Unlock()

	if w != nil {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(1 * time.Second):
			slog.Warn("GC timeout waiting for worker", "session", sessionKey)
		}
	}

	c.mu.Lock()
	delete(c.workers, sessionKey)
	delete(c.states, sessionKey)
	c.mu.Unlock()

	c.Router.RemoveSession(sessionKey)
	c.Metrics.incGC(reason)
	slog.Info("Session collected", "session", sessionKey, "reason", reason)
}

// AdapterCooldownUntil returns the cooldown deadline for an adapter id, if
// any. Read by ingress adapters before emitting.
func (c *Core) AdapterCooldownUntil(sourceID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.adapterCooldown[sourceID]
	return t, ok
}

// FanoutSuppressedUntil returns the current fan-out suppression deadline.
func (c *Core) FanoutSuppressedUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fanoutSuppress
}
