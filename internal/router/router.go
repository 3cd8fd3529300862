// Package router demultiplexes the input bus into per-session inboxes.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/observation"
)

// DefaultInboxCapacity bounds each session inbox.
const DefaultInboxCapacity = 256

// UnknownSessionKey receives events whose session cannot be derived.
const UnknownSessionKey = "unknown"

// InboxStats counts enqueue outcomes for one inbox.
type InboxStats struct {
	Enqueued int64
	Dropped  int64
}

// Inbox is a per-session bounded FIFO queue. Enqueue never blocks; the
// newest event is dropped when the inbox is full.
type Inbox struct {
	ch       chan *observation.Observation
	enqueued atomic.Int64
	dropped  atomic.Int64
}

func newInbox(capacity int) *Inbox {
	return &Inbox{ch: make(chan *observation.Observation, capacity)}
}

// PutNowait enqueues without blocking. Returns false when dropped.
func (i *Inbox) PutNowait(obs *observation.Observation) bool {
	select {
	case i.ch <- obs:
		i.enqueued.Add(1)
		return true
	default:
		i.dropped.Add(1)
		return false
	}
}

// Get blocks until the next observation or context end.
func (i *Inbox) Get(ctx context.Context) (*observation.Observation, error) {
	select {
	case obs := <-i.ch:
		return obs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued observations.
func (i *Inbox) Len() int { return len(i.ch) }

// Stats returns a snapshot of enqueue counters.
func (i *Inbox) Stats() InboxStats {
	return InboxStats{Enqueued: i.enqueued.Load(), Dropped: i.dropped.Load()}
}

// SessionRouter consumes the bus and routes each observation into the inbox
// of its session. Ordering is FIFO within a session; across sessions events
// interleave in bus consumption order.
type SessionRouter struct {
	bus              *bus.InputBus
	inboxCapacity    int
	systemSessionKey string

	mu      sync.Mutex
	inboxes map[string]*Inbox

	droppedTotal atomic.Int64
}

// New creates a router over the given bus.
func New(b *bus.InputBus, inboxCapacity int, systemSessionKey string) *SessionRouter {
	if inboxCapacity <= 0 {
		inboxCapacity = DefaultInboxCapacity
	}
	return &SessionRouter{
		bus:              b,
		inboxCapacity:    inboxCapacity,
		systemSessionKey: systemSessionKey,
		inboxes:          map[string]*Inbox{},
	}
}

// ResolveSessionKey derives a deterministic session key for observations that
// arrive without one.
func (r *SessionRouter) ResolveSessionKey(obs *observation.Observation) string {
	if obs.SessionKey != "" {
		return obs.SessionKey
	}
	switch obs.Type {
	case observation.TypeMessage:
		if obs.Actor.ActorType == observation.ActorUser && obs.Actor.ActorID != "" {
			return "dm:" + obs.Actor.ActorID
		}
		return UnknownSessionKey
	case observation.TypeSchedule, observation.TypeAlert, observation.TypeSystem, observation.TypeControl:
		return r.systemSessionKey
	default:
		return UnknownSessionKey
	}
}

// GetInbox returns the inbox for a session, creating it on first use.
func (r *SessionRouter) GetInbox(sessionKey string) *Inbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	inbox, ok := r.inboxes[sessionKey]
	if !ok {
		inbox = newInbox(r.inboxCapacity)
		r.inboxes[sessionKey] = inbox
	}
	return inbox
}

// RemoveSession drops a session's inbox. The GC must call this after worker
// termination; otherwise the watcher keeps reviving the worker.
func (r *SessionRouter) RemoveSession(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, sessionKey)
}

// ListActiveSessions returns a stable sorted snapshot of session keys.
func (r *SessionRouter) ListActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.inboxes))
	for k := range r.inboxes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DroppedTotal returns the number of observations dropped at inbox enqueue.
func (r *SessionRouter) DroppedTotal() int64 { return r.droppedTotal.Load() }

// Run consumes the bus until it ends or the context is cancelled. Full
// inboxes drop the newest event; the drop is counted, never raised.
func (r *SessionRouter) Run(ctx context.Context) error {
	for {
		obs, err := r.bus.Get(ctx)
		if err != nil {
			return err
		}
		if obs == nil {
			slog.Info("Router stopped: bus drained")
			return nil
		}
		sessionKey := r.ResolveSessionKey(obs)
		obs.SessionKey = sessionKey
		if !r.GetInbox(sessionKey).PutNowait(obs) {
			r.droppedTotal.Add(1)
			slog.Warn("Inbox full, dropped observation",
				"session", sessionKey, "obs_id", obs.ObsID, "obs_type", obs.Type)
		}
	}
}
