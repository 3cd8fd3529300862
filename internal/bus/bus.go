// Package bus provides the async input bus between adapters and the core.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/murphys7017/mk2/internal/observation"
)

// PublishResult reports the outcome of a non-blocking publish.
type PublishResult struct {
	OK      bool
	Dropped bool
	Reason  string
}

// InputBus is a bounded, producer-nonblocking queue with a single consumer
// (the router). When full it drops the newest event; producers observe the
// drop in the result and in DroppedTotal, never as backpressure.
type InputBus struct {
	ch        chan *observation.Observation
	closed    atomic.Bool
	signal    chan struct{}
	closeOnce sync.Once

	publishedTotal atomic.Int64
	droppedTotal   atomic.Int64
	consumedTotal  atomic.Int64
}

// NewInputBus creates a bus with the given capacity (default 1000).
func NewInputBus(capacity int) *InputBus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InputBus{
		ch:     make(chan *observation.Observation, capacity),
		signal: make(chan struct{}),
	}
}

// PublishNowait validates and enqueues without blocking. It returns a dropped
// result when the bus is closed, the observation is invalid, or the queue is
// full.
func (b *InputBus) PublishNowait(obs *observation.Observation) PublishResult {
	if b.closed.Load() {
		return PublishResult{Dropped: true, Reason: "closed"}
	}
	if err := obs.Validate(); err != nil {
		return PublishResult{Dropped: true, Reason: "invalid: " + err.Error()}
	}
	b.publishedTotal.Add(1)
	select {
	case b.ch <- obs:
		return PublishResult{OK: true}
	default:
		b.droppedTotal.Add(1)
		return PublishResult{Dropped: true, Reason: "queue_full"}
	}
}

// Get blocks until the next observation, the context ends, or the bus is
// closed and drained. A nil observation with nil error means end of stream.
func (b *InputBus) Get(ctx context.Context) (*observation.Observation, error) {
	for {
		if b.closed.Load() {
			// Closed: drain what is left, then end the stream.
			select {
			case obs := <-b.ch:
				b.consumedTotal.Add(1)
				return obs, nil
			default:
				return nil, nil
			}
		}
		select {
		case obs := <-b.ch:
			b.consumedTotal.Add(1)
			return obs, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.signal:
			// Loop back into the drain branch.
		}
	}
}

// Close marks the bus closed. Idempotent. The consumer drains the queue and
// then sees end of stream.
func (b *InputBus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.signal)
	})
}

// Closed reports whether Close has been called.
func (b *InputBus) Closed() bool { return b.closed.Load() }

// Size returns the number of queued observations.
func (b *InputBus) Size() int { return len(b.ch) }

// PublishedTotal returns the number of publish attempts that passed
// validation, including those then dropped on a full queue.
func (b *InputBus) PublishedTotal() int64 { return b.publishedTotal.Load() }

// DroppedTotal returns the number of observations dropped at publish time.
func (b *InputBus) DroppedTotal() int64 { return b.droppedTotal.Load() }

// ConsumedTotal returns the number of observations handed to the consumer.
func (b *InputBus) ConsumedTotal() int64 { return b.consumedTotal.Load() }
