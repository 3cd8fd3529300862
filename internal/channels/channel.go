// Package channels implements the input and output adapters around the core.
// Input adapters publish observations onto the bus and convert their own
// failures into pain ALERTs instead of crashing.
package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/nociception"
	"github.com/murphys7017/mk2/internal/observation"
)

// Channel is the lifecycle contract for input adapters.
type Channel interface {
	// Name returns the channel name (e.g. "text_input").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
}

// CooldownFunc returns the cooldown deadline for an adapter id and whether
// one is set. The core supplies it; adapters check before emitting.
type CooldownFunc func(sourceID string) (time.Time, bool)

// BaseChannel carries the bus handle and shared emit/pain plumbing.
type BaseChannel struct {
	Bus      *bus.InputBus
	Cooldown CooldownFunc

	name         string
	failureCount int
}

// NewBaseChannel creates the shared adapter plumbing.
func NewBaseChannel(name string, b *bus.InputBus, cooldown CooldownFunc) BaseChannel {
	return BaseChannel{Bus: b, Cooldown: cooldown, name: name}
}

// CooledDown reports whether the adapter must stay silent right now.
func (b *BaseChannel) CooledDown() bool {
	if b.Cooldown == nil {
		return false
	}
	until, ok := b.Cooldown(b.name)
	return ok && time.Now().Before(until)
}

// Emit publishes one observation. Drops become backpressure pain; the pain
// publish itself never recurses.
func (b *BaseChannel) Emit(obs *observation.Observation) {
	if b.Bus == nil {
		return
	}
	if b.CooledDown() {
		slog.Debug("Adapter cooled down, suppressing emit", "adapter", b.name)
		return
	}
	res := b.Bus.PublishNowait(obs)
	if res.OK {
		b.failureCount = 0
		return
	}
	b.ReportError("input_bus_backpressure", res.Reason, observation.SeverityMedium)
}

// ReportError converts a failure into a pain ALERT on the bus.
func (b *BaseChannel) ReportError(exceptionType, message string, severity observation.Severity) {
	b.failureCount++
	pain := nociception.MakePainAlert("adapter", b.name, severity, nociception.PainOpts{
		Message:       message,
		ExceptionType: exceptionType,
		Data:          map[string]any{"consecutive_failures": b.failureCount},
	})
	if b.Bus != nil {
		// Best effort; a dropped pain alert is not retried.
		b.Bus.PublishNowait(pain)
	}
}
