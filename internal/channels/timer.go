package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/observation"
)

// TimerTick emits a SCHEDULE heartbeat into the system session at a fixed
// interval. The system handler uses it to run drop-overload sampling and
// TTL maintenance.
type TimerTick struct {
	BaseChannel
	Interval   time.Duration
	ScheduleID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticks  int64
}

// NewTimerTick creates a tick adapter (default interval 10s).
func NewTimerTick(b *bus.InputBus, interval time.Duration) *TimerTick {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &TimerTick{
		BaseChannel: NewBaseChannel("timer_tick", b, nil),
		Interval:    interval,
		ScheduleID:  "tick",
	}
}

// Name returns the channel name.
func (t *TimerTick) Name() string { return "timer_tick" }

// Start launches the tick loop.
func (t *TimerTick) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				t.ticks++
				t.Emit(observation.NewSchedule(t.Name(), "", t.ScheduleID, map[string]any{
					"tick": t.ticks,
					"id":   fmt.Sprintf("%s-%d", t.ScheduleID, t.ticks),
				}))
			}
		}
	}()
	return nil
}

// Stop ends the tick loop and waits for it.
func (t *TimerTick) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}
