package cron

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Ticker delivers the current time on C at every boundary of a Schedule. It
// is the bridge between the wall clock and components that only consume a
// tick channel, so those components stay testable by ticking them directly.
type Ticker struct {
	C <-chan time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker starts a Ticker firing at each boundary of sched. The clock is
// injectable for tests.
func NewTicker(ctx context.Context, clock quartz.Clock, sched *Schedule) *Ticker {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan time.Time, 1)
	t := &Ticker{
		C:      ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop(ctx, clock, sched, ch)
	return t
}

func (t *Ticker) loop(ctx context.Context, clock quartz.Clock, sched *Schedule, ch chan<- time.Time) {
	defer close(t.done)
	defer close(ch)
	for {
		now := clock.Now()
		timer := clock.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case tick := <-timer.C:
			select {
			case ch <- tick:
			default:
				// The consumer has not drained the previous tick; boundary
				// ticks are daily, so dropping is preferable to blocking.
			}
		}
	}
}

// Close stops the ticker and waits for the delivery goroutine to exit.
func (t *Ticker) Close() {
	t.cancel()
	<-t.done
}
