package mctp

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// monotonicNowMs reads CLOCK_MONOTONIC directly via the unix package
// rather than time.Now() -- a tick driver advancing a protocol clock
// should never observe wall-clock adjustments.
func monotonicNowMs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().UnixMilli()
	}
	return int64(ts.Sec)*1000 + int64(ts.Nsec)/1_000_000
}

// Ticker drives Router.UpdateTime on the interval the router itself
// recommends, rather than a fixed period of its own. With the bundled
// stack that interval is the stack's timeout capped at TickIntervalCap;
// individual reassembly/flow deadlines do not shorten it.
type Ticker struct {
	router *Router
	stop   chan struct{}
	done   chan struct{}
}

// NewTicker builds a Ticker for router. Call Run in its own goroutine.
func NewTicker(router *Router) *Ticker {
	return &Ticker{router: router, stop: make(chan struct{}), done: make(chan struct{})}
}

// Run drives the tick loop until ctx is done or Stop is called.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.done)
	for {
		interval := t.router.UpdateTime(monotonicNowMs())
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.stop:
			timer.Stop()
			return
		}
	}
}

// Stop halts the tick loop and waits for Run to return.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}
