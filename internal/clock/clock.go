// Package clock abstracts wall-clock access so the dispatch loop's long
// waits (scheduled-request polling, pool-exhaustion backoff, inter-send
// jitter) can be driven by a fake clock in tests instead of real sleeps.
package clock

import "time"

// Timer mirrors the subset of time.Timer the dispatch loop uses:
// a channel to select on and a Stop for cancellable waits.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (rt realTimer) C() <-chan time.Time { return rt.t.C }
func (rt realTimer) Stop() bool          { return rt.t.Stop() }
