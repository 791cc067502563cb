package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Timers fire synchronously inside Advance once the fake time passes
// their deadline. Waiters() lets a test block until the code under test
// has parked on a timer before advancing.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeTimer
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{
		clk:      f,
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		t.fired = true
		t.ch <- f.now
		return t
	}
	f.waiters = append(f.waiters, t)
	return t
}

// Advance moves the fake time forward and fires every due timer.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	remaining := f.waiters[:0]
	var due []*fakeTimer
	for _, t := range f.waiters {
		if !t.deadline.After(now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

// Waiters reports how many timers are currently armed.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// BlockUntilWaiters polls until at least n timers are armed or the
// timeout elapses. Returns false on timeout.
func (f *Fake) BlockUntilWaiters(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if f.Waiters() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeTimer struct {
	clk      *Fake
	deadline time.Time

	mu    sync.Mutex
	fired bool
	ch    chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return
	}
	t.fired = true
	t.ch <- now
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	for i, w := range t.clk.waiters {
		if w == t {
			last := len(t.clk.waiters) - 1
			t.clk.waiters[i] = t.clk.waiters[last]
			t.clk.waiters = t.clk.waiters[:last]
			break
		}
	}
	t.clk.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.fired
	t.fired = true
	return !was
}
