package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	short := clk.NewTimer(time.Minute)
	long := clk.NewTimer(time.Hour)

	clk.Advance(2 * time.Minute)
	select {
	case at := <-short.C():
		if !at.Equal(start.Add(2 * time.Minute)) {
			t.Fatalf("fired at %v, want %v", at, start.Add(2*time.Minute))
		}
	default:
		t.Fatal("short timer did not fire")
	}
	select {
	case <-long.C():
		t.Fatal("long timer fired early")
	default:
	}

	clk.Advance(time.Hour)
	select {
	case <-long.C():
	default:
		t.Fatal("long timer did not fire")
	}
}

func TestFakeZeroDurationFiresImmediately(t *testing.T) {
	t.Parallel()
	clk := NewFake(time.Unix(0, 0))
	tm := clk.NewTimer(0)
	select {
	case <-tm.C():
	default:
		t.Fatal("zero-duration timer should be ready")
	}
}

func TestFakeStopRemovesWaiter(t *testing.T) {
	t.Parallel()
	clk := NewFake(time.Unix(0, 0))
	tm := clk.NewTimer(time.Minute)
	if clk.Waiters() != 1 {
		t.Fatalf("waiters = %d, want 1", clk.Waiters())
	}
	if !tm.Stop() {
		t.Fatal("Stop on armed timer should return true")
	}
	if clk.Waiters() != 0 {
		t.Fatalf("waiters = %d, want 0 after Stop", clk.Waiters())
	}
	clk.Advance(2 * time.Minute)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}
}
