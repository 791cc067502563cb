package dispatch

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryBackoffLinear(t *testing.T) {
	t.Parallel()

	cases := []struct {
		retry int
		step  time.Duration
		want  time.Duration
	}{
		{retry: 1, step: time.Hour, want: time.Hour},
		{retry: 2, step: time.Hour, want: 2 * time.Hour},
		{retry: 3, step: time.Hour, want: 3 * time.Hour},
		{retry: 2, step: 30 * time.Minute, want: time.Hour},
		{retry: 0, step: time.Hour, want: time.Hour},  // clamped to first retry
		{retry: -5, step: time.Hour, want: time.Hour}, // clamped to first retry
		{retry: 2, step: 0, want: 2 * time.Hour},      // step falls back to 1h
	}
	for _, tc := range cases {
		if got := retryBackoff(tc.retry, tc.step); got != tc.want {
			t.Errorf("retryBackoff(%d, %v) = %v, want %v", tc.retry, tc.step, got, tc.want)
		}
	}
}

func TestSendJitterBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	min, max := 2*time.Minute, 8*time.Minute
	for i := 0; i < 1000; i++ {
		d := sendJitter(rng, min, max)
		if d < min || d > max {
			t.Fatalf("jitter %v outside [%v, %v]", d, min, max)
		}
	}
}

func TestSendJitterDegenerateRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	if got := sendJitter(rng, time.Minute, time.Minute); got != time.Minute {
		t.Fatalf("equal bounds: got %v, want %v", got, time.Minute)
	}
	if got := sendJitter(rng, time.Minute, time.Second); got != time.Minute {
		t.Fatalf("inverted bounds: got %v, want %v", got, time.Minute)
	}
}
