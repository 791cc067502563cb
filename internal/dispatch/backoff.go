package dispatch

import (
	"math/rand"
	"time"
)

// retryBackoff returns the delay before the given retry is eligible
// again. Linear in the retry count: the first retry waits one step,
// the second two, and so on. Kept as a pure function so the policy is
// testable without running the drain loop.
func retryBackoff(retryCount int, step time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if step <= 0 {
		step = time.Hour
	}
	return time.Duration(retryCount) * step
}

// sendJitter returns a uniformly distributed delay in [min, max].
// Inserted after every delivered send so the outbound cadence never
// looks machine-regular to the channel's abuse detection. Independent
// of the pool's per-account minimum gap: both constraints apply and
// the longer one wins naturally.
func sendJitter(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}
