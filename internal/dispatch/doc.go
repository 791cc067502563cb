// Package dispatch owns the ordered set of pending outbound DM requests
// and drains it against the account pool.
//
// The drain loop is a single logical worker: no parallel sends are
// attempted even when several accounts are eligible. This serialization
// is intentional; it keeps inter-send pacing and rate-limit bookkeeping
// race-free by construction. The loop suspends in three places (a head
// request scheduled in the future, pool exhaustion, and the randomized
// delay after a delivered send) and all three waits are cancellable so
// shutdown stays prompt and tests can use a fake clock.
package dispatch
