package dispatch

import (
	"sort"
	"time"
)

// pendingQueue holds the non-terminal requests ordered by
// (priority descending, scheduled_for ascending). The head is always
// the next candidate for dispatch; a head scheduled in the future
// blocks the queue by design (higher priority preempts lower priority
// regardless of readiness).
type pendingQueue struct {
	items []*Request
}

func (q *pendingQueue) resort() {
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ScheduledFor.Before(b.ScheduledFor)
	})
}

func (q *pendingQueue) push(r *Request) {
	q.items = append(q.items, r)
	q.resort()
}

func (q *pendingQueue) peek() *Request {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *pendingQueue) pop() *Request {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

func (q *pendingQueue) remove(id string) *Request {
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return r
		}
	}
	return nil
}

func (q *pendingQueue) find(id string) *Request {
	for _, r := range q.items {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (q *pendingQueue) len() int { return len(q.items) }

// earliest returns the soonest scheduled_for among all pending
// requests, ignoring priority. Used for introspection only.
func (q *pendingQueue) earliest() time.Time {
	var t time.Time
	for _, r := range q.items {
		if t.IsZero() || r.ScheduledFor.Before(t) {
			t = r.ScheduledFor
		}
	}
	return t
}
