package dispatch

import (
	"testing"
	"time"
)

func qreq(id string, prio Priority, at time.Time) *Request {
	return &Request{ID: id, Priority: prio, ScheduledFor: at}
}

func TestQueueOrderPriorityThenSchedule(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var q pendingQueue
	q.push(qreq("normal-late", PriorityNormal, base.Add(2*time.Hour)))
	q.push(qreq("high-late", PriorityHigh, base.Add(time.Hour)))
	q.push(qreq("normal-early", PriorityNormal, base))
	q.push(qreq("high-early", PriorityHigh, base))
	q.push(qreq("low", PriorityLow, base.Add(-time.Hour)))

	want := []string{"high-early", "high-late", "normal-early", "normal-late", "low"}
	for i, id := range want {
		r := q.pop()
		if r == nil || r.ID != id {
			got := "<nil>"
			if r != nil {
				got = r.ID
			}
			t.Fatalf("pop %d: got %s, want %s", i, got, id)
		}
	}
	if q.pop() != nil {
		t.Fatal("expected empty queue")
	}
}

// A high-priority request scheduled in the future blocks lower-priority
// ready work: the head is the head.
func TestQueueFutureHighPriorityHeadBlocks(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var q pendingQueue
	q.push(qreq("ready-normal", PriorityNormal, base))
	q.push(qreq("future-high", PriorityHigh, base.Add(time.Hour)))

	if head := q.peek(); head == nil || head.ID != "future-high" {
		t.Fatalf("head = %v, want future-high", head)
	}
}

func TestQueueRemoveAndFind(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var q pendingQueue
	q.push(qreq("a", PriorityNormal, base))
	q.push(qreq("b", PriorityNormal, base.Add(time.Minute)))

	if q.find("b") == nil {
		t.Fatal("find(b) = nil")
	}
	if r := q.remove("b"); r == nil || r.ID != "b" {
		t.Fatalf("remove(b) = %v", r)
	}
	if q.remove("b") != nil {
		t.Fatal("second remove should miss")
	}
	if q.find("b") != nil {
		t.Fatal("removed request still findable")
	}
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1", q.len())
	}
}

func TestQueueEarliestIgnoresPriority(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var q pendingQueue
	if !q.earliest().IsZero() {
		t.Fatal("empty queue should report zero time")
	}
	q.push(qreq("high-late", PriorityHigh, base.Add(time.Hour)))
	q.push(qreq("low-early", PriorityLow, base))

	if got := q.earliest(); !got.Equal(base) {
		t.Fatalf("earliest = %v, want %v", got, base)
	}
}
