package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal used to decouple the dispatch core from
// the dashboard/notification layer around it.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

// Topics published by the dispatch core.
const (
	TopicEnqueued        = "dm.enqueued"
	TopicSent            = "dm.sent"
	TopicRetry           = "dm.retry"
	TopicFailed          = "dm.failed"
	TopicReply           = "dm.reply"
	TopicCanceled        = "dm.canceled"
	TopicCooldown        = "account.cooldown"
	TopicDisabled        = "account.disabled"
	TopicFlagged         = "account.flagged"
	TopicPoolExhausted   = "pool.exhausted"
	TopicStatsSummary    = "stats.summary"
	TopicLogAlert        = "log.alert"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Subscriber is slow; drop rather than block the dispatcher.
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold the map lock while sending.
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.close()
		})
	}
	return sub.ch, unsub
}
