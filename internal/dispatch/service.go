package dispatch

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/account"
	"outreachd/internal/clock"
	"outreachd/internal/eventbus"
	"outreachd/internal/storage"
	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

// Service owns the pending queue and the single drain worker.
type Service struct {
	mu sync.Mutex

	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	clk  clock.Clock
	pool *account.Pool
	tr   transport.Transport
	sink storage.Store // may be nil

	pending pendingQueue

	// counts is the lifetime status breakdown: each request ever seen
	// is counted once, under its current status.
	counts map[Status]uint64

	// history keeps the most recent terminal requests for operators.
	history []Request

	draining bool

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	rng *rand.Rand
}

// New wires the dispatcher. pool and tr are required; sink, bus may be
// nil. clk defaults to the real clock.
func New(cfg Config, pool *account.Pool, tr transport.Transport, sink storage.Store, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		clk:    clk,
		pool:   pool,
		tr:     tr,
		sink:   sink,
		counts: map[Status]uint64{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps pacing/retry settings at runtime. In-flight waits keep
// the duration they were armed with; new values apply from the next
// suspension point.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start establishes the run context. It does not spin a worker by
// itself: the drain loop is started lazily on the first Enqueue and
// exits when the queue empties.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled))

	// If a Stop() is in progress, wait for it to complete.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// Requests enqueued (or left pending) before Start are picked up now.
	if s.pending.len() > 0 {
		s.kickDrainLocked()
	}

	s.log.Info("dispatcher started", logx.Int("pending", s.pending.len()))
}

// Stop cancels the drain loop and waits for it to park. Pending
// requests stay in the queue; an in-flight send is never interrupted
// mid-call, only the waits between sends are.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.draining = false
		s.mu.Unlock()
		close(done)
		s.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Enqueue accepts one outbound message and returns its request id
// immediately; the caller never blocks on send completion.
func (s *Service) Enqueue(recipient, body string, opt Options) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}

	s.mu.Lock()
	cfg := s.cfg
	sink := s.sink
	s.mu.Unlock()

	if !cfg.Enabled {
		return "", ErrDisabled
	}

	// Outreach dedup: never DM the same handle twice inside the window.
	// A failing sink must not block enqueue, so errors mean "allow".
	if sink != nil && cfg.DedupWindow > 0 {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		until, seen, err := sink.Contacted(dctx, recipient)
		cancel()
		if err != nil {
			s.log.Debug("contact lookup failed; allowing enqueue", logx.String("recipient", recipient), logx.Err(err))
		} else if seen {
			s.log.Debug("recipient inside contact window", logx.String("recipient", recipient), logx.Time("until", until))
			return "", ErrRecentlyContacted
		}
	}

	now := s.clk.Now()
	req := &Request{
		ID:           uuid.NewString(),
		Recipient:    recipient,
		Body:         body,
		Priority:     opt.Priority,
		MaxRetries:   opt.MaxRetries,
		CreatedAt:    now,
		ScheduledFor: opt.ScheduledFor,
		Status:       StatusQueued,
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = cfg.MaxRetries
	}
	if req.ScheduledFor.IsZero() {
		req.ScheduledFor = now
	}

	s.mu.Lock()
	s.pending.push(req)
	s.counts[StatusQueued]++
	depth := s.pending.len()
	s.kickDrainLocked()
	s.mu.Unlock()

	s.log.Debug("request enqueued",
		logx.String("id", req.ID),
		logx.String("recipient", recipient),
		logx.String("priority", req.Priority.String()),
		logx.Int("queue_depth", depth))
	s.publish(eventbus.TopicEnqueued, map[string]any{"id": req.ID, "recipient": recipient, "priority": req.Priority.String()})
	return req.ID, nil
}

// Cancel removes a request that has not been dispatched yet. There is
// no mid-flight cancellation: once the drain loop has popped a request
// it will run its attempt to completion.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	req := s.pending.remove(id)
	if req != nil {
		s.transitionLocked(req, StatusFailed)
		req.LastError = "canceled by operator"
		s.rememberLocked(req)
	}
	s.mu.Unlock()
	if req == nil {
		return ErrNotFound
	}
	s.log.Info("request canceled", logx.String("id", id))
	s.publish(eventbus.TopicCanceled, map[string]any{"id": id})
	return nil
}

// Lookup returns a copy of a pending request.
func (s *Service) Lookup(id string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.pending.find(id); r != nil {
		return *r, true
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i], true
		}
	}
	return Request{}, false
}

// Stats returns the operator snapshot: per-account usage plus the
// lifetime request status breakdown. Safe to call while the drain loop
// sleeps.
func (s *Service) Stats() Stats {
	now := s.clk.Now()
	accounts := s.pool.Snapshot(now)

	s.mu.Lock()
	counts := make(map[Status]uint64, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	depth := s.pending.len()
	s.mu.Unlock()

	return Stats{Accounts: accounts, QueueDepth: depth, StatusCounts: counts}
}

// QueueStatus reports queue depth, whether the drain loop is running,
// and the earliest scheduled_for among pending requests.
func (s *Service) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatus{
		Depth:         s.pending.len(),
		Draining:      s.draining,
		NextScheduled: s.pending.earliest(),
	}
}

// History returns the most recent terminal requests, oldest first.
func (s *Service) History() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.history...)
}

// ---- internals ----

// kickDrainLocked starts the drain goroutine when the service is
// running and no drain is active. Caller holds s.mu.
func (s *Service) kickDrainLocked() {
	if s.draining || s.stopCh == nil || s.stopDone != nil {
		return
	}
	s.draining = true
	runCtx := s.runCtx
	stopCh := s.stopCh
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.drain(runCtx, stopCh)
	}()
}

// transitionLocked moves a request to a new status and keeps the
// lifetime counters consistent. Caller holds s.mu.
func (s *Service) transitionLocked(req *Request, to Status) {
	if s.counts[req.Status] > 0 {
		s.counts[req.Status]--
	}
	s.counts[to]++
	req.Status = to
}

// rememberLocked appends a terminal request to the bounded history.
// Caller holds s.mu.
func (s *Service) rememberLocked(req *Request) {
	s.history = append(s.history, *req)
	if max := s.cfg.HistorySize; len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

func (s *Service) publish(topic string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: topic, Data: data})
	}
}
