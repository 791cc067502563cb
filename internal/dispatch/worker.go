package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"outreachd/internal/account"
	"outreachd/internal/eventbus"
	"outreachd/internal/storage"
	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

// drain is the single logical worker. It runs until the queue empties
// or the service stops; Enqueue restarts it as needed. Only this
// goroutine mutates request state and account counters, so the loop
// body never races with itself.
func (s *Service) drain(ctx context.Context, stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in drain loop", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
		}
	}()

	s.log.Debug("drain loop started")
	for {
		// Fast-exit so stop wins over pending work.
		select {
		case <-ctx.Done():
			s.parkDrain("context canceled")
			return
		case <-stopCh:
			s.parkDrain("service stopping")
			return
		default:
		}

		s.mu.Lock()
		cfg := s.cfg
		head := s.pending.peek()
		if head == nil {
			// Queue empty: park. The flag is cleared in the same
			// critical section as the emptiness check so a concurrent
			// Enqueue either sees draining=true or finds it cleared
			// and kicks a fresh loop.
			s.draining = false
			s.mu.Unlock()
			s.log.Debug("drain loop parked (queue empty)")
			return
		}

		now := s.clk.Now()
		if head.ScheduledFor.After(now) {
			s.mu.Unlock()
			// Coarse polling: tolerance here is minutes, not seconds,
			// and a newly enqueued ready request re-sorts ahead of a
			// future-scheduled head anyway.
			if !s.waitOrStop(ctx, stopCh, cfg.PollInterval) {
				s.parkDrain("stopped while waiting for scheduled request")
				return
			}
			continue
		}

		req := s.pending.pop()
		s.mu.Unlock()

		acctName, ok := s.pool.Acquire(now)
		if !ok {
			// Every account is rate-limited, cooling down, or demoted.
			// Push the request back and take the long backoff; polling
			// faster would do no useful work.
			s.mu.Lock()
			s.pending.push(req)
			s.mu.Unlock()
			s.log.Info("no sending account available; backing off",
				logx.Duration("backoff", cfg.ExhaustedBackoff),
				logx.Int("queue_depth", s.QueueStatus().Depth))
			s.publish(eventbus.TopicPoolExhausted, map[string]any{"backoff": cfg.ExhaustedBackoff.String()})
			if !s.waitOrStop(ctx, stopCh, cfg.ExhaustedBackoff) {
				s.parkDrain("stopped during pool-exhaustion backoff")
				return
			}
			continue
		}

		res := s.attempt(ctx, cfg, acctName, req)
		if res.OK {
			// Human-like pacing between successful sends. Applied on
			// top of the pool's per-account minimum gap; whichever
			// wait is longer dominates.
			s.mu.Lock()
			jitter := sendJitter(s.rng, cfg.JitterMin, cfg.JitterMax)
			s.mu.Unlock()
			if !s.waitOrStop(ctx, stopCh, jitter) {
				s.parkDrain("stopped during inter-send jitter")
				return
			}
		}
	}
}

// attempt performs one send and applies the outcome policy. Returns the
// transport result so the caller knows whether to jitter.
func (s *Service) attempt(ctx context.Context, cfg Config, acctName string, req *Request) transport.Result {
	attemptNo := req.RetryCount + 1

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	res := s.tr.Send(sctx, acctName, req.Recipient, req.Body)
	cancel()

	now := s.clk.Now()

	if res.OK {
		s.pool.RecordSuccess(acctName, now)
		s.mu.Lock()
		req.Account = acctName
		s.transitionLocked(req, StatusSent)
		s.rememberLocked(req)
		s.mu.Unlock()

		s.log.Info("message sent",
			logx.String("id", req.ID),
			logx.String("account", acctName),
			logx.String("recipient", req.Recipient),
			logx.Int("attempt", attemptNo))
		s.publish(eventbus.TopicSent, map[string]any{"id": req.ID, "account": acctName, "recipient": req.Recipient})
		s.record(req, attemptNo, acctName, res, now, cfg)
		return res
	}

	kind := res.Failure
	if kind == "" {
		kind = transport.FailureUnknown
	}
	req.LastFailure = kind
	req.LastError = res.Detail

	if kind == transport.FailureRecipientNotFound {
		// Recipient fault: permanent, not retried, no account penalty,
		// retry count untouched.
		s.mu.Lock()
		s.transitionLocked(req, StatusFailed)
		s.rememberLocked(req)
		s.mu.Unlock()
		s.log.Warn("recipient not found; request failed",
			logx.String("id", req.ID),
			logx.String("recipient", req.Recipient),
			logx.String("detail", res.Detail))
		s.publish(eventbus.TopicFailed, map[string]any{"id": req.ID, "kind": string(kind)})
		s.record(req, attemptNo, acctName, res, now, cfg)
		return res
	}

	if account.IdentityFault(kind) {
		s.pool.RecordFailure(acctName, kind, now)
	}

	req.RetryCount++
	if req.RetryCount < req.MaxRetries {
		delay := retryBackoff(req.RetryCount, cfg.RetryStep)
		req.ScheduledFor = now.Add(delay)
		s.mu.Lock()
		s.transitionLocked(req, StatusRetryScheduled)
		s.pending.push(req)
		s.mu.Unlock()
		s.log.Warn("send failed; retry scheduled",
			logx.String("id", req.ID),
			logx.String("account", acctName),
			logx.String("kind", string(kind)),
			logx.Int("retry", req.RetryCount),
			logx.Duration("delay", delay))
		s.publish(eventbus.TopicRetry, map[string]any{"id": req.ID, "kind": string(kind), "retry": req.RetryCount, "next": req.ScheduledFor})
	} else {
		s.mu.Lock()
		s.transitionLocked(req, StatusFailed)
		s.rememberLocked(req)
		s.mu.Unlock()
		s.log.Error("request failed permanently",
			logx.String("id", req.ID),
			logx.String("account", acctName),
			logx.String("kind", string(kind)),
			logx.Int("retries", req.RetryCount),
			logx.String("detail", res.Detail))
		s.publish(eventbus.TopicFailed, map[string]any{"id": req.ID, "kind": string(kind), "retries": req.RetryCount})
	}
	s.record(req, attemptNo, acctName, res, now, cfg)
	return res
}

// record writes the attempt to the persistence sink. Fire-and-forget:
// sink failures are logged at debug and never propagate into the loop.
func (s *Service) record(req *Request, attemptNo int, acctName string, res transport.Result, now time.Time, cfg Config) {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entry := storage.AttemptEntry{
		At:                now,
		RequestID:         req.ID,
		Account:           acctName,
		Recipient:         req.Recipient,
		Status:            string(req.Status),
		Attempt:           attemptNo,
		Failure:           string(res.Failure),
		Detail:            res.Detail,
		ProviderMessageID: res.ProviderMessageID,
	}
	if err := s.sink.AppendAttempt(ctx, entry); err != nil {
		s.log.Debug("attempt record failed", logx.String("id", req.ID), logx.Err(err))
	}
	if res.OK && cfg.DedupWindow > 0 {
		if err := s.sink.MarkContacted(ctx, req.Recipient, now.Add(cfg.DedupWindow)); err != nil {
			s.log.Debug("contact mark failed", logx.String("recipient", req.Recipient), logx.Err(err))
		}
	}
}

// waitOrStop parks on the clock for d. Returns false when the wait was
// interrupted by shutdown.
func (s *Service) waitOrStop(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	tmr := s.clk.NewTimer(d)
	select {
	case <-ctx.Done():
		tmr.Stop()
		return false
	case <-stopCh:
		tmr.Stop()
		return false
	case <-tmr.C():
		return true
	}
}

func (s *Service) parkDrain(reason string) {
	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()
	s.log.Debug("drain loop parked", logx.String("reason", reason))
}
