package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"outreachd/internal/account"
	"outreachd/internal/eventbus"
	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

// InboundConfig tunes the reply poller.
type InboundConfig struct {
	Enabled bool

	// Interval between poll sweeps across the account pool.
	Interval time.Duration

	// FetchTimeout bounds a single per-account CheckInbound call.
	FetchTimeout time.Duration
}

func (c InboundConfig) withDefaults() InboundConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// Inbound polls every account for replies and republishes them on the
// event bus. It never touches the outbound queue: reply handling is a
// subscriber concern.
type Inbound struct {
	mu  sync.Mutex
	cfg InboundConfig

	log  logx.Logger
	bus  eventbus.Bus
	pool *account.Pool
	tr   transport.Transport

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func NewInbound(cfg InboundConfig, pool *account.Pool, tr transport.Transport, log logx.Logger, bus eventbus.Bus) *Inbound {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Inbound{
		cfg:  cfg.withDefaults(),
		log:  log,
		bus:  bus,
		pool: pool,
		tr:   tr,
	}
}

func (p *Inbound) Apply(cfg InboundConfig) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Inbound) Start(ctx context.Context) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	if !cfg.Enabled {
		p.log.Debug("inbound poller disabled")
		return
	}

	for {
		p.mu.Lock()
		if p.stopCh == nil {
			break
		}
		done := p.stopDone
		if done == nil {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer p.mu.Unlock()

	p.stopCh = make(chan struct{})
	p.runCtx, p.runCancel = context.WithCancel(ctx)

	p.workerWG.Add(1)
	go func() {
		defer p.workerWG.Done()
		p.loop(p.runCtx, p.stopCh)
	}()

	p.log.Info("inbound poller started", logx.Duration("interval", cfg.Interval))
}

func (p *Inbound) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	p.stopDone = done
	stopCh := p.stopCh
	cancel := p.runCancel
	p.runCancel = nil
	p.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		p.workerWG.Wait()
		p.mu.Lock()
		p.stopCh = nil
		p.runCtx = nil
		p.stopDone = nil
		p.mu.Unlock()
		close(done)
		p.log.Info("inbound poller stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (p *Inbound) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic in inbound poller", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	for {
		p.mu.Lock()
		cfg := p.cfg
		p.mu.Unlock()

		p.sweep(ctx, cfg)

		tmr := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-stopCh:
			tmr.Stop()
			return
		case <-tmr.C:
		}
	}
}

// sweep checks every account once. A failing account is logged and
// skipped; replies from the rest still come through.
func (p *Inbound) sweep(ctx context.Context, cfg InboundConfig) {
	for _, name := range p.pool.Names() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		msgs, err := p.tr.CheckInbound(fctx, name)
		cancel()
		if err != nil {
			p.log.Warn("inbound check failed", logx.String("account", name), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			p.log.Debug("reply received",
				logx.String("account", name),
				logx.String("from", m.Recipient))
			if p.bus != nil {
				p.bus.Publish(eventbus.Event{Topic: eventbus.TopicReply, Data: ReplyEvent{
					Account:    name,
					From:       m.Recipient,
					Body:       m.Body,
					ReceivedAt: m.ReceivedAt,
				}})
			}
		}
	}
}

// ReplyEvent is the payload published on dm.reply.
type ReplyEvent struct {
	Account    string    `json:"account"`
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}
