// Package account tracks eligibility and usage of every sending account.
//
// The pool is the only shared mutable resource between the drain loop
// and status queries, so all state lives behind one mutex. Day/hour
// counter rollover is evaluated lazily on access; there is deliberately
// no background reset timer (an account that is never touched near a
// boundary may show stale counters until its next access).
package account

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"outreachd/internal/eventbus"
	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

var ErrUnknownAccount = errors.New("unknown account")

const (
	dayKeyFormat  = "2006-01-02"
	hourKeyFormat = "2006-01-02T15"
)

type acct struct {
	name     string
	secret   string
	priority int

	state   State
	flagged bool

	cooldownUntil time.Time
	lastSend      time.Time

	sentToday    int
	sentThisHour int
	followsToday int
	likesToday   int
	warnings     int

	dayKey  string
	hourKey string
}

// Pool owns every sending account and its counters.
type Pool struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	limits Limits

	// order is the eligibility scan order: config priority descending,
	// stable within equal priority.
	order    []string
	accounts map[string]*acct
}

// New registers every usable account. Entries with missing name/secret
// are logged and skipped rather than aborting the whole pool; zero
// usable accounts is a hard error because the dispatcher cannot
// function without at least one.
func New(cfgs []Config, limits Limits, log logx.Logger, bus eventbus.Bus) (*Pool, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pool{
		log:      log,
		bus:      bus,
		limits:   limits.WithDefaults(),
		accounts: map[string]*acct{},
	}

	type entry struct {
		cfg Config
		idx int
	}
	usable := make([]entry, 0, len(cfgs))
	for i, c := range cfgs {
		name := strings.TrimSpace(c.Name)
		if name == "" || strings.TrimSpace(c.Secret) == "" {
			log.Warn("skipping account with missing name or secret", logx.Int("index", i))
			continue
		}
		if _, dup := p.accounts[name]; dup {
			log.Warn("skipping duplicate account", logx.String("account", name))
			continue
		}
		p.accounts[name] = &acct{name: name, secret: c.Secret, priority: c.Priority, state: StateActive}
		usable = append(usable, entry{cfg: c, idx: i})
	}
	if len(usable) == 0 {
		return nil, errors.New("no usable sending accounts configured")
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].cfg.Priority > usable[j].cfg.Priority
	})
	for _, e := range usable {
		p.order = append(p.order, strings.TrimSpace(e.cfg.Name))
	}

	log.Info("account pool initialized", logx.Int("accounts", len(p.order)))
	return p, nil
}

// Apply swaps the limit set at runtime. New limits take effect on the
// next eligibility evaluation; counters are untouched.
func (p *Pool) Apply(limits Limits) {
	p.mu.Lock()
	p.limits = limits.WithDefaults()
	p.mu.Unlock()
}

// Limits returns the active limit set.
func (p *Pool) Limits() Limits {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits
}

// Secret returns the credential for a registered account.
func (p *Pool) Secret(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return "", false
	}
	return a.secret, true
}

// rollover resets day/hour counters when the wall-clock day or hour has
// changed since the account was last touched. Caller holds p.mu.
func (p *Pool) rollover(a *acct, now time.Time) {
	day := now.Format(dayKeyFormat)
	hour := now.Format(hourKeyFormat)
	if a.dayKey != day {
		a.dayKey = day
		a.sentToday = 0
		a.followsToday = 0
		a.likesToday = 0
	}
	if a.hourKey != hour {
		a.hourKey = hour
		a.sentThisHour = 0
	}
}

// clearExpiredCooldown transitions cooling_down back to active once the
// window has passed. Caller holds p.mu.
func (p *Pool) clearExpiredCooldown(a *acct, now time.Time) {
	if a.state != StateCoolingDown {
		return
	}
	if a.cooldownUntil.IsZero() || !a.cooldownUntil.After(now) {
		a.state = StateActive
		a.cooldownUntil = time.Time{}
	}
}

// Acquire returns the first eligible account in scan order, or
// ("", false) when every account is rate-limited, cooling down, or
// demoted. "None available" is not an error; it tells the dispatcher
// to back off and retry later.
func (p *Pool) Acquire(now time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range p.order {
		a := p.accounts[name]
		p.rollover(a, now)
		p.clearExpiredCooldown(a, now)

		if a.state != StateActive {
			continue
		}
		if !a.cooldownUntil.IsZero() && a.cooldownUntil.After(now) {
			continue
		}
		if a.sentToday >= p.limits.DailySends {
			continue
		}
		if a.sentThisHour >= p.limits.HourlySends {
			continue
		}
		if !a.lastSend.IsZero() && now.Sub(a.lastSend) < p.limits.MinGap {
			continue
		}
		return name, true
	}
	return "", false
}

// RecordSuccess bumps the account's counters after a delivered send.
func (p *Pool) RecordSuccess(name string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return
	}
	p.rollover(a, now)
	a.sentToday++
	a.sentThisHour++
	a.lastSend = now
}

// RecordFollow counts a follow action against the daily follow budget.
func (p *Pool) RecordFollow(name string, now time.Time) error {
	return p.recordAction(name, now, func(a *acct, lim Limits) error {
		if a.followsToday >= lim.DailyFollows {
			return errors.New("daily follow limit reached")
		}
		a.followsToday++
		return nil
	})
}

// RecordLike counts a like action against the daily like budget.
func (p *Pool) RecordLike(name string, now time.Time) error {
	return p.recordAction(name, now, func(a *acct, lim Limits) error {
		if a.likesToday >= lim.DailyLikes {
			return errors.New("daily like limit reached")
		}
		a.likesToday++
		return nil
	})
}

func (p *Pool) recordAction(name string, now time.Time, fn func(*acct, Limits) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return ErrUnknownAccount
	}
	p.rollover(a, now)
	return fn(a, p.limits)
}

// RecordFailure applies the demotion policy for an account-level
// failure: a warning always accrues, a cooldown may be imposed
// depending on the failure kind, and crossing the warning threshold
// disables the account outright (overriding any shorter cooldown).
func (p *Pool) RecordFailure(name string, kind transport.FailureKind, now time.Time) {
	p.mu.Lock()
	a, ok := p.accounts[name]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.rollover(a, now)
	a.warnings++

	var events []eventbus.Event

	if d := p.limits.CooldownFor(kind); d > 0 {
		a.cooldownUntil = now.Add(d)
		if a.state == StateActive {
			a.state = StateCoolingDown
		}
		events = append(events, eventbus.Event{
			Topic: eventbus.TopicCooldown,
			Data:  map[string]any{"account": name, "kind": string(kind), "until": a.cooldownUntil},
		})
		p.log.Warn("account cooling down",
			logx.String("account", name),
			logx.String("kind", string(kind)),
			logx.Time("until", a.cooldownUntil))
	}

	if kind == transport.FailureChallenge && !a.flagged {
		// Needs manual verification; surface it once.
		a.flagged = true
		events = append(events, eventbus.Event{
			Topic: eventbus.TopicFlagged,
			Data:  map[string]any{"account": name, "kind": string(kind)},
		})
	}

	if a.warnings >= p.limits.WarningThreshold && a.state != StateDisabled {
		a.state = StateDisabled
		events = append(events, eventbus.Event{
			Topic: eventbus.TopicDisabled,
			Data:  map[string]any{"account": name, "warnings": a.warnings},
		})
		p.log.Error("account disabled after repeated failures",
			logx.String("account", name),
			logx.Int("warnings", a.warnings))
	}
	bus := p.bus
	p.mu.Unlock()

	if bus != nil {
		for _, e := range events {
			bus.Publish(e)
		}
	}
}

// Ban marks an account banned (operator action; e.g. the channel
// terminated it). Banned accounts are never selected until reset.
func (p *Pool) Ban(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return ErrUnknownAccount
	}
	a.state = StateBanned
	return nil
}

// ResetLimits clears counters, cooldown, warnings, and the flagged bit
// for one account and restores it to active. Manual recovery only; the
// normal flow never calls this.
func (p *Pool) ResetLimits(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return ErrUnknownAccount
	}
	p.reset(a)
	p.log.Info("account limits reset", logx.String("account", name))
	return nil
}

// ResetAll applies ResetLimits to every account.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		p.reset(a)
	}
	p.log.Info("all account limits reset", logx.Int("accounts", len(p.accounts)))
}

func (p *Pool) reset(a *acct) {
	a.state = StateActive
	a.flagged = false
	a.cooldownUntil = time.Time{}
	a.lastSend = time.Time{}
	a.sentToday = 0
	a.sentThisHour = 0
	a.followsToday = 0
	a.likesToday = 0
	a.warnings = 0
	a.dayKey = ""
	a.hourKey = ""
}

// Snapshot returns a per-account usage view in scan order.
// It performs the lazy rollover so the view reflects current windows.
func (p *Pool) Snapshot(now time.Time) []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.order))
	for _, name := range p.order {
		a := p.accounts[name]
		p.rollover(a, now)
		p.clearExpiredCooldown(a, now)
		out = append(out, Status{
			Name:          a.name,
			State:         a.state,
			Flagged:       a.flagged,
			Warnings:      a.warnings,
			SentToday:     a.sentToday,
			SentThisHour:  a.sentThisHour,
			FollowsToday:  a.followsToday,
			LikesToday:    a.likesToday,
			DailyLimit:    p.limits.DailySends,
			HourlyLimit:   p.limits.HourlySends,
			CooldownUntil: a.cooldownUntil,
			LastSend:      a.lastSend,
		})
	}
	return out
}

// Names returns the scan order. Used by the inbound poller.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}
