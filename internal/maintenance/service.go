// Package maintenance runs the housekeeping cron jobs: a daily stats
// summary on the event bus and contact-window pruning in the store.
// It never resets rate counters; those roll over lazily in the account
// pool.
package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outreachd/internal/dispatch"
	"outreachd/internal/eventbus"
	"outreachd/internal/storage"
	logx "outreachd/pkg/logx"
)

// StatsSource is the slice of the dispatcher this service needs.
type StatsSource interface {
	Stats() dispatch.Stats
}

type Config struct {
	Enabled  bool
	Timezone string

	// Cron expressions, 5-field or 6-field with seconds.
	StatsCron string
	PruneCron string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.StatsCron) == "" {
		c.StatsCron = "0 9 * * *"
	}
	if strings.TrimSpace(c.PruneCron) == "" {
		c.PruneCron = "30 3 * * *"
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	stats StatsSource
	store storage.Store // may be nil

	c      *cron.Cron
	parser cron.Parser
}

func New(cfg Config, stats StatsSource, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		stats: stats,
		store: store,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	old := s.cfg
	s.cfg = cfg.withDefaults()

	if s.c == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) ||
		old.StatsCron != s.cfg.StatsCron || old.PruneCron != s.cfg.PruneCron {
		s.stopCronLocked()
		s.startCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Debug("maintenance disabled")
		return
	}
	s.startCronLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("maintenance stopped")
}

func (s *Service) startCronLocked() {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.StatsCron, s.publishSummary); err != nil {
		s.log.Warn("invalid stats_cron; summary job skipped", logx.String("spec", s.cfg.StatsCron), logx.Err(err))
	}
	if s.store != nil {
		if _, err := c.AddFunc(s.cfg.PruneCron, s.pruneContacts); err != nil {
			s.log.Warn("invalid prune_cron; prune job skipped", logx.String("spec", s.cfg.PruneCron), logx.Err(err))
		}
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("tz", loc.String()),
		logx.String("stats_cron", s.cfg.StatsCron),
		logx.String("prune_cron", s.cfg.PruneCron))
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) publishSummary() {
	st := s.stats.Stats()

	sent := st.StatusCounts[dispatch.StatusSent]
	failed := st.StatusCounts[dispatch.StatusFailed]
	s.log.Info("daily summary",
		logx.Uint64("sent", sent),
		logx.Uint64("failed", failed),
		logx.Int("queue_depth", st.QueueDepth),
		logx.Int("accounts", len(st.Accounts)))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicStatsSummary, Data: st})
	}
}

func (s *Service) pruneContacts() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.PruneExpired(ctx)
	if err != nil {
		s.log.Warn("contact prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("contact windows pruned", logx.Int("removed", n))
	}
}
