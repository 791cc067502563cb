// Package app wires configuration, logging, storage, the account pool,
// the transport adapter, and the dispatch services into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"outreachd/internal/account"
	"outreachd/internal/config"
	"outreachd/internal/dispatch"
	"outreachd/internal/eventbus"
	"outreachd/internal/maintenance"
	"outreachd/internal/storage"
	"outreachd/internal/transport/telegram"
	logx "outreachd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	bus  eventbus.Bus

	log  logx.Logger
	logs *logx.Service

	store   storage.Store // may be nil
	pool    *account.Pool
	adapter *telegram.Adapter

	dispatcher *dispatch.Service
	inbound    *dispatch.Inbound
	maint      *maintenance.Service

	mu        sync.Mutex
	runCancel context.CancelFunc
	bgWG      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := eventbus.New()
	logSvc, log := logx.New(cfg.LogConfig(), bus)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	limits, err := cfg.AccountLimits()
	if err != nil {
		return nil, err
	}
	pool, err := account.New(cfg.AccountConfigs(), limits, log.With(logx.String("comp", "pool")), bus)
	if err != nil {
		return nil, err
	}

	adapter := telegram.New(pool, log.With(logx.String("comp", "telegram")))

	dispCfg, err := cfg.DispatcherConfig()
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dispCfg, pool, adapter, store, nil,
		log.With(logx.String("comp", "dispatch")), bus)

	inCfg, err := cfg.InboundPollerConfig()
	if err != nil {
		return nil, err
	}
	inbound := dispatch.NewInbound(inCfg, pool, adapter,
		log.With(logx.String("comp", "inbound")), bus)

	var maintCfg maintenance.Config
	if cfg.Maintenance != nil {
		maintCfg = maintenance.Config{
			Enabled:   cfg.Maintenance.Enabled,
			Timezone:  cfg.Maintenance.Timezone,
			StatsCron: cfg.Maintenance.StatsCron,
			PruneCron: cfg.Maintenance.PruneCron,
		}
	}
	maint := maintenance.New(maintCfg, dispatcher, store,
		log.With(logx.String("comp", "maintenance")), bus)

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		bus:        bus,
		log:        log,
		logs:       logSvc,
		store:      store,
		pool:       pool,
		adapter:    adapter,
		dispatcher: dispatcher,
		inbound:    inbound,
		maint:      maint,
	}, nil
}

// Dispatcher exposes the queue API for embedding callers.
func (a *App) Dispatcher() *dispatch.Service { return a.dispatcher }

// Bus exposes the event stream for embedding callers.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.runCancel != nil {
		a.mu.Unlock()
		cancel()
		return nil
	}
	a.runCancel = cancel
	a.mu.Unlock()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Maintenance != nil {
			if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
				}
			}
		}
		return nil
	})

	a.dispatcher.Start(runCtx)
	a.inbound.Start(runCtx)
	a.maint.Start(runCtx)

	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.bgWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	a.maint.Stop(ctx)
	a.inbound.Stop(ctx)
	a.dispatcher.Stop(ctx)
	a.bgWG.Wait()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// reloadLoop applies validated config updates to the running services.
// Accounts and the storage driver are boot-time wiring; changing them
// takes a restart, everything else hot-swaps.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.log.Info("config change summary",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			lastApplied = newCfg

			a.logs.Apply(newCfg.LogConfig())

			if limits, err := newCfg.AccountLimits(); err == nil {
				a.pool.Apply(limits)
			}
			if dispCfg, err := newCfg.DispatcherConfig(); err == nil {
				a.dispatcher.Apply(dispCfg)
			}
			if inCfg, err := newCfg.InboundPollerConfig(); err == nil {
				a.inbound.Apply(inCfg)
			}
			if newCfg.Maintenance != nil {
				a.maint.Apply(maintenance.Config{
					Enabled:   newCfg.Maintenance.Enabled,
					Timezone:  newCfg.Maintenance.Timezone,
					StatsCron: newCfg.Maintenance.StatsCron,
					PruneCron: newCfg.Maintenance.PruneCron,
				})
			}

			for _, section := range sections {
				if section == "accounts" || section == "storage" {
					a.log.Warn("section changed but requires restart to take effect",
						logx.String("section", section))
				}
			}
		}
	}
}
