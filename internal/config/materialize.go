package config

import (
	"errors"
	"fmt"
	"strings"

	"outreachd/internal/account"
	"outreachd/internal/dispatch"
	"outreachd/internal/storage"
	logx "outreachd/pkg/logx"
)

// The materializers translate the string-typed on-disk sections into
// the typed runtime configs each service takes. They are also the
// validation pass: Watch() runs them as the validator hook so a bad
// duration never reaches a running service.

func (c *Config) AccountConfigs() []account.Config {
	out := make([]account.Config, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, account.Config{
			Name:     strings.TrimSpace(a.Name),
			Secret:   a.Token,
			Priority: a.Priority,
		})
	}
	return out
}

func (c *Config) AccountLimits() (account.Limits, error) {
	var lim account.Limits
	var err error

	lim.DailySends = c.Limits.DailySends
	lim.HourlySends = c.Limits.HourlySends
	lim.DailyFollows = c.Limits.DailyFollows
	lim.DailyLikes = c.Limits.DailyLikes
	lim.WarningThreshold = c.Limits.WarningThreshold

	if lim.MinGap, err = ParseDurationField("limits.min_gap", c.Limits.MinGap); err != nil {
		return lim, err
	}
	if lim.ChallengeCooldown, err = ParseDurationField("limits.challenge_cooldown", c.Limits.ChallengeCooldown); err != nil {
		return lim, err
	}
	if lim.RateLimitCooldown, err = ParseDurationField("limits.rate_limit_cooldown", c.Limits.RateLimitCooldown); err != nil {
		return lim, err
	}
	if lim.SpamFlagCooldown, err = ParseDurationField("limits.spam_flag_cooldown", c.Limits.SpamFlagCooldown); err != nil {
		return lim, err
	}
	return lim.WithDefaults(), nil
}

func (c *Config) DispatcherConfig() (dispatch.Config, error) {
	d := c.Dispatch
	out := dispatch.Config{
		Enabled:     d.Enabled,
		MaxRetries:  d.MaxRetries,
		HistorySize: d.HistorySize,
	}
	var err error
	if out.PollInterval, err = ParseDurationField("dispatch.poll_interval", d.PollInterval); err != nil {
		return out, err
	}
	if out.ExhaustedBackoff, err = ParseDurationField("dispatch.exhausted_backoff", d.ExhaustedBackoff); err != nil {
		return out, err
	}
	if out.JitterMin, err = ParseDurationField("dispatch.jitter_min", d.JitterMin); err != nil {
		return out, err
	}
	if out.JitterMax, err = ParseDurationField("dispatch.jitter_max", d.JitterMax); err != nil {
		return out, err
	}
	if out.RetryStep, err = ParseDurationField("dispatch.retry_step", d.RetryStep); err != nil {
		return out, err
	}
	if out.SendTimeout, err = ParseDurationField("dispatch.send_timeout", d.SendTimeout); err != nil {
		return out, err
	}
	if out.DedupWindow, err = ParseDurationField("dispatch.dedup_window", d.DedupWindow); err != nil {
		return out, err
	}
	if out.JitterMax > 0 && out.JitterMax < out.JitterMin {
		return out, errors.New("dispatch: jitter_max must be >= jitter_min")
	}
	return out, nil
}

func (c *Config) InboundPollerConfig() (dispatch.InboundConfig, error) {
	out := dispatch.InboundConfig{}
	if c.Inbound == nil {
		return out, nil
	}
	out.Enabled = c.Inbound.Enabled
	var err error
	if out.Interval, err = ParseDurationField("inbound.interval", c.Inbound.Interval); err != nil {
		return out, err
	}
	if out.FetchTimeout, err = ParseDurationField("inbound.fetch_timeout", c.Inbound.FetchTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    c.Logging.Alerts.Enabled,
			MinLevel:   c.Logging.Alerts.MinLevel,
			RatePerSec: c.Logging.Alerts.RatePerSec,
		},
	}
}

func (c *Config) StoreConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	out := storage.Config{
		Driver: c.Storage.Driver,
		Path:   c.Storage.Path,
	}
	var err error
	if out.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return out, err
	}
	return out, nil
}

// Validate runs every materializer plus the cross-section checks.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("accounts: at least one sending account is required")
	}
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		if strings.TrimSpace(a.Token) == "" {
			return fmt.Errorf("accounts[%d] (%s): token is required", i, name)
		}
		if seen[name] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}

	if _, err := c.AccountLimits(); err != nil {
		return err
	}
	if _, err := c.DispatcherConfig(); err != nil {
		return err
	}
	if _, err := c.InboundPollerConfig(); err != nil {
		return err
	}
	if _, err := c.StoreConfig(); err != nil {
		return err
	}

	d, _ := c.DispatcherConfig()
	if d.DedupWindow > 0 && (c.Storage == nil || strings.TrimSpace(c.Storage.Driver) == "" || strings.EqualFold(c.Storage.Driver, "none")) {
		return errors.New("dispatch.dedup_window requires a storage section")
	}
	return nil
}
