package config

import (
	"reflect"
	"sort"
	"strings"

	logx "outreachd/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Account tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if accountsChanged(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.count", len(newCfg.Accounts)))
	}

	if !reflect.DeepEqual(oldCfg.Limits, newCfg.Limits) {
		changed = append(changed, "limits")
		attrs = append(attrs,
			logx.Int("limits.daily_sends", newCfg.Limits.DailySends),
			logx.Int("limits.hourly_sends", newCfg.Limits.HourlySends),
			logx.String("limits.min_gap", strings.TrimSpace(newCfg.Limits.MinGap)),
			logx.Int("limits.warning_threshold", newCfg.Limits.WarningThreshold),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", newCfg.Dispatch.Enabled),
			logx.String("dispatch.poll_interval", strings.TrimSpace(newCfg.Dispatch.PollInterval)),
			logx.String("dispatch.retry_step", strings.TrimSpace(newCfg.Dispatch.RetryStep)),
			logx.Int("dispatch.max_retries", newCfg.Dispatch.MaxRetries),
		)
	}

	oi, ni := derefInbound(oldCfg.Inbound), derefInbound(newCfg.Inbound)
	if oi != ni {
		changed = append(changed, "inbound")
		attrs = append(attrs,
			logx.Bool("inbound.enabled", ni.Enabled),
			logx.String("inbound.interval", strings.TrimSpace(ni.Interval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	ostore, nstore := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ostore != nstore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nstore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nstore.Path) != ""),
		)
	}

	om, nm := derefMaintenance(oldCfg.Maintenance), derefMaintenance(newCfg.Maintenance)
	if om != nm {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.Bool("maintenance.enabled", nm.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

// accountsChanged compares everything except tokens by value; a token
// change is still detected (set/unset and count), just never logged.
func accountsChanged(oldA, newA []AccountConfig) bool {
	if len(oldA) != len(newA) {
		return true
	}
	for i := range oldA {
		if oldA[i] != newA[i] {
			return true
		}
	}
	return false
}

func derefInbound(c *InboundConfig) InboundConfig {
	if c == nil {
		return InboundConfig{}
	}
	return *c
}

func derefStorage(c *StorageConfig) StorageConfig {
	if c == nil {
		return StorageConfig{}
	}
	return *c
}

func derefMaintenance(c *MaintenanceConfig) MaintenanceConfig {
	if c == nil {
		return MaintenanceConfig{}
	}
	return *c
}
