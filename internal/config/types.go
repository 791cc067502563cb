package config

// Config is the full on-disk configuration. Accepted as JSON or YAML;
// unknown fields are rejected so typos surface at load time instead of
// silently falling back to defaults.
//
// All durations are Go duration strings (e.g. "3m", "6h", "30s").
type Config struct {
	Accounts    []AccountConfig    `json:"accounts"`
	Limits      LimitsConfig       `json:"limits"`
	Dispatch    DispatchConfig     `json:"dispatch"`
	Inbound     *InboundConfig     `json:"inbound,omitempty"`
	Logging     LoggingConfig      `json:"logging"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

// AccountConfig is one credentialed sending account.
// Token is a secret; never log it.
type AccountConfig struct {
	Name     string `json:"name"`
	Token    string `json:"token"`
	Priority int    `json:"priority,omitempty"`
}

// LimitsConfig holds per-account rate limits and the demotion policy.
// Omitted fields fall back to runtime defaults (40/day, 8/hour, 3m gap,
// 60 follows, 200 likes, 3 warnings).
type LimitsConfig struct {
	DailySends  int    `json:"daily_sends,omitempty"`
	HourlySends int    `json:"hourly_sends,omitempty"`
	MinGap      string `json:"min_gap,omitempty"`

	DailyFollows int `json:"daily_follows,omitempty"`
	DailyLikes   int `json:"daily_likes,omitempty"`

	WarningThreshold int `json:"warning_threshold,omitempty"`

	ChallengeCooldown string `json:"challenge_cooldown,omitempty"`
	RateLimitCooldown string `json:"rate_limit_cooldown,omitempty"`
	SpamFlagCooldown  string `json:"spam_flag_cooldown,omitempty"`
}

// DispatchConfig controls the drain loop's pacing and retry policy.
type DispatchConfig struct {
	Enabled bool `json:"enabled"`

	PollInterval     string `json:"poll_interval,omitempty"`
	ExhaustedBackoff string `json:"exhausted_backoff,omitempty"`
	JitterMin        string `json:"jitter_min,omitempty"`
	JitterMax        string `json:"jitter_max,omitempty"`

	RetryStep  string `json:"retry_step,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`

	SendTimeout string `json:"send_timeout,omitempty"`

	// DedupWindow suppresses repeat outreach to the same recipient.
	// Requires storage; "0s" or a missing storage section disables it.
	DedupWindow string `json:"dedup_window,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// InboundConfig controls the reply poller. Omitted section means disabled.
type InboundConfig struct {
	Enabled      bool   `json:"enabled"`
	Interval     string `json:"interval,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alerts  LoggingAlert `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert republishes warn+ records on the event bus.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./outreachd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MaintenanceConfig controls the housekeeping cron jobs: the daily
// stats summary and contact-window pruning. It never touches rate
// counters; those roll over lazily inside the account pool.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// Cron expressions (standard 5-field). Defaults: summary at 09:00,
	// prune at 03:30.
	StatsCron string `json:"stats_cron,omitempty"`
	PruneCron string `json:"prune_cron,omitempty"`
}
