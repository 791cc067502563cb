package account

import (
	"time"

	"outreachd/internal/transport"
)

// State is the lifecycle state of a sending account.
//
// Accounts are never deleted; they only transition between states.
// cooling_down clears back to active lazily once the cooldown expires,
// banned and disabled require an operator ResetLimits.
type State string

const (
	StateActive      State = "active"
	StateCoolingDown State = "cooling_down"
	StateBanned      State = "banned"
	StateDisabled    State = "disabled"
)

// Config is one credentialed sending account as supplied by configuration.
type Config struct {
	Name     string
	Secret   string
	Priority int
}

// Limits holds per-account rate limits and the demotion policy.
// Zero fields fall back to the observed production defaults.
type Limits struct {
	DailySends  int
	HourlySends int
	MinGap      time.Duration

	DailyFollows int
	DailyLikes   int

	// WarningThreshold disables an account once its accumulated
	// warning count reaches it, regardless of failure kind.
	WarningThreshold int

	ChallengeCooldown time.Duration
	RateLimitCooldown time.Duration
	SpamFlagCooldown  time.Duration
}

func (l Limits) WithDefaults() Limits {
	if l.DailySends <= 0 {
		l.DailySends = 40
	}
	if l.HourlySends <= 0 {
		l.HourlySends = 8
	}
	if l.MinGap <= 0 {
		l.MinGap = 3 * time.Minute
	}
	if l.DailyFollows <= 0 {
		l.DailyFollows = 60
	}
	if l.DailyLikes <= 0 {
		l.DailyLikes = 200
	}
	if l.WarningThreshold <= 0 {
		l.WarningThreshold = 3
	}
	if l.ChallengeCooldown <= 0 {
		l.ChallengeCooldown = 24 * time.Hour
	}
	if l.RateLimitCooldown <= 0 {
		l.RateLimitCooldown = 6 * time.Hour
	}
	if l.SpamFlagCooldown <= 0 {
		l.SpamFlagCooldown = 24 * time.Hour
	}
	return l
}

// CooldownFor maps a failure kind onto the cooldown it imposes on the
// sending account. Zero means no automatic cooldown.
func (l Limits) CooldownFor(kind transport.FailureKind) time.Duration {
	switch kind {
	case transport.FailureChallenge:
		return l.ChallengeCooldown
	case transport.FailureRateLimited:
		return l.RateLimitCooldown
	case transport.FailureSpamFlag:
		return l.SpamFlagCooldown
	default:
		return 0
	}
}

// IdentityFault reports whether a failure kind counts against the
// sending account (as opposed to the recipient or the network path).
func IdentityFault(kind transport.FailureKind) bool {
	switch kind {
	case transport.FailureChallenge, transport.FailureRateLimited,
		transport.FailureSpamFlag, transport.FailureUnknown:
		return true
	default:
		return false
	}
}

// Status is a read-only view of one account for operators/dashboards.
type Status struct {
	Name     string
	State    State
	Flagged  bool
	Warnings int

	SentToday    int
	SentThisHour int
	FollowsToday int
	LikesToday   int

	DailyLimit  int
	HourlyLimit int

	CooldownUntil time.Time // zero when no cooldown
	LastSend      time.Time // zero when never sent
}
