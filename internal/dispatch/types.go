package dispatch

import (
	"errors"
	"time"

	"outreachd/internal/account"
	"outreachd/internal/transport"
)

var (
	ErrDisabled          = errors.New("dispatcher disabled")
	ErrNotFound          = errors.New("request not found")
	ErrEmptyRecipient    = errors.New("recipient is empty")
	ErrEmptyBody         = errors.New("message body is empty")
	ErrRecentlyContacted = errors.New("recipient contacted recently")
)

// Priority orders requests within the queue. The zero value is Normal
// so callers that don't care get sensible behavior.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch {
	case p >= PriorityHigh:
		return "high"
	case p <= PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Status is the lifecycle state of a request. sent and failed are
// terminal; a terminal request is immutable and lives only in the
// bounded history and the lifetime counters.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusSent           Status = "sent"
	StatusFailed         Status = "failed"
)

// Request is one unit of outbound work.
type Request struct {
	ID        string
	Recipient string
	Body      string
	Priority  Priority

	RetryCount int
	MaxRetries int

	CreatedAt    time.Time
	ScheduledFor time.Time

	Status  Status
	Account string // set once sent

	LastFailure transport.FailureKind
	LastError   string
}

// Options tunes a single Enqueue call. Zero values mean defaults:
// normal priority, scheduled now, config MaxRetries.
type Options struct {
	Priority     Priority
	ScheduledFor time.Time
	MaxRetries   int
}

// Config controls the drain loop's pacing. Zero fields fall back to the
// observed production defaults. The three timescales matter: too fast
// wastes polling, too regular trips the channel's abuse detection.
type Config struct {
	Enabled bool

	// PollInterval is the coarse re-check delay when the head request
	// is scheduled in the future. Timing tolerance here is minutes.
	PollInterval time.Duration

	// ExhaustedBackoff is the long wait when no account is eligible:
	// everything is rate-limited or cooling down, so polling faster
	// does no useful work.
	ExhaustedBackoff time.Duration

	// JitterMin/JitterMax bound the uniformly random human-like delay
	// after each delivered send.
	JitterMin time.Duration
	JitterMax time.Duration

	// RetryStep is the per-retry linear backoff unit:
	// scheduled_for = now + retry_count * RetryStep.
	RetryStep  time.Duration
	MaxRetries int

	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration

	// DedupWindow rejects a recipient already contacted within the
	// window. Zero disables the guard (and it is skipped entirely when
	// no persistence sink is configured).
	DedupWindow time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.ExhaustedBackoff <= 0 {
		c.ExhaustedBackoff = 30 * time.Minute
	}
	if c.JitterMin <= 0 {
		c.JitterMin = 2 * time.Minute
	}
	if c.JitterMax <= c.JitterMin {
		c.JitterMax = c.JitterMin + 6*time.Minute
	}
	if c.RetryStep <= 0 {
		c.RetryStep = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Stats is the operator view: per-account usage plus the lifetime
// request status breakdown for this process.
type Stats struct {
	Accounts     []account.Status
	QueueDepth   int
	StatusCounts map[Status]uint64
}

// QueueStatus is a cheap queue-only snapshot.
type QueueStatus struct {
	Depth         int
	Draining      bool
	NextScheduled time.Time // zero when the queue is empty
}
