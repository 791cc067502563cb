// Package transport defines the boundary between the dispatch core and
// the outbound DM channel. Implementations must classify send failures
// into the FailureKind taxonomy instead of leaking raw errors, so the
// dispatcher can apply retry and cooldown policy uniformly.
package transport

import (
	"context"
	"time"
)

// FailureKind classifies a failed send attempt.
type FailureKind string

const (
	// FailureChallenge: the channel demands extra verification for the
	// sending account. Long cooldown, operator attention required.
	FailureChallenge FailureKind = "challenge_required"

	// FailureRateLimited: the channel throttled the sending account.
	FailureRateLimited FailureKind = "rate_limited"

	// FailureSpamFlag: the channel flagged the sending account as spam.
	FailureSpamFlag FailureKind = "flagged_as_spam"

	// FailureRecipientNotFound: the target handle is invalid, deleted,
	// or has blocked the sender. Not an account fault.
	FailureRecipientNotFound FailureKind = "recipient_not_found"

	// FailureNetwork: transient transport-level error (timeout, DNS,
	// connection reset). Retried without penalizing the account.
	FailureNetwork FailureKind = "network_error"

	// FailureUnknown: anything the adapter could not classify.
	FailureUnknown FailureKind = "unknown"
)

// Result is the outcome of a single send attempt.
type Result struct {
	OK                bool
	ProviderMessageID string

	// Failure is set when OK is false.
	Failure FailureKind
	// Detail is a human-readable cause for logs and the audit trail.
	Detail string
}

// Failed builds a failure Result.
func Failed(kind FailureKind, detail string) Result {
	return Result{Failure: kind, Detail: detail}
}

// Inbound is one reply received on a sending account.
type Inbound struct {
	Recipient  string
	Body       string
	ReceivedAt time.Time
}

// Transport is the outbound channel used by the dispatcher.
//
// Send must not return a Go error for policy-relevant failures; it
// classifies them into Result.Failure so the drain loop never has to
// interpret provider-specific errors.
type Transport interface {
	Send(ctx context.Context, account, recipient, body string) Result
	CheckInbound(ctx context.Context, account string) ([]Inbound, error)
}
