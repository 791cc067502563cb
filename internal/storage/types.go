package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AttemptEntry records one send attempt for the audit trail.
// Keep it compact and schema-stable; the dashboard reads this.
type AttemptEntry struct {
	At                time.Time `json:"at"`
	RequestID         string    `json:"request_id"`
	Account           string    `json:"account"`
	Recipient         string    `json:"recipient"`
	Status            string    `json:"status"`
	Attempt           int       `json:"attempt"`
	Failure           string    `json:"failure,omitempty"`
	Detail            string    `json:"detail,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
}
