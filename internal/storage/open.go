package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "outreachd/pkg/logx"
)

// Store is the persistence sink consumed by the dispatcher.
//
// All writes are fire-and-forget from the dispatcher's point of view:
// a failing store must never block or fail the drain loop, so errors
// are logged by the caller and otherwise ignored.
type Store interface {
	// AppendAttempt records one send attempt (success or failure).
	AppendAttempt(ctx context.Context, e AttemptEntry) error

	// MarkContacted remembers that a recipient handle was reached out
	// to, valid until the given time.
	MarkContacted(ctx context.Context, handle string, until time.Time) error

	// Contacted reports whether a handle is inside its contact window.
	Contacted(ctx context.Context, handle string) (until time.Time, ok bool, err error)

	// PruneExpired drops contact records whose window has passed.
	PruneExpired(ctx context.Context) (int, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
