// Package storage is the optional persistence sink for the dispatcher:
// an append-only send-attempt audit trail plus the recipient contact
// window used for outreach dedup. Two drivers: a dependency-free file
// backend and SQLite behind the "sqlite" build tag.
package storage
