//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "outreachd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAttempt(ctx context.Context, e AttemptEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(at, request_id, account, recipient, status, attempt, failure, detail, provider_message_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.RequestID, e.Account, e.Recipient,
		e.Status, e.Attempt, nullStr(e.Failure), nullStr(e.Detail), nullStr(e.ProviderMessageID),
	)
	return err
}

func (s *sqliteStore) MarkContacted(ctx context.Context, handle string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(handle, until) VALUES(?,?)
		 ON CONFLICT(handle) DO UPDATE SET until=excluded.until`,
		handle, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.PruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) Contacted(ctx context.Context, handle string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM contacts WHERE handle = ?`, handle).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms)
	if !until.After(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *sqliteStore) PruneExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE until < ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
