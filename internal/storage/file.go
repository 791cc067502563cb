package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "outreachd/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.attempts.jsonl        (append-only JSON Lines)
//   - <prefix>.contacts.snapshot.json (periodic snapshot)
//   - <prefix>.contacts.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	attemptsFile *os.File

	snapshotPath string
	journalFile  *os.File
	journalPath  string
	contacts     map[string]int64 // handle -> until, unix milli

	contactWrites int
}

const compactEvery = 200

type contactRecord struct {
	Handle string `json:"handle"`
	Until  int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	attemptsPath := prefix + ".attempts.jsonl"
	snapPath := prefix + ".contacts.snapshot.json"
	journalPath := prefix + ".contacts.journal.jsonl"

	af, err := os.OpenFile(attemptsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	contacts := map[string]int64{}
	_ = loadContactSnapshot(snapPath, contacts)
	_ = replayContactJournal(journalPath, contacts)
	pruneExpiredContacts(contacts, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		attemptsFile: af,
		snapshotPath: snapPath,
		journalFile:  jf,
		journalPath:  journalPath,
		contacts:     contacts,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.attemptsFile != nil {
		err1 = s.attemptsFile.Close()
		s.attemptsFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAttempt(ctx context.Context, e AttemptEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsFile == nil {
		return errors.New("attempts file closed")
	}
	return json.NewEncoder(s.attemptsFile).Encode(e)
}

func (s *fileStore) MarkContacted(ctx context.Context, handle string, until time.Time) error {
	_ = ctx
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("contact journal closed")
	}
	s.contacts[handle] = ms
	if err := json.NewEncoder(s.journalFile).Encode(contactRecord{Handle: handle, Until: ms}); err != nil {
		return err
	}
	s.contactWrites++
	if s.contactWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("contact snapshot compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Contacted(ctx context.Context, handle string) (time.Time, bool, error) {
	_ = ctx
	handle = strings.TrimSpace(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.contacts[handle]
	if !ok {
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(ms)
	if !until.After(time.Now()) {
		delete(s.contacts, handle)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *fileStore) PruneExpired(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := pruneExpiredContacts(s.contacts, time.Now())
	if n > 0 {
		if err := s.compactLocked(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// compactLocked rewrites the snapshot from memory and truncates the
// journal. Caller holds s.mu.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(s.contacts); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}

	if s.journalFile != nil {
		_ = s.journalFile.Close()
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.journalFile = nil
		return err
	}
	s.journalFile = jf
	return nil
}

func loadContactSnapshot(path string, into map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		into[k] = v
	}
	return nil
}

func replayContactJournal(path string, into map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec contactRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn tail write; stop replaying.
			break
		}
		into[rec.Handle] = rec.Until
	}
	return sc.Err()
}

func pruneExpiredContacts(m map[string]int64, now time.Time) int {
	cutoff := now.UnixMilli()
	n := 0
	for k, v := range m {
		if v <= cutoff {
			delete(m, k)
			n++
		}
	}
	return n
}
