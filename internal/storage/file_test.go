package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	logx "outreachd/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileAttemptsAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)

	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []AttemptEntry{
		{At: at, RequestID: "r1", Account: "main", Recipient: "alice", Status: "sent", Attempt: 1, ProviderMessageID: "42"},
		{At: at.Add(time.Minute), RequestID: "r2", Account: "main", Recipient: "bob", Status: "failed", Attempt: 3, Failure: "rate_limited", Detail: "429"},
	}
	for _, e := range entries {
		if err := st.AppendAttempt(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "store.attempts.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []AttemptEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AttemptEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0].RequestID != "r1" || got[1].Failure != "rate_limited" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestFileContactWindow(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, t.TempDir())
	ctx := context.Background()

	if _, seen, err := st.Contacted(ctx, "alice"); err != nil || seen {
		t.Fatalf("fresh handle: seen=%v err=%v", seen, err)
	}

	until := time.Now().Add(time.Hour)
	if err := st.MarkContacted(ctx, "alice", until); err != nil {
		t.Fatal(err)
	}
	got, seen, err := st.Contacted(ctx, "alice")
	if err != nil || !seen {
		t.Fatalf("marked handle: seen=%v err=%v", seen, err)
	}
	if got.Sub(until).Abs() > time.Second {
		t.Fatalf("until = %v, want ~%v", got, until)
	}

	// An already expired window reads as not contacted.
	if err := st.MarkContacted(ctx, "bob", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, seen, _ := st.Contacted(ctx, "bob"); seen {
		t.Fatal("expired window still reported")
	}
}

func TestFileContactsSurviveReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	until := time.Now().Add(2 * time.Hour)

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MarkContacted(ctx, "alice", until); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2 := openTestStore(t, dir)
	_, seen, err := st2.Contacted(ctx, "alice")
	if err != nil || !seen {
		t.Fatalf("after reopen: seen=%v err=%v", seen, err)
	}
}

func TestFilePruneExpired(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, t.TempDir())
	ctx := context.Background()

	if err := st.MarkContacted(ctx, "stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkContacted(ctx, "live", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := st.PruneExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, seen, _ := st.Contacted(ctx, "live"); !seen {
		t.Fatal("live contact pruned")
	}
}

func TestFileJournalCompaction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	for i := 0; i < compactEvery; i++ {
		if err := st.MarkContacted(ctx, "user-"+strconv.Itoa(i), until); err != nil {
			t.Fatal(err)
		}
	}

	// After compaction the journal is truncated and the snapshot holds
	// the full map.
	info, err := os.Stat(filepath.Join(dir, "store.contacts.journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("journal size = %d, want 0 after compaction", info.Size())
	}
	snap, err := os.ReadFile(filepath.Join(dir, "store.contacts.snapshot.json"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]int64
	if err := json.Unmarshal(snap, &m); err != nil {
		t.Fatal(err)
	}
	if len(m) == 0 {
		t.Fatal("snapshot empty after compaction")
	}
}
