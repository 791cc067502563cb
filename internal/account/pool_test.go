package account

import (
	"testing"
	"time"

	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

func testPool(t *testing.T, cfgs []Config, limits Limits) *Pool {
	t.Helper()
	p, err := New(cfgs, limits, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func twoAccounts() []Config {
	return []Config{
		{Name: "alpha", Secret: "s1", Priority: 1},
		{Name: "beta", Secret: "s2"},
	}
}

func TestNewSkipsInvalidAndFailsOnEmpty(t *testing.T) {
	t.Parallel()
	p, err := New([]Config{
		{Name: "", Secret: "x"},
		{Name: "ok", Secret: "y"},
		{Name: "nosecret"},
	}, Limits{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Names(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("Names = %v, want [ok]", got)
	}

	if _, err := New([]Config{{Name: "", Secret: ""}}, Limits{}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error when no usable accounts remain")
	}
}

func TestAcquireScanOrderByPriority(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{
		{Name: "low", Secret: "s"},
		{Name: "high", Secret: "s", Priority: 5},
	}, Limits{MinGap: time.Minute})

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	name, ok := p.Acquire(now)
	if !ok || name != "high" {
		t.Fatalf("Acquire = %q (%v), want high", name, ok)
	}
}

func TestHourlyLimitAndMinGap(t *testing.T) {
	t.Parallel()
	p := testPool(t, twoAccounts(), Limits{HourlySends: 1, MinGap: 3 * time.Minute})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	a1, ok := p.Acquire(now)
	if !ok {
		t.Fatal("expected an account")
	}
	p.RecordSuccess(a1, now)

	// Same account is blocked by hourly limit; the other one takes over.
	a2, ok := p.Acquire(now.Add(time.Second))
	if !ok {
		t.Fatal("expected second account")
	}
	if a2 == a1 {
		t.Fatalf("expected rotation away from %q", a1)
	}
	p.RecordSuccess(a2, now.Add(time.Second))

	// Both at hourly limit now.
	if name, ok := p.Acquire(now.Add(2 * time.Second)); ok {
		t.Fatalf("expected exhaustion, got %q", name)
	}

	// Next hour: counters roll over lazily, but min gap still applies
	// right at the boundary only for accounts that sent recently.
	later := now.Add(time.Hour)
	if _, ok := p.Acquire(later); !ok {
		t.Fatal("expected an account after hourly rollover")
	}
}

func TestMinGapBlocksRecentSender(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{MinGap: 3 * time.Minute})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	p.RecordSuccess("solo", now)
	if _, ok := p.Acquire(now.Add(time.Minute)); ok {
		t.Fatal("account selectable inside min gap")
	}
	if _, ok := p.Acquire(now.Add(3 * time.Minute)); !ok {
		t.Fatal("account not selectable after min gap")
	}
}

func TestDailyLimitRollsOverAtMidnight(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{DailySends: 2, HourlySends: 100, MinGap: time.Nanosecond})
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)

	p.RecordSuccess("solo", now)
	p.RecordSuccess("solo", now.Add(time.Minute))
	if _, ok := p.Acquire(now.Add(2 * time.Minute)); ok {
		t.Fatal("account selectable past daily limit")
	}

	nextDay := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	if _, ok := p.Acquire(nextDay); !ok {
		t.Fatal("daily counter did not roll over")
	}
	st := p.Snapshot(nextDay)[0]
	if st.SentToday != 0 {
		t.Fatalf("SentToday = %d after rollover, want 0", st.SentToday)
	}
}

func TestRecordFailureCooldowns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind     transport.FailureKind
		cooldown time.Duration
	}{
		{transport.FailureRateLimited, 6 * time.Hour},
		{transport.FailureChallenge, 24 * time.Hour},
		{transport.FailureSpamFlag, 24 * time.Hour},
		{transport.FailureUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{})
			now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
			p.RecordFailure("solo", tt.kind, now)

			st := p.Snapshot(now)[0]
			if st.Warnings != 1 {
				t.Fatalf("Warnings = %d, want 1", st.Warnings)
			}
			if tt.cooldown == 0 {
				if !st.CooldownUntil.IsZero() {
					t.Fatalf("unexpected cooldown %v", st.CooldownUntil)
				}
				return
			}
			want := now.Add(tt.cooldown)
			if !st.CooldownUntil.Equal(want) {
				t.Fatalf("CooldownUntil = %v, want %v", st.CooldownUntil, want)
			}
			if st.State != StateCoolingDown {
				t.Fatalf("State = %s, want cooling_down", st.State)
			}
			if _, ok := p.Acquire(now.Add(time.Minute)); ok {
				t.Fatal("cooling account selectable")
			}
			if _, ok := p.Acquire(want.Add(time.Minute)); !ok {
				t.Fatal("account not selectable after cooldown expiry")
			}
		})
	}
}

func TestChallengeFlagsAccount(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{})
	now := time.Now()
	p.RecordFailure("solo", transport.FailureChallenge, now)
	if st := p.Snapshot(now)[0]; !st.Flagged {
		t.Fatal("challenge_required did not flag the account")
	}
}

func TestWarningThresholdDisables(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	p.RecordFailure("solo", transport.FailureUnknown, now)
	p.RecordFailure("solo", transport.FailureUnknown, now)
	if st := p.Snapshot(now)[0]; st.State == StateDisabled {
		t.Fatal("disabled before threshold")
	}
	p.RecordFailure("solo", transport.FailureUnknown, now)

	st := p.Snapshot(now)[0]
	if st.State != StateDisabled {
		t.Fatalf("State = %s, want disabled", st.State)
	}
	// Disabled overrides everything; never selectable again.
	if _, ok := p.Acquire(now.Add(100 * time.Hour)); ok {
		t.Fatal("disabled account selectable")
	}
}

func TestResetLimitsRestoresAccount(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p.RecordFailure("solo", transport.FailureRateLimited, now)
	}
	p.RecordSuccess("solo", now)
	if st := p.Snapshot(now)[0]; st.State != StateDisabled {
		t.Fatalf("precondition: State = %s, want disabled", st.State)
	}

	if err := p.ResetLimits("solo"); err != nil {
		t.Fatalf("ResetLimits: %v", err)
	}
	st := p.Snapshot(now)[0]
	if st.State != StateActive || st.Warnings != 0 || st.SentToday != 0 || !st.CooldownUntil.IsZero() {
		t.Fatalf("reset left residual state: %+v", st)
	}
	if _, ok := p.Acquire(now); !ok {
		t.Fatal("reset account not selectable")
	}

	if err := p.ResetLimits("nope"); err == nil {
		t.Fatal("expected ErrUnknownAccount")
	}
}

func TestFollowAndLikeBudgets(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{DailyFollows: 1, DailyLikes: 1})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := p.RecordFollow("solo", now); err != nil {
		t.Fatalf("RecordFollow: %v", err)
	}
	if err := p.RecordFollow("solo", now); err == nil {
		t.Fatal("expected follow limit error")
	}
	if err := p.RecordLike("solo", now); err != nil {
		t.Fatalf("RecordLike: %v", err)
	}
	if err := p.RecordLike("solo", now); err == nil {
		t.Fatal("expected like limit error")
	}
	// New day clears both budgets.
	if err := p.RecordFollow("solo", now.Add(24*time.Hour)); err != nil {
		t.Fatalf("RecordFollow after rollover: %v", err)
	}
}

func TestBanBlocksSelection(t *testing.T) {
	t.Parallel()
	p := testPool(t, []Config{{Name: "solo", Secret: "s"}}, Limits{})
	if err := p.Ban("solo"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, ok := p.Acquire(time.Now()); ok {
		t.Fatal("banned account selectable")
	}
	if st := p.Snapshot(time.Now())[0]; st.State != StateBanned {
		t.Fatalf("State = %s, want banned", st.State)
	}
}
