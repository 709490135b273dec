package schedule

import (
	"testing"
	"time"
)

func TestBackoffSecondsMonotonicAndCapped(t *testing.T) {
	t.Parallel()
	for _, base := range []int{5, 60, 600, 3600} {
		prev := 0
		for n := 1; n <= 40; n++ {
			got := BackoffSeconds(base, n)
			if got < prev {
				t.Fatalf("BackoffSeconds(%d, %d) = %d, decreased from %d", base, n, got, prev)
			}
			if got > 86400 {
				t.Fatalf("BackoffSeconds(%d, %d) = %d, exceeds one day", base, n, got)
			}
			prev = got
		}
	}
}

func TestBackoffSecondsValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base, attempt, want int
	}{
		{60, 1, 60},
		{60, 2, 120},
		{60, 3, 240},
		{5, 12, 5 * 2048},
		{5, 13, 5 * 2048},
		{5, 1000, 5 * 2048},
		{60, 0, 60},
		{60, -3, 60},
		{3600, 6, 86400},
	}
	for _, tt := range tests {
		if got := BackoffSeconds(tt.base, tt.attempt); got != tt.want {
			t.Errorf("BackoffSeconds(%d, %d) = %d, want %d", tt.base, tt.attempt, got, tt.want)
		}
	}
}

func failingEntry(maxRetries, base int) Entry {
	now := time.Unix(1_700_000_000, 0).UTC()
	return Entry{
		ID:                 "e1",
		OwnerType:          OwnerCore,
		Name:               "ping",
		ActionKey:          "http_ping",
		RunEveryMinutes:    15,
		MaxRetries:         maxRetries,
		BackoffBaseSeconds: base,
		Enabled:            true,
		NextRunAt:          &now,
	}
}

func TestDeadLetterThreshold(t *testing.T) {
	t.Parallel()
	for k := 0; k <= 6; k++ {
		e := failingEntry(k, 30)
		now := time.Unix(1_700_000_000, 0).UTC()
		for i := 1; ; i++ {
			tr := Reconcile(e, Outcome{Status: StatusError, Error: "boom"}, now)
			e = tr.Apply(e)
			if e.DeadLettered {
				if i != k+1 {
					t.Fatalf("maxRetries=%d: dead-lettered after %d failures, want %d", k, i, k+1)
				}
				if tr.FinalStatus != StatusDeadLetter {
					t.Fatalf("maxRetries=%d: final status %q, want dead_letter", k, tr.FinalStatus)
				}
				if e.NextRunAt != nil {
					t.Fatalf("maxRetries=%d: dead-lettered entry still has next run", k)
				}
				if e.RetryCount != k+1 {
					t.Fatalf("maxRetries=%d: retry count %d, want %d", k, e.RetryCount, k+1)
				}
				break
			}
			if tr.FinalStatus != StatusError {
				t.Fatalf("maxRetries=%d attempt %d: status %q, want error", k, i, tr.FinalStatus)
			}
			if i > k+1 {
				t.Fatalf("maxRetries=%d: never dead-lettered", k)
			}
			now = now.Add(time.Hour)
		}
	}
}

func TestScenarioThreeConsecutiveFailures(t *testing.T) {
	t.Parallel()
	e := failingEntry(2, 60)
	now := time.Unix(1_700_000_000, 0).UTC()
	fail := Outcome{Status: StatusError, Error: "down"}

	tr := Reconcile(e, fail, now)
	e = tr.Apply(e)
	if tr.FinalStatus != StatusError || e.RetryCount != 1 {
		t.Fatalf("after 1st: status=%s retry=%d", tr.FinalStatus, e.RetryCount)
	}
	if got := e.NextRunAt.Sub(now); got != 60*time.Second {
		t.Fatalf("after 1st: next run in %v, want 60s", got)
	}

	tr = Reconcile(e, fail, now)
	e = tr.Apply(e)
	if e.RetryCount != 2 {
		t.Fatalf("after 2nd: retry=%d, want 2", e.RetryCount)
	}
	if got := e.NextRunAt.Sub(now); got != 120*time.Second {
		t.Fatalf("after 2nd: next run in %v, want 120s", got)
	}

	tr = Reconcile(e, fail, now)
	e = tr.Apply(e)
	if tr.FinalStatus != StatusDeadLetter || !e.DeadLettered || e.NextRunAt != nil {
		t.Fatalf("after 3rd: status=%s dead=%v next=%v", tr.FinalStatus, e.DeadLettered, e.NextRunAt)
	}
	if e.DeadLetteredAt == nil || !e.DeadLetteredAt.Equal(now) {
		t.Fatalf("after 3rd: dead_lettered_at=%v, want %v", e.DeadLetteredAt, now)
	}
}

func TestNonErrorOutcomeResetsRetryCount(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0).UTC()
	for _, st := range []Status{StatusSuccess, StatusSkipped, StatusBlocked} {
		e := failingEntry(10, 60)
		e.RetryCount = 7
		tr := Reconcile(e, Outcome{Status: st}, now)
		if tr.RetryCount != 0 {
			t.Fatalf("%s: retry count %d, want 0", st, tr.RetryCount)
		}
		if tr.FinalStatus != st {
			t.Fatalf("%s: final status %s", st, tr.FinalStatus)
		}
		if tr.NextRunAt == nil || tr.NextRunAt.Sub(now) != 15*time.Minute {
			t.Fatalf("%s: next run %v, want now+15m", st, tr.NextRunAt)
		}
		if tr.DeadLettered {
			t.Fatalf("%s: unexpectedly dead-lettered", st)
		}
	}
}

// Blocked is a precondition failure; it resumes the normal cadence and
// clears the failure streak rather than backing off.
func TestBlockedResetsBackoffPosture(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0).UTC()
	e := failingEntry(1, 60)
	e = Reconcile(e, Outcome{Status: StatusError}, now).Apply(e)
	if e.RetryCount != 1 {
		t.Fatalf("retry count %d, want 1", e.RetryCount)
	}
	e = Reconcile(e, Outcome{Status: StatusBlocked, Error: "precondition"}, now).Apply(e)
	if e.RetryCount != 0 || e.LastStatus != StatusBlocked || e.LastError != "precondition" {
		t.Fatalf("after blocked: retry=%d status=%s err=%q", e.RetryCount, e.LastStatus, e.LastError)
	}
	// Another error starts a fresh streak instead of dead-lettering.
	e = Reconcile(e, Outcome{Status: StatusError}, now).Apply(e)
	if e.DeadLettered {
		t.Fatal("blocked outcome should have reset the streak")
	}
}

func TestReconcileManualKeepsQuarantine(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0).UTC()
	dlAt := now.Add(-time.Hour)
	e := failingEntry(2, 60)
	e.DeadLettered = true
	e.DeadLetteredAt = &dlAt
	e.RetryCount = 3
	e.NextRunAt = nil

	tr := ReconcileManual(e, Outcome{Status: StatusSuccess}, now)
	if !tr.DeadLettered || tr.NextRunAt != nil {
		t.Fatalf("manual success lifted quarantine: dead=%v next=%v", tr.DeadLettered, tr.NextRunAt)
	}
	if tr.DeadLetteredAt == nil || !tr.DeadLetteredAt.Equal(dlAt) {
		t.Fatalf("dead_lettered_at changed to %v", tr.DeadLetteredAt)
	}
	if tr.FinalStatus != StatusSuccess || tr.RetryCount != 0 {
		t.Fatalf("status=%s retry=%d", tr.FinalStatus, tr.RetryCount)
	}

	tr = ReconcileManual(e, Outcome{Status: StatusError, Error: "x"}, now)
	if tr.FinalStatus != StatusDeadLetter || tr.RetryCount != 3 {
		t.Fatalf("manual error on quarantined entry: status=%s retry=%d", tr.FinalStatus, tr.RetryCount)
	}
}

func TestReconcileManualOnHealthyEntryMatchesCron(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0).UTC()
	e := failingEntry(2, 60)
	a := Reconcile(e, Outcome{Status: StatusSuccess}, now)
	b := ReconcileManual(e, Outcome{Status: StatusSuccess}, now)
	if a.NextRunAt == nil || b.NextRunAt == nil || !a.NextRunAt.Equal(*b.NextRunAt) {
		t.Fatalf("next runs differ: %v vs %v", a.NextRunAt, b.NextRunAt)
	}
}
